// Command genmock reads tracker CSV files and generates OwnTracks location
// fixtures for local runs and the integration suite. Each row is parsed with
// the service's own domain package so the fixture carries the record IDs the
// pipeline will assign.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/tracks.csv \
//	  -out data/mock/owntracks_locations.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/location-geocoder/internal/domain"
)

var baseDate = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

// fixtureEntry pairs the published payload with the record ID it produces.
type fixtureEntry struct {
	RecordID string                 `json:"record_id"`
	Message  domain.LocationMessage `json:"message"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "CSV file with tid,lat,lon,acc columns")
	out := flag.String("out", "", "output path for the JSON fixture")
	step := flag.Duration("step", time.Minute, "time between consecutive reports of one tracker")
	flag.Parse()

	if *csvPath == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -out")
	}

	entries, err := processCSV(*csvPath, *step)
	if err != nil {
		return fmt.Errorf("processing %s: %w", *csvPath, err)
	}
	log.Printf("total: %d reports", len(entries))

	if err := writeJSON(*out, entries); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s", *out)

	printStats(entries)
	return nil
}

func processCSV(path string, step time.Duration) ([]fixtureEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	seen := map[string]int{}
	entries := make([]fixtureEntry, 0, len(rows)-1)

	for n, row := range rows[1:] {
		lat, err := strconv.ParseFloat(get(row, colIdx, "lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: lat: %w", n+2, err)
		}
		lon, err := strconv.ParseFloat(get(row, colIdx, "lon"), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: lon: %w", n+2, err)
		}
		acc, _ := strconv.ParseFloat(get(row, colIdx, "acc"), 64)

		tid := get(row, colIdx, "tid")
		msg := domain.LocationMessage{
			Type:      "location",
			TrackerID: tid,
			Lat:       lat,
			Lon:       lon,
			Accuracy:  acc,
			Timestamp: baseDate.Add(time.Duration(seen[tid]) * step).Unix(),
		}
		seen[tid]++

		// Run the actual parser so IDs match what the pipeline assigns.
		value, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		rec, err := domain.ParseLocationMessage(domain.RawEvent{Value: value, Timestamp: baseDate})
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}

		entries = append(entries, fixtureEntry{RecordID: rec.ID, Message: msg})
	}

	return entries, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type trackerCount struct {
	tid   string
	count int
}

func printStats(entries []fixtureEntry) {
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Message.TrackerID]++
	}

	tc := make([]trackerCount, 0, len(counts))
	for tid, c := range counts {
		tc = append(tc, trackerCount{tid, c})
	}
	sort.Slice(tc, func(i, j int) bool { return tc[i].count > tc[j].count })

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(entries))
	fmt.Printf("Trackers (%d): ", len(tc))
	for _, t := range tc {
		fmt.Printf("%s=%d ", t.tid, t.count)
	}
	fmt.Println()

	if len(entries) > 0 {
		first := entries[0]
		fmt.Printf("\nFirst report:\n")
		fmt.Printf("  ID: %s\n", first.RecordID)
		fmt.Printf("  Lat: %g, Lon: %g\n", first.Message.Lat, first.Message.Lon)
		fmt.Printf("  Time: %s\n", time.Unix(first.Message.Timestamp, 0).UTC().Format(time.RFC3339))
	}
}
