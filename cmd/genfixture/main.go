// Command genfixture generates a self-consistent set of local test fixtures:
// a dataset listing page, borough and ward CSV resources, and the combined
// rows the pipeline should produce from them. It runs the actual domain
// reconcile and merge code so the expectation file tracks real behavior.
//
// Usage:
//
//	go run ./cmd/genfixture -out data/fixtures
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

const listingPage = `<!DOCTYPE html>
<html><body>
<h1>Recorded Crime Summary</h1>
<div class="dp-container">
  <div class="dp-resource__title">MPS Borough Level Crime (Historical)</div>
  <a class="dp-resource__format" href="/download/recorded_crime_summary/fixture/MPS%20Borough%20Level%20Crime%20%28Historical%29.csv">csv</a>
  <div class="dp-temporalcoverage">From 01/01/2020 To 29/02/2020</div>
</div>
<div class="dp-container">
  <div class="dp-resource__title">MPS Ward Level Crime</div>
  <a class="dp-resource__format" href="/download/recorded_crime_summary/fixture/MPS%20Ward%20Level%20Crime.csv">csv</a>
  <div class="dp-temporalcoverage">From 01/01/2020 To 31/03/2020</div>
</div>
</body></html>
`

var boroughRows = []struct {
	major, minor, borough string
	counts                map[string]int
}{
	{"Burglary", "Residential", "Camden", map[string]int{"202001": 5, "202002": 7}},
	{"Burglary", "Residential", "Brent", map[string]int{"202001": 3}},
	{"Robbery", "Personal Robbery", "Westminster", map[string]int{"202001": 2, "202002": 0}},
	{"Theft", "Other Theft", "Kensington & Chelsea", map[string]int{"202002": 11}},
}

var wardRows = []struct {
	major, minor, borough, ward string
	counts                      map[string]int
}{
	{"Burglary", "Residential", "Camden", "Holborn", map[string]int{"202002": 4}},
	{"Burglary", "Residential", "Camden", "Gospel Oak", map[string]int{"202002": 6}},
	{"Robbery", "Personal Robbery", "Westminster", "St James's", map[string]int{"202002": 1}},
}

var periods = []string{"202001", "202002"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "output directory for fixture files")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	files := map[string]string{
		"listing.html": listingPage,
		"MPS Borough Level Crime (Historical).csv": boroughCSV(),
		"MPS Ward Level Crime.csv":                 wardCSV(),
	}
	for name, content := range files {
		path := filepath.Join(*outDir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}

	combined, err := expectedCombined()
	if err != nil {
		return err
	}
	path := filepath.Join(*outDir, "expected_combined.json")
	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s (%d rows)", path, len(combined))
	return nil
}

func boroughCSV() string {
	var b strings.Builder
	b.WriteString("MajorText,MinorText,BoroughName," + strings.Join(periods, ",") + "\n")
	for _, r := range boroughRows {
		b.WriteString(fmt.Sprintf("%s,%s,%s%s\n", r.major, r.minor, r.borough, countCells(r.counts)))
	}
	return b.String()
}

func wardCSV() string {
	var b strings.Builder
	b.WriteString("MajorText,MinorText,LookUp_BoroughName,WardName," + strings.Join(periods, ",") + "\n")
	for _, r := range wardRows {
		b.WriteString(fmt.Sprintf("%s,%s,%s,%s%s\n", r.major, r.minor, r.borough, r.ward, countCells(r.counts)))
	}
	return b.String()
}

func countCells(counts map[string]int) string {
	var b strings.Builder
	for _, p := range periods {
		if n, ok := counts[p]; ok {
			b.WriteString(fmt.Sprintf(",%d", n))
		} else {
			b.WriteString(",")
		}
	}
	return b.String()
}

// expectedCombined replays the fixture rows through the real reconciler and
// merge policy, borough resource first with the older vintage.
func expectedCombined() ([]domain.CombinedRow, error) {
	reconciler := domain.NewReconciler(
		domain.DefaultGeographyAliases(),
		domain.DefaultMajorAliases(),
		domain.DefaultMinorAliases(),
		domain.DefaultExcludedGeographies(),
	)

	table := domain.NewCombinedTable()

	boroughVintage := time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)
	var batch []domain.CanonicalRecord
	for _, r := range boroughRows {
		records, err := reconciler.Reconcile(rawRecord(domain.KindBorough, r.borough, r.borough, r.major, r.minor, r.counts))
		if err != nil {
			return nil, fmt.Errorf("borough fixture row %q: %w", r.borough, err)
		}
		batch = append(batch, records...)
	}
	domain.Merge(table, batch, boroughVintage)

	wardVintage := time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)
	batch = batch[:0]
	for _, r := range wardRows {
		records, err := reconciler.Reconcile(rawRecord(domain.KindWard, r.ward, r.borough, r.major, r.minor, r.counts))
		if err != nil {
			return nil, fmt.Errorf("ward fixture row %q: %w", r.ward, err)
		}
		batch = append(batch, records...)
	}
	domain.Merge(table, batch, wardVintage)

	return table.Rows(), nil
}

func rawRecord(kind domain.SourceKind, geography, borough, major, minor string, counts map[string]int) domain.RawRecord {
	rec := domain.RawRecord{
		Kind: kind, Geography: geography, Borough: borough, Major: major, Minor: minor,
	}
	for _, p := range periods {
		value := ""
		if n, ok := counts[p]; ok {
			value = fmt.Sprint(n)
		}
		rec.Counts = append(rec.Counts, domain.PeriodCount{Period: p, Value: value})
	}
	return rec
}
