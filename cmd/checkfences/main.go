// Command checkfences reports which fences in a GeoJSON FeatureCollection the
// evaluator can use and which it will skip, before they are seeded.
//
// Usage:
//
//	go run ./cmd/checkfences -file data/sample_fences.geojson
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/paulmach/orb/geojson"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "data/sample_fences.geojson", "GeoJSON FeatureCollection of fences")
	strict := flag.Bool("strict", false, "treat fences the evaluator would skip as failures")
	flag.Parse()

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(os.Stdout, data, *strict))
}

func run(w io.Writer, data []byte, strict bool) int {
	fmt.Fprintln(w, "=== Fence Collection Check ===")

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		fmt.Fprintf(w, "FATAL: decode feature collection: %v\n", err)
		return 1
	}

	phases := []*phase{
		checkGeometry(fc, strict),
		checkProperties(fc),
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-28s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nFeatures: %d\n", len(fc.Features))

	for _, p := range phases {
		for _, msg := range p.warnings {
			fmt.Fprintf(w, "  warn: %s\n", msg)
		}
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll checks passed.")
		return 0
	}
	fmt.Fprintln(w, "\nCheck FAILED.")
	return 1
}

// checkGeometry decodes each geometry exactly as the evaluator will and
// verifies the representative point is a valid coordinate.
func checkGeometry(fc *geojson.FeatureCollection, strict bool) *phase {
	p := &phase{name: "Geometry"}
	for i, f := range fc.Features {
		label := featureLabel(i, f)
		if f.Geometry == nil {
			p.errorf("%s: missing geometry", label)
			continue
		}
		raw, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			p.errorf("%s: encode geometry: %v", label, err)
			continue
		}
		pt, err := domain.Fence{Geometry: raw}.RepresentativePoint()
		if err != nil {
			if strict {
				p.errorf("%s: %v", label, err)
			} else {
				p.warnf("%s will be skipped: %v", label, err)
			}
			continue
		}
		if pt.Lat() < -90 || pt.Lat() > 90 || pt.Lon() < -180 || pt.Lon() > 180 {
			p.errorf("%s: representative point %v is out of range (coordinates must be [lon, lat])", label, pt)
		}
	}
	return p
}

// checkProperties verifies the properties the evaluator reads.
func checkProperties(fc *geojson.FeatureCollection) *phase {
	p := &phase{name: "Properties"}
	names := make(map[string]int)
	for i, f := range fc.Features {
		label := featureLabel(i, f)
		if v, ok := f.Properties["is_active"]; ok {
			if _, isBool := v.(bool); !isBool {
				p.errorf("%s: is_active must be a boolean, got %T", label, v)
			}
		}
		name := f.Properties.MustString("name", "")
		if name == "" {
			p.warnf("%s has no name; alert emails will not identify it", label)
			continue
		}
		if prev, dup := names[name]; dup {
			p.warnf("%s shares its name with feature %d", label, prev)
		}
		names[name] = i
	}
	return p
}

func featureLabel(i int, f *geojson.Feature) string {
	if name := f.Properties.MustString("name", ""); name != "" {
		return fmt.Sprintf("feature %d (%s)", i, name)
	}
	return fmt.Sprintf("feature %d", i)
}
