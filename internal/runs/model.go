// Package runs holds test-run metadata and matches it against product specs.
package runs

import (
	"slices"
	"strings"
	"time"

	"wptspec/internal/productspec"
)

// TestRun stores metadata for one run of the test suite against one product.
type TestRun struct {
	ID int64 `json:"id"`

	BrowserName    string `json:"browser_name"`
	BrowserVersion string `json:"browser_version"`
	OSName         string `json:"os_name"`
	OSVersion      string `json:"os_version"`

	// The first 10 characters of the tested revision.
	Revision string `json:"revision"`
	// The complete SHA1 of the tested revision.
	FullRevisionHash string `json:"full_revision_hash"`

	ResultsURL    string    `json:"results_url"`
	RawResultsURL string    `json:"raw_results_url"`
	CreatedAt     time.Time `json:"created_at"`
	TimeStart     time.Time `json:"time_start"`
	TimeEnd       time.Time `json:"time_end"`

	Labels []string `json:"labels"`
}

// Product returns the run's product.
func (r TestRun) Product() productspec.Product {
	return productspec.Product{BrowserName: r.BrowserName, BrowserVersion: r.BrowserVersion}
}

// Spec returns the most specific spec describing the run.
func (r TestRun) Spec() productspec.ProductSpec {
	return productspec.ProductSpec{
		Product:  r.Product(),
		Labels:   append([]string(nil), r.Labels...),
		Revision: r.Revision,
	}
}

// HasLabel reports whether the run carries label.
func (r TestRun) HasLabel(label string) bool {
	return slices.Contains(r.Labels, label)
}

// Matches reports whether run satisfies spec: same browser, same revision
// unless the spec asks for latest, every spec label present on the run, and
// the spec version a dot-boundary prefix of the run's version.
func Matches(spec productspec.ProductSpec, run TestRun) bool {
	if run.BrowserName != spec.BrowserName {
		return false
	}
	if !productspec.IsLatest(spec.Revision) && spec.Revision != run.Revision {
		return false
	}
	for _, l := range spec.Labels {
		if !run.HasLabel(l) {
			return false
		}
	}
	if spec.BrowserVersion != "" {
		// Make "6" not match "60.123" by adding trailing dots to both.
		if !strings.HasPrefix(run.BrowserVersion+".", spec.BrowserVersion+".") {
			return false
		}
	}
	return true
}

// Filter returns the runs matching any of specs, in input order.
func Filter(runs []TestRun, specs ...productspec.ProductSpec) []TestRun {
	var out []TestRun
	for _, r := range runs {
		for _, s := range specs {
			if Matches(s, r) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
