// Package labels holds the dashboard's label vocabulary and keeps a flat
// labels list in sync with single-select "semantic" fields such as channel
// and source.
package labels

import (
	"regexp"
	"slices"
	"strings"

	"wptspec/internal/productspec"
)

// Any is the field value meaning "no label from this group selected".
const Any = "any"

// Group is a named set of mutually exclusive labels, exposed to users as one
// single-select field. At most one of Values may be present in a spec's labels.
type Group struct {
	Field  string
	Values []string
}

// Contains reports whether label is one of the group's candidates.
func (g Group) Contains(label string) bool {
	return slices.Contains(g.Values, label)
}

// Catalog is the immutable label and display vocabulary. Build one with
// NewCatalog at startup and share it; none of its methods mutate it.
type Catalog struct {
	displayNames     map[string]string
	defaultBrowsers  []string
	groups           []Group
	minorSignificant map[string]struct{}
}

// CatalogOptions configures NewCatalog.
type CatalogOptions struct {
	DisplayNames     map[string]string
	DefaultBrowsers  []string
	Groups           []Group
	MinorSignificant []string
}

// NewCatalog copies opts into an immutable Catalog.
func NewCatalog(opts CatalogOptions) *Catalog {
	c := &Catalog{
		displayNames:     make(map[string]string, len(opts.DisplayNames)),
		defaultBrowsers:  append([]string(nil), opts.DefaultBrowsers...),
		groups:           make([]Group, len(opts.Groups)),
		minorSignificant: make(map[string]struct{}, len(opts.MinorSignificant)),
	}
	for k, v := range opts.DisplayNames {
		c.displayNames[k] = v
	}
	for i, g := range opts.Groups {
		c.groups[i] = Group{Field: g.Field, Values: append([]string(nil), g.Values...)}
	}
	for _, b := range opts.MinorSignificant {
		c.minorSignificant[b] = struct{}{}
	}
	return c
}

// DefaultCatalog returns the dashboard's built-in vocabulary.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultCatalogOptions())
}

// DefaultCatalogOptions returns the options behind DefaultCatalog.
func DefaultCatalogOptions() CatalogOptions {
	names := map[string]string{
		"uc":      "UC Browser",
		"android": "Android",
		"linux":   "Linux",
		"macos":   "macOS",
		"windows": "Windows",

		"stable":       "Stable",
		"beta":         "Beta",
		"experimental": "Experimental",
		"dev":          "Dev",
		"preview":      "Technology Preview",
		"nightly":      "Nightly",

		"taskcluster": "Taskcluster",
		"buildbot":    "Buildbot",
		"msedge":      "MS Edge",
		"azure":       "Azure",
	}
	for browser, display := range map[string]string{
		"chrome": "Chrome", "edge": "Edge", "firefox": "Firefox", "safari": "Safari",
	} {
		names[browser] = display
		names[browser+"-experimental"] = display
	}
	return CatalogOptions{
		DisplayNames:    names,
		DefaultBrowsers: []string{"chrome", "edge", "firefox", "safari"},
		Groups: []Group{
			{Field: "channel", Values: []string{"stable", "beta", "experimental"}},
			{Field: "source", Values: []string{"buildbot", "taskcluster", "msedge", "azure"}},
		},
		MinorSignificant: []string{"safari"},
	}
}

// Groups returns a copy of the semantic groups in declaration order.
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{Field: g.Field, Values: append([]string(nil), g.Values...)}
	}
	return out
}

// Group looks up a semantic group by field name.
func (c *Catalog) Group(field string) (Group, bool) {
	for _, g := range c.groups {
		if g.Field == field {
			return Group{Field: g.Field, Values: append([]string(nil), g.Values...)}, true
		}
	}
	return Group{}, false
}

// DisplayName returns the human-readable name for a browser, OS or label,
// falling back to name itself.
func (c *Catalog) DisplayName(name string) string {
	if d, ok := c.displayNames[name]; ok {
		return d
	}
	return name
}

// DisplayLabels joins labels for display.
func (c *Catalog) DisplayLabels(labels []string) string {
	return strings.Join(labels, ", ")
}

// DefaultBrowsers returns the browsers shown when no products are requested.
func (c *Catalog) DefaultBrowsers() []string {
	return append([]string(nil), c.defaultBrowsers...)
}

// DefaultProducts returns one unlabelled spec per default browser.
func (c *Catalog) DefaultProducts() productspec.ProductSpecs {
	out := make(productspec.ProductSpecs, len(c.defaultBrowsers))
	for i, b := range c.defaultBrowsers {
		out[i] = productspec.ProductSpec{Product: productspec.Product{BrowserName: b}}
	}
	return out
}

var (
	majorPattern         = regexp.MustCompile(`(\d+)`)
	majorAndMinorPattern = regexp.MustCompile(`(\d+\.\d+)`)
)

// MinorIsSignificant reports whether the browser's minor version is shown.
func (c *Catalog) MinorIsSignificant(browserName string) bool {
	_, ok := c.minorSignificant[browserName]
	return ok
}

// ShortVersion truncates a version to the most salient part for the browser:
// major for most, major.minor where the minor is significant. Versions that
// don't match are returned unchanged.
func (c *Catalog) ShortVersion(browserName, browserVersion string) string {
	pattern := majorPattern
	if c.MinorIsSignificant(browserName) {
		pattern = majorAndMinorPattern
	}
	m := pattern.FindStringSubmatch(browserVersion)
	if m == nil {
		return browserVersion
	}
	return m[1]
}
