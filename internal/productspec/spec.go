// Package productspec parses and serializes product specifiers of the form
//
//	name[-version][[label,label,...]][@revision]
//
// e.g. "firefox-99[experimental,beta]@abc123". Parsing is deliberately
// permissive: product names are never checked against a known set, and the only
// rejected input is a label list that opens with '[' but does not end in ']'.
package productspec

import (
	"sort"
	"strings"
)

// LatestRevision is the revision keyword meaning "no specific revision pinned".
const LatestRevision = "latest"

// ExperimentalLabel is the implicit label present for runs marked experimental.
const ExperimentalLabel = "experimental"

// Product is a browser name with an optional version.
type Product struct {
	BrowserName    string `json:"browser_name"`
	BrowserVersion string `json:"browser_version,omitempty"`
}

func (p Product) String() string {
	if p.BrowserVersion == "" {
		return p.BrowserName
	}
	return p.BrowserName + "-" + p.BrowserVersion
}

// ProductSpec is a parsed product spec string.
// Labels are unique and keep their first-seen order.
type ProductSpec struct {
	Product

	Labels   []string
	Revision string
}

// ProductSpecs is a helper type for a slice of ProductSpec values.
type ProductSpecs []ProductSpec

// IsLatest returns whether the revision is empty or "latest", both of which
// mean the latest run for the product.
func IsLatest(revision string) bool {
	return revision == "" || revision == LatestRevision
}

// Parse parses a product spec string. Stages run outermost first (revision,
// then labels, then name/version) and each strips its own syntax before the
// next looks at the string.
func Parse(spec string) (ProductSpec, error) {
	var result ProductSpec
	rest := spec

	// @revision (optional)
	if at := strings.Index(rest, "@"); at > 0 {
		result.Revision = rest[at+1:]
		rest = rest[:at]
	}

	// [foo,bar] labels (optional)
	if open := strings.Index(rest, "["); open > 0 {
		inner := rest[open+1:]
		if !strings.HasSuffix(inner, "]") {
			return ProductSpec{}, &MalformedSpecError{Spec: spec, Reason: "expected closing bracket"}
		}
		result.Labels = dedupe(strings.Split(strings.TrimSuffix(inner, "]"), ","))
		rest = rest[:open]
	}

	result.Product = ParseProduct(rest)
	return result, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level defaults and tests.
func MustParse(spec string) ProductSpec {
	p, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseAll parses each spec, stopping at the first malformed one.
func ParseAll(specs ...string) (ProductSpecs, error) {
	products := make(ProductSpecs, len(specs))
	for i, s := range specs {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		products[i] = p
	}
	return products, nil
}

// ParseProduct splits a bare product name on its first '-' into name and
// version. A leading '-' does not split, so names are never empty unless the
// input is.
func ParseProduct(name string) Product {
	if dash := strings.Index(name, "-"); dash > 0 {
		return Product{BrowserName: name[:dash], BrowserVersion: name[dash+1:]}
	}
	return Product{BrowserName: name}
}

// String serializes the spec back to its canonical text. A "latest" revision
// is dropped, so re-parsing yields an empty revision.
func (p ProductSpec) String() string {
	var b strings.Builder
	b.WriteString(p.Product.String())
	if len(p.Labels) > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Join(p.Labels, ","))
		b.WriteByte(']')
	}
	if !IsLatest(p.Revision) {
		b.WriteByte('@')
		b.WriteString(p.Revision)
	}
	return b.String()
}

// Serialize is the function form of ProductSpec.String.
func Serialize(p ProductSpec) string {
	return p.String()
}

// HasLabel reports whether the spec carries the given label.
func (p ProductSpec) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsExperimental returns true if the spec is restricted to experimental runs.
func (p ProductSpec) IsExperimental() bool {
	return p.HasLabel(ExperimentalLabel)
}

// WithoutVersion returns a copy of the spec with the version dropped.
func (p ProductSpec) WithoutVersion() ProductSpec {
	q := p.clone()
	q.BrowserVersion = ""
	return q
}

// WithLabels returns a copy of the spec carrying the given labels, deduplicated.
func (p ProductSpec) WithLabels(labels ...string) ProductSpec {
	q := p.clone()
	q.Labels = dedupe(labels)
	return q
}

func (p ProductSpec) clone() ProductSpec {
	q := p
	if p.Labels != nil {
		q.Labels = append([]string(nil), p.Labels...)
	}
	return q
}

// Strings returns the canonical string for each spec.
func (ps ProductSpecs) Strings() []string {
	result := make([]string, len(ps))
	for i, p := range ps {
		result[i] = p.String()
	}
	return result
}

func (ps ProductSpecs) Len() int           { return len(ps) }
func (ps ProductSpecs) Swap(i, j int)      { ps[i], ps[j] = ps[j], ps[i] }
func (ps ProductSpecs) Less(i, j int) bool { return ps[i].String() < ps[j].String() }

// Sorted returns a copy sorted by canonical string.
func (ps ProductSpecs) Sorted() ProductSpecs {
	out := append(ProductSpecs(nil), ps...)
	sort.Sort(out)
	return out
}

// dedupe drops repeated labels, keeping the first occurrence.
func dedupe(labels []string) []string {
	if labels == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
