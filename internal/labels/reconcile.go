package labels

import (
	"slices"

	"wptspec/internal/logging"
	"wptspec/internal/productspec"
)

// FieldsFromLabels computes every group's field value from labels: the first
// label, in labels order, that belongs to the group, or Any.
func FieldsFromLabels(labels []string, groups []Group) map[string]string {
	fields := make(map[string]string, len(groups))
	for _, g := range groups {
		fields[g.Field] = fieldValue(labels, g)
	}
	return fields
}

func fieldValue(labels []string, g Group) string {
	for _, l := range labels {
		if g.Contains(l) {
			return l
		}
	}
	return Any
}

// LabelsFromField applies a change of one semantic field to labels: the
// previous value is removed and the new one appended unless it is Any or
// already present. It returns a fresh slice and whether it differs from the
// input; labels itself is never modified.
//
// An initial assignment of Any (empty previous) is always a no-op, so a field
// initialised to Any never produces a labels update.
func LabelsFromField(labels []string, group Group, newValue, oldValue string) ([]string, bool) {
	isAny := newValue == "" || newValue == Any
	if oldValue == "" && isAny {
		return labels, false
	}

	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if oldValue != "" && l == oldValue {
			continue
		}
		out = append(out, l)
	}
	if !isAny && !slices.Contains(out, newValue) {
		out = append(out, newValue)
	}

	if slices.Equal(out, labels) {
		return labels, false
	}
	logging.LabelsDebug("%s: %q -> %q, labels %v -> %v", group.Field, oldValue, newValue, labels, out)
	return out, true
}

// WithGroupValue returns a copy of spec whose label from group is replaced by
// value (or removed when value is Any).
func WithGroupValue(spec productspec.ProductSpec, group Group, value string) productspec.ProductSpec {
	kept := make([]string, 0, len(spec.Labels)+1)
	for _, l := range spec.Labels {
		if !group.Contains(l) {
			kept = append(kept, l)
		}
	}
	if value != "" && value != Any {
		kept = append(kept, value)
	}
	return spec.WithLabels(kept...)
}

// Selection mirrors the current value of each semantic field.
type Selection struct {
	groups []Group
	values map[string]string
}

// NewSelection starts every group at Any.
func NewSelection(groups []Group) *Selection {
	s := &Selection{groups: groups, values: make(map[string]string, len(groups))}
	for _, g := range groups {
		s.values[g.Field] = Any
	}
	return s
}

// Value returns the current value of a field.
func (s *Selection) Value(field string) string {
	return s.values[field]
}

// Sync recomputes the fields from labels and applies only the ones whose value
// changed, returning those. Calling it again with the same labels returns an
// empty map.
func (s *Selection) Sync(labels []string) map[string]string {
	updates := make(map[string]string)
	for _, g := range s.groups {
		v := fieldValue(labels, g)
		if s.values[g.Field] != v {
			s.values[g.Field] = v
			updates[g.Field] = v
		}
	}
	return updates
}

// Set changes one field and returns the reconciled labels and whether they
// changed. Unknown fields leave labels untouched.
func (s *Selection) Set(labels []string, field, value string) ([]string, bool) {
	g, ok := s.group(field)
	if !ok {
		return labels, false
	}
	old := s.values[field]
	if old == Any {
		old = ""
	}
	s.values[field] = value
	if value == "" {
		s.values[field] = Any
	}
	return LabelsFromField(labels, g, value, old)
}

func (s *Selection) group(field string) (Group, bool) {
	for _, g := range s.groups {
		if g.Field == field {
			return g, true
		}
	}
	return Group{}, false
}
