package productspec

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// MarshalJSON encodes the spec as its canonical string.
func (p ProductSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a spec string.
func (p *ProductSpec) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p, err = Parse(s)
	return err
}

// MarshalYAML encodes the spec as its canonical string.
func (p ProductSpec) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML parses a spec string from a YAML scalar.
func (p *ProductSpec) UnmarshalYAML(value *yaml.Node) (err error) {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	*p, err = Parse(s)
	return err
}
