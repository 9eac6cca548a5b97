package model

import (
	"bytes"
	"encoding/json"
)

// Check is one probe outcome. Value is nil when the probe was skipped.
type Check struct {
	Name  string
	Value any
}

// Checks keeps probe outcomes in the order they ran and marshals as a JSON
// object with that key order.
type Checks []Check

// Set records value for name, replacing an earlier entry.
func (c *Checks) Set(name string, value any) {
	for i := range *c {
		if (*c)[i].Name == name {
			(*c)[i].Value = value
			return
		}
	}
	*c = append(*c, Check{Name: name, Value: value})
}

// Get returns the value recorded for name.
func (c Checks) Get(name string) (any, bool) {
	for _, ch := range c {
		if ch.Name == name {
			return ch.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (c Checks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(ch.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(ch.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Key order follows the input.
func (c *Checks) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out Checks
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, Check{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}
