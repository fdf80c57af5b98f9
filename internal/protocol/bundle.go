package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a single setting: either a number or an enum string such as
// "Pillow" or "ON". Values are comparable and marshal to plain JSON
// numbers or strings, so settings files stay human-editable.
type Value struct {
	num    float64
	text   string
	isText bool
}

// Number returns a numeric Value.
func Number(f float64) Value {
	return Value{num: f}
}

// Text returns an enum/text Value.
func Text(s string) Value {
	return Value{text: s, isText: true}
}

// IsText reports whether the value was stored as a string.
func (v Value) IsText() bool {
	return v.isText
}

// Float returns the numeric form of the value. Text values holding a
// number ("5", "4.5") convert; other text does not.
func (v Value) Float() (float64, bool) {
	if !v.isText {
		return v.num, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String returns the value as display text.
func (v Value) String() string {
	if v.isText {
		return v.text
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("setting value must be a number or string: %w", err)
	}
	*v = Number(f)
	return nil
}

// Fields maps field names to values for one mode.
type Fields map[string]Value

// Bundle maps each mode to its settings. It is the in-memory form of the
// settings file and the input/output of the codec.
type Bundle map[Mode]Fields

// Get returns the value of a field, if present.
func (b Bundle) Get(mode Mode, field string) (Value, bool) {
	fields, ok := b[mode]
	if !ok {
		return Value{}, false
	}
	v, ok := fields[field]
	return v, ok
}

// Set stores a value, creating the mode map when needed.
func (b Bundle) Set(mode Mode, field string, v Value) {
	if b[mode] == nil {
		b[mode] = Fields{}
	}
	b[mode][field] = v
}

// Clone returns a deep copy.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for mode, fields := range b {
		cp := make(Fields, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[mode] = cp
	}
	return out
}

// Merge overlays every field of partial onto a copy of b.
func (b Bundle) Merge(partial Bundle) Bundle {
	out := b.Clone()
	for mode, fields := range partial {
		for k, v := range fields {
			out.Set(mode, k, v)
		}
	}
	return out
}

// WithDefaults returns a copy of b in which every mode and field missing
// from b is taken from the default table.
func (b Bundle) WithDefaults() Bundle {
	return Defaults().Merge(b)
}

// Equal reports whether two bundles hold the same fields and values.
func (b Bundle) Equal(other Bundle) bool {
	if len(b) != len(other) {
		return false
	}
	for mode, fields := range b {
		of, ok := other[mode]
		if !ok || len(of) != len(fields) {
			return false
		}
		for k, v := range fields {
			if ov, ok := of[k]; !ok || !valuesEqual(v, ov) {
				return false
			}
		}
	}
	return true
}

// valuesEqual treats 8 and "8" as the same setting.
func valuesEqual(a, b Value) bool {
	if a == b {
		return true
	}
	af, aok := a.Float()
	bf, bok := b.Float()
	if aok && bok {
		return af == bf
	}
	return false
}
