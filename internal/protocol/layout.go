package protocol

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// headerTokens is the number of fixed header tokens (S, ddmmyy, HHMM).
const headerTokens = 3

// Encoding describes how a field is written to and read from a token.
type Encoding string

// Field encodings.
const (
	// EncodeDecimal writes a number with exactly one decimal place.
	EncodeDecimal Encoding = "decimal"

	// EncodeTenths writes seconds as an integer count of tenths.
	EncodeTenths Encoding = "tenths"

	// EncodeMask writes Mask Type as its numeric code.
	EncodeMask Encoding = "mask"

	// EncodeGender writes Gender as its numeric code.
	EncodeGender Encoding = "gender"

	// EncodeFlag writes ON/OFF as 1/0.
	EncodeFlag Encoding = "flag"

	// EncodeSerial writes the device serial number verbatim.
	EncodeSerial Encoding = "serial"
)

// FieldSpec is one positional field inside a section.
type FieldSpec struct {
	Mode     Mode     `yaml:"mode"`
	Field    string   `yaml:"field"`
	Encoding Encoding `yaml:"encoding"`

	// EncodeOnly fields are written but skipped when decoding, for slots
	// that repeat another field (the AutoCPAP start pressure).
	EncodeOnly bool `yaml:"encode_only,omitempty"`
}

// Section is a marker followed by a fixed list of fields.
type Section struct {
	Marker string      `yaml:"marker"`
	Fields []FieldSpec `yaml:"fields"`
}

// Layout is the ordered section list for one machine type.
type Layout struct {
	Machine  MachineType `yaml:"machine"`
	Sections []Section   `yaml:"sections"`
}

// TokenCount returns the number of tokens in a full frame for this layout,
// excluding the optional mode string.
func (l Layout) TokenCount() int {
	n := headerTokens
	for _, s := range l.Sections {
		n += 1 + len(s.Fields)
	}
	return n
}

// Validate checks that markers are single letters and unique, and that
// every field has a known mode and encoding.
func (l Layout) Validate() error {
	if l.Machine != MachineCPAP && l.Machine != MachineBIPAP {
		return fmt.Errorf("%w: machine %q", ErrInvalidLayout, l.Machine)
	}
	if len(l.Sections) == 0 {
		return fmt.Errorf("%w: %s has no sections", ErrInvalidLayout, l.Machine)
	}

	seen := make(map[string]bool, len(l.Sections))
	for _, s := range l.Sections {
		if len(s.Marker) != 1 || s.Marker[0] < 'A' || s.Marker[0] > 'Z' || s.Marker == "S" {
			return fmt.Errorf("%w: %s marker %q", ErrInvalidLayout, l.Machine, s.Marker)
		}
		if seen[s.Marker] {
			return fmt.Errorf("%w: %s marker %q repeated", ErrInvalidLayout, l.Machine, s.Marker)
		}
		seen[s.Marker] = true

		if len(s.Fields) == 0 {
			return fmt.Errorf("%w: section %s has no fields", ErrInvalidLayout, s.Marker)
		}
		for i, f := range s.Fields {
			if err := f.validate(); err != nil {
				return fmt.Errorf("%w: section %s field %d: %v", ErrInvalidLayout, s.Marker, i, err)
			}
		}
	}
	return nil
}

func (f FieldSpec) validate() error {
	switch f.Encoding {
	case EncodeSerial:
		return nil
	case EncodeDecimal, EncodeTenths, EncodeMask, EncodeGender, EncodeFlag:
	default:
		return fmt.Errorf("unknown encoding %q", f.Encoding)
	}
	if !f.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", f.Mode)
	}
	if f.Field == "" {
		return fmt.Errorf("field name is required")
	}
	return nil
}

// layoutFile is the on-disk form of a layout override file.
type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

// LoadLayouts reads layout overrides from a YAML file.
//
// Example:
//
//	layouts:
//	  - machine: CPAP
//	    sections:
//	      - marker: G
//	        fields:
//	          - {mode: CPAP, field: Set Pressure, encoding: decimal}
//	          - {mode: Settings, field: Mask Type, encoding: mask}
func LoadLayouts(path string) ([]Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout file: %w", err)
	}

	var lf layoutFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing layout file: %w", err)
	}

	for _, l := range lf.Layouts {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	return lf.Layouts, nil
}

func decimal(mode Mode, field string) FieldSpec {
	return FieldSpec{Mode: mode, Field: field, Encoding: EncodeDecimal}
}

func tenths(mode Mode, field string) FieldSpec {
	return FieldSpec{Mode: mode, Field: field, Encoding: EncodeTenths}
}

var (
	maskField   = FieldSpec{Mode: ModeSettings, Field: FieldMaskType, Encoding: EncodeMask}
	serialField = FieldSpec{Encoding: EncodeSerial}
)

// deviceSettingsFields is shared by the CPAP "I" and BIPAP "F" sections.
func deviceSettingsFields() []FieldSpec {
	return []FieldSpec{
		decimal(ModeSettings, FieldRampTime),
		decimal(ModeSettings, FieldHumidifier),
		maskField,
		{Mode: ModeSettings, Field: FieldIMODE, Encoding: EncodeFlag},
		{Mode: ModeSettings, Field: FieldLeakAlert, Encoding: EncodeFlag},
		{Mode: ModeSettings, Field: FieldGender, Encoding: EncodeGender},
		{Mode: ModeSettings, Field: FieldSleepMode, Encoding: EncodeFlag},
		serialField,
	}
}

// bilevelFields lists the fields of the T and ST sections, which differ
// only in their rate field.
func bilevelFields(mode Mode, rateField string) []FieldSpec {
	return []FieldSpec{
		decimal(mode, FieldIPAP),
		decimal(mode, FieldEPAP),
		decimal(mode, FieldStartEPAP),
		decimal(mode, rateField),
		tenths(mode, FieldTiMin),
		tenths(mode, FieldTiMax),
		decimal(mode, FieldSensitivity),
		decimal(mode, FieldRiseTime),
		maskField,
	}
}

// DefaultLayouts returns the built-in layouts for every machine type.
func DefaultLayouts() []Layout {
	return []Layout{
		{
			Machine: MachineCPAP,
			Sections: []Section{
				{Marker: "G", Fields: []FieldSpec{
					decimal(ModeCPAP, FieldSetPressure),
					maskField,
				}},
				{Marker: "H", Fields: []FieldSpec{
					{Mode: ModeAutoCPAP, Field: FieldMinPressure, Encoding: EncodeDecimal, EncodeOnly: true},
					decimal(ModeAutoCPAP, FieldMinPressure),
					decimal(ModeAutoCPAP, FieldMaxPressure),
					maskField,
				}},
				{Marker: "I", Fields: deviceSettingsFields()},
			},
		},
		{
			Machine: MachineBIPAP,
			Sections: []Section{
				{Marker: "A", Fields: []FieldSpec{
					decimal(ModeCPAP, FieldSetPressure),
					maskField,
				}},
				{Marker: "B", Fields: []FieldSpec{
					decimal(ModeS, FieldIPAP),
					decimal(ModeS, FieldEPAP),
					decimal(ModeS, FieldStartEPAP),
					tenths(ModeS, FieldTiMin),
					tenths(ModeS, FieldTiMax),
					decimal(ModeS, FieldSensitivity),
					decimal(ModeS, FieldRiseTime),
					maskField,
				}},
				{Marker: "C", Fields: bilevelFields(ModeT, FieldRespiratoryRate)},
				{Marker: "D", Fields: bilevelFields(ModeST, FieldBackupRate)},
				{Marker: "E", Fields: []FieldSpec{
					decimal(ModeVAPS, FieldMaxIPAP),
					decimal(ModeVAPS, FieldMinIPAP),
					decimal(ModeVAPS, FieldEPAP),
					decimal(ModeVAPS, FieldRespiratoryRate),
					tenths(ModeVAPS, FieldTiMin),
					tenths(ModeVAPS, FieldTiMax),
					decimal(ModeVAPS, FieldSensitivity),
					decimal(ModeVAPS, FieldRiseTime),
					maskField,
					decimal(ModeVAPS, FieldHeight),
					decimal(ModeVAPS, FieldTidalVolume),
				}},
				{Marker: "F", Fields: deviceSettingsFields()},
			},
		},
	}
}
