package protocol

import (
	"fmt"
	"strings"
)

// MachineType identifies the device family, which selects the frame layout.
type MachineType string

// Supported machine types.
const (
	MachineCPAP  MachineType = "CPAP"
	MachineBIPAP MachineType = "BIPAP"
)

// ParseMachineType converts a case-insensitive name into a MachineType.
func ParseMachineType(s string) (MachineType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CPAP":
		return MachineCPAP, nil
	case "BIPAP":
		return MachineBIPAP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMachineType, s)
	}
}

// Mode names a therapy algorithm, or the shared device settings page.
type Mode string

// Modes present in a settings bundle.
const (
	ModeCPAP     Mode = "CPAP"
	ModeAutoCPAP Mode = "AutoCPAP"
	ModeS        Mode = "S"
	ModeT        Mode = "T"
	ModeST       Mode = "ST"
	ModeVAPS     Mode = "VAPS"
	ModeSettings Mode = "Settings"
)

// AllModes lists every mode in canonical order.
func AllModes() []Mode {
	return []Mode{ModeCPAP, ModeAutoCPAP, ModeS, ModeT, ModeST, ModeVAPS, ModeSettings}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

// Field names used in bundles and layouts.
const (
	FieldSetPressure     = "Set Pressure"
	FieldMinPressure     = "Min Pressure"
	FieldMaxPressure     = "Max Pressure"
	FieldIPAP            = "IPAP"
	FieldEPAP            = "EPAP"
	FieldStartEPAP       = "Start EPAP"
	FieldTiMin           = "Ti.Min"
	FieldTiMax           = "Ti.Max"
	FieldSensitivity     = "Sensitivity"
	FieldRiseTime        = "Rise Time"
	FieldRespiratoryRate = "Respiratory Rate"
	FieldBackupRate      = "Backup Rate"
	FieldMaxIPAP         = "Max IPAP"
	FieldMinIPAP         = "Min IPAP"
	FieldHeight          = "Height"
	FieldTidalVolume     = "Tidal Volume"
	FieldRampTime        = "Ramp Time"
	FieldHumidifier      = "Humidifier"
	FieldMaskType        = "Mask Type"
	FieldIMODE           = "IMODE"
	FieldLeakAlert       = "Leak Alert"
	FieldGender          = "Gender"
	FieldSleepMode       = "Sleep Mode"
	FieldFlex            = "Flex"
	FieldFlexLevel       = "Flex Level"
)

// Enum values carried as text in bundles.
const (
	MaskNasal    = "Nasal"
	MaskPillow   = "Pillow"
	MaskFullFace = "FullFace"

	GenderMale   = "Male"
	GenderFemale = "Female"

	FlagOn  = "ON"
	FlagOff = "OFF"
)

var maskCodes = map[string]int{
	MaskNasal:    1,
	MaskPillow:   2,
	MaskFullFace: 3,
}

var genderCodes = map[string]int{
	GenderMale:   1,
	GenderFemale: 2,
}

// modeStrings maps a mode to the token placed after the header timestamp.
var modeStrings = map[MachineType]map[Mode]string{
	MachineCPAP: {
		ModeCPAP:     "MANUALMODE",
		ModeAutoCPAP: "AUTOMODE",
	},
	MachineBIPAP: {
		ModeCPAP:     "CPAPMODE",
		ModeAutoCPAP: "AUTOMODE",
		ModeS:        "S_MODE",
		ModeT:        "T_MODE",
		ModeST:       "ST_MODE",
		ModeVAPS:     "VAPS_MODE",
	},
}

// ModeString returns the header token announcing mode m on machine mt.
func ModeString(mt MachineType, m Mode) (string, bool) {
	s, ok := modeStrings[mt][m]
	return s, ok
}

func modeFromString(mt MachineType, s string) (Mode, bool) {
	for m, token := range modeStrings[mt] {
		if token == s {
			return m, true
		}
	}
	return "", false
}

// Units returns the display unit of a field, or "" for unitless fields.
// Units are presentation data and never transmitted.
func Units(field string) string {
	switch field {
	case FieldSetPressure, FieldMinPressure, FieldMaxPressure,
		FieldIPAP, FieldEPAP, FieldStartEPAP, FieldMaxIPAP, FieldMinIPAP:
		return "CmH2O"
	case FieldTiMin, FieldTiMax:
		return "Sec"
	case FieldRiseTime:
		return "mSec"
	case FieldRespiratoryRate, FieldBackupRate:
		return "/min"
	case FieldHeight:
		return "cm"
	case FieldTidalVolume:
		return "ml"
	case FieldRampTime:
		return "Min"
	default:
		return ""
	}
}
