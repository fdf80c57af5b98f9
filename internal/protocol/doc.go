// Package protocol implements the positional wire protocol spoken by
// CPAP and BIPAP therapy devices.
//
// A settings bundle is encoded into a single ASCII frame:
//
//	*S,180326,1430,S_MODE,A,8.0,2,B,6.0,4.0,...,F,5.0,1.0,2,0,0,1,0,SN1234#
//
// The frame starts with '*', ends with '#', and carries comma-separated
// tokens. A short header (S, date as ddmmyy, time as HHMM and an optional
// mode string) is followed by sections. Each section starts with a
// single-letter marker and carries a fixed number of positional fields.
//
// # Layouts
//
// Which sections a frame carries, and the field order inside each one,
// depends on the machine type:
//
//   - CPAP:  G (CPAP), H (AutoCPAP), I (device settings)
//   - BIPAP: A (CPAP), B (S), C (T), D (ST), E (VAPS), F (device settings)
//
// Layouts are plain data. The built-in tables can be replaced with a YAML
// file (see LoadLayouts) when a device firmware revision moves fields
// around. Field counts are always derived from the layout.
//
// # Scaling
//
//   - Numeric fields are written with exactly one decimal place
//   - Ti.Min and Ti.Max are stored in seconds and sent ×10 as integers
//   - Mask Type and Gender use fixed lookup codes
//   - ON/OFF flags are sent as 1 or 0
//
// # Usage
//
//	line, err := protocol.Encode(bundle, protocol.MachineCPAP)
//	if err != nil {
//	    return err
//	}
//
//	decoded, err := protocol.Decode(line, protocol.MachineCPAP)
//	if err != nil {
//	    return err // nothing was applied
//	}
//	store.ApplyUpdate(decoded.Bundle)
//
// Codec functions are pure. They perform no I/O and hold no state beyond
// the immutable layout tables.
package protocol
