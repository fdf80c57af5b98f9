package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 3, 18, 14, 30, 0, 0, time.Local)

func TestEncode_PillowMaskScenario(t *testing.T) {
	b := Bundle{
		ModeCPAP:     {FieldSetPressure: Number(8.0)},
		ModeSettings: {FieldMaskType: Text(MaskPillow)},
	}

	line, err := Encode(b, MachineCPAP)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(line, ",G,8.0,2,") {
		t.Fatalf("Encode() = %q, want section G,8.0,2", line)
	}

	decoded, err := Decode(line, MachineCPAP)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v, _ := decoded.Bundle.Get(ModeCPAP, FieldSetPressure); v != Number(8.0) {
		t.Errorf("Set Pressure = %v, want 8.0", v)
	}
	if v, _ := decoded.Bundle.Get(ModeSettings, FieldMaskType); v != Text(MaskPillow) {
		t.Errorf("Mask Type = %v, want Pillow", v)
	}
}

func TestEncode_FrameShape(t *testing.T) {
	tests := []struct {
		machine MachineType
		tokens  int
		markers []string
	}{
		{machine: MachineCPAP, tokens: 20, markers: []string{"G", "H", "I"}},
		{machine: MachineBIPAP, tokens: 56, markers: []string{"A", "B", "C", "D", "E", "F"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.machine), func(t *testing.T) {
			line, err := DefaultCodec().Encode(Defaults(), EncodeRequest{Machine: tt.machine, Serial: "SN1", Time: fixedTime})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !strings.HasPrefix(line, "*S,180326,1430,") || !strings.HasSuffix(line, "#") {
				t.Fatalf("Encode() = %q, want *S,180326,1430,...#", line)
			}

			tokens := strings.Split(line[1:len(line)-1], ",")
			if len(tokens) != tt.tokens {
				t.Errorf("token count = %d, want %d", len(tokens), tt.tokens)
			}

			layout, _ := DefaultCodec().Layout(tt.machine)
			if layout.TokenCount() != tt.tokens {
				t.Errorf("TokenCount() = %d, want %d", layout.TokenCount(), tt.tokens)
			}

			last := -1
			for _, m := range tt.markers {
				idx := indexOf(tokens, m)
				if idx <= last {
					t.Errorf("marker %s at %d, want after %d", m, idx, last)
				}
				last = idx
			}
		})
	}
}

func TestEncode_Scaling(t *testing.T) {
	b := Defaults()
	b.Set(ModeS, FieldTiMin, Number(2.3))
	b.Set(ModeS, FieldTiMax, Number(0.25))
	b.Set(ModeS, FieldIPAP, Number(12.0))
	b.Set(ModeSettings, FieldIMODE, Text(FlagOn))
	b.Set(ModeSettings, FieldGender, Text(GenderFemale))
	b.Set(ModeSettings, FieldMaskType, Text(MaskFullFace))

	line, err := DefaultCodec().Encode(b, EncodeRequest{Machine: MachineBIPAP, Serial: "X9", Time: fixedTime})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// B: IPAP, EPAP, Start EPAP, Ti.Min, Ti.Max, Sensitivity, Rise Time, Mask
	if !strings.Contains(line, ",B,12.0,4.0,4.0,23,2,1.0,50.0,3,") {
		t.Errorf("section B not scaled as expected: %q", line)
	}
	// F: Ramp, Humidifier, Mask, IMODE, Leak Alert, Gender, Sleep Mode, Serial
	if !strings.HasSuffix(line, ",F,5.0,1.0,3,1,0,2,0,X9#") {
		t.Errorf("section F not encoded as expected: %q", line)
	}
}

func TestEncode_MissingValuesUseDefaults(t *testing.T) {
	line, err := DefaultCodec().Encode(Bundle{}, EncodeRequest{Machine: MachineCPAP, Time: fixedTime})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := "*S,180326,1430,G,4.0,1,H,4.0,4.0,20.0,1,I,5.0,1.0,1,0,0,1,0,#"
	if line != want {
		t.Errorf("Encode() = %q, want %q", line, want)
	}
}

func TestEncode_ModeString(t *testing.T) {
	tests := []struct {
		machine MachineType
		mode    Mode
		want    string
	}{
		{MachineCPAP, ModeCPAP, "MANUALMODE"},
		{MachineCPAP, ModeAutoCPAP, "AUTOMODE"},
		{MachineBIPAP, ModeCPAP, "CPAPMODE"},
		{MachineBIPAP, ModeST, "ST_MODE"},
		{MachineBIPAP, ModeVAPS, "VAPS_MODE"},
	}

	for _, tt := range tests {
		t.Run(string(tt.machine)+"/"+string(tt.mode), func(t *testing.T) {
			line, err := DefaultCodec().Encode(Defaults(), EncodeRequest{Machine: tt.machine, ActiveMode: tt.mode, Time: fixedTime})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !strings.HasPrefix(line, "*S,180326,1430,"+tt.want+",") {
				t.Errorf("Encode() = %q, want mode string %s", line, tt.want)
			}

			decoded, err := DefaultCodec().Decode(line, tt.machine)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.ActiveMode != tt.mode {
				t.Errorf("ActiveMode = %q, want %q", decoded.ActiveMode, tt.mode)
			}
			if !decoded.Timestamp.Equal(fixedTime) {
				t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, fixedTime)
			}
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		bundle  Bundle
		req     EncodeRequest
		wantErr error
	}{
		{
			name:    "unknown machine",
			bundle:  Defaults(),
			req:     EncodeRequest{Machine: "VENT"},
			wantErr: ErrUnknownMachineType,
		},
		{
			name:    "serial with comma",
			bundle:  Defaults(),
			req:     EncodeRequest{Machine: MachineCPAP, Serial: "AB,12"},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "mode not on machine",
			bundle:  Defaults(),
			req:     EncodeRequest{Machine: MachineCPAP, ActiveMode: ModeVAPS},
			wantErr: ErrInvalidField,
		},
		{
			name:    "non-numeric pressure",
			bundle:  Bundle{ModeCPAP: {FieldSetPressure: Text("high")}},
			req:     EncodeRequest{Machine: MachineCPAP},
			wantErr: ErrInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultCodec().Encode(tt.bundle, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	custom := Defaults()
	custom.Set(ModeCPAP, FieldSetPressure, Number(11.5))
	custom.Set(ModeAutoCPAP, FieldMinPressure, Number(5.5))
	custom.Set(ModeAutoCPAP, FieldMaxPressure, Number(15.0))
	custom.Set(ModeS, FieldTiMin, Number(0.3))
	custom.Set(ModeS, FieldTiMax, Number(2.7))
	custom.Set(ModeT, FieldRespiratoryRate, Number(14))
	custom.Set(ModeST, FieldBackupRate, Number(12))
	custom.Set(ModeVAPS, FieldTidalVolume, Number(450))
	custom.Set(ModeVAPS, FieldHeight, Number(182))
	custom.Set(ModeSettings, FieldMaskType, Text(MaskPillow))
	custom.Set(ModeSettings, FieldLeakAlert, Text(FlagOn))
	custom.Set(ModeSettings, FieldSleepMode, Text(FlagOn))
	custom.Set(ModeSettings, FieldGender, Text(GenderFemale))
	custom.Set(ModeSettings, FieldRampTime, Number(15))

	for _, mt := range []MachineType{MachineCPAP, MachineBIPAP} {
		for name, b := range map[string]Bundle{"defaults": Defaults(), "custom": custom} {
			t.Run(string(mt)+"/"+name, func(t *testing.T) {
				line, err := DefaultCodec().Encode(b, EncodeRequest{Machine: mt, Serial: "SN-0042", Time: fixedTime})
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}

				decoded, err := DefaultCodec().Decode(line, mt)
				if err != nil {
					t.Fatalf("Decode(%q) error = %v", line, err)
				}

				want := transmitted(t, b, mt)
				if !decoded.Bundle.Equal(want) {
					t.Errorf("round trip mismatch\n got: %v\nwant: %v", decoded.Bundle, want)
				}
				if decoded.Serial != "SN-0042" {
					t.Errorf("Serial = %q, want SN-0042", decoded.Serial)
				}
			})
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	valid, err := DefaultCodec().Encode(Defaults(), EncodeRequest{Machine: MachineCPAP, Serial: "SN1", Time: fixedTime})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name    string
		line    string
		machine MachineType
		wantErr error
	}{
		{"missing start", strings.TrimPrefix(valid, "*"), MachineCPAP, ErrMalformedFrame},
		{"missing end", strings.TrimSuffix(valid, "#"), MachineCPAP, ErrMalformedFrame},
		{"empty", "", MachineCPAP, ErrMalformedFrame},
		{"bare delimiters", "*#", MachineCPAP, ErrMissingSection},
		{"missing section", "*S,180326,1430,G,8.0,2,H,4.0,4.0,20.0,1#", MachineCPAP, ErrMissingSection},
		{"truncated section", "*S,180326,1430,G,8.0,2,H,4.0,4.0,20.0,1,I,5.0,1.0,1#", MachineCPAP, ErrTruncatedSection},
		{"invalid number", strings.Replace(valid, "G,4.0", "G,abc", 1), MachineCPAP, ErrInvalidField},
		{"wrong machine", valid, MachineBIPAP, ErrMissingSection},
		{"unknown machine", valid, "VENT", ErrUnknownMachineType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultCodec().Decode(tt.line, tt.machine)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("Decode() returned %v alongside an error", got)
			}
		})
	}
}

func TestDecode_Tolerance(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, d *Decoded)
	}{
		{
			name: "whitespace around tokens",
			line: "  * S , 180326 , 1430 , G , 9.5 , 3 , H , 4.0 , 5.0 , 18.0 , 3 , I , 5.0 , 1.0 , 3 , 1 , 0 , 2 , 0 , SN7 #\n",
			check: func(t *testing.T, d *Decoded) {
				if v, _ := d.Bundle.Get(ModeCPAP, FieldSetPressure); v != Number(9.5) {
					t.Errorf("Set Pressure = %v, want 9.5", v)
				}
				if d.Serial != "SN7" {
					t.Errorf("Serial = %q, want SN7", d.Serial)
				}
			},
		},
		{
			name: "start pressure slot is ignored",
			line: "*S,180326,1430,G,8.0,1,H,99.0,5.0,18.0,1,I,5.0,1.0,1,0,0,1,0,SN1#",
			check: func(t *testing.T, d *Decoded) {
				if v, _ := d.Bundle.Get(ModeAutoCPAP, FieldMinPressure); v != Number(5.0) {
					t.Errorf("Min Pressure = %v, want 5.0", v)
				}
				if v, _ := d.Bundle.Get(ModeAutoCPAP, FieldMaxPressure); v != Number(18.0) {
					t.Errorf("Max Pressure = %v, want 18.0", v)
				}
			},
		},
		{
			name: "unknown codes fall back",
			line: "*S,180326,1430,G,8.0,7,H,4.0,4.0,20.0,7,I,5.0,1.0,7,5,0,9,1,SN1#",
			check: func(t *testing.T, d *Decoded) {
				if v, _ := d.Bundle.Get(ModeSettings, FieldMaskType); v != Text(MaskNasal) {
					t.Errorf("Mask Type = %v, want Nasal", v)
				}
				if v, _ := d.Bundle.Get(ModeSettings, FieldGender); v != Text(GenderMale) {
					t.Errorf("Gender = %v, want Male", v)
				}
				if v, _ := d.Bundle.Get(ModeSettings, FieldIMODE); v != Text(FlagOff) {
					t.Errorf("IMODE = %v, want OFF", v)
				}
				if v, _ := d.Bundle.Get(ModeSettings, FieldSleepMode); v != Text(FlagOn) {
					t.Errorf("Sleep Mode = %v, want ON", v)
				}
			},
		},
		{
			name: "codes written with a decimal",
			line: "*S,180326,1430,G,8.0,2.0,H,4.0,4.0,20.0,2.0,I,5.0,1.0,2.0,1,0,2.0,0,SN1#",
			check: func(t *testing.T, d *Decoded) {
				if v, _ := d.Bundle.Get(ModeSettings, FieldMaskType); v != Text(MaskPillow) {
					t.Errorf("Mask Type = %v, want Pillow", v)
				}
				if v, _ := d.Bundle.Get(ModeSettings, FieldGender); v != Text(GenderFemale) {
					t.Errorf("Gender = %v, want Female", v)
				}
			},
		},
		{
			name: "headerless frame",
			line: "*G,8.0,1,H,4.0,4.0,20.0,1,I,5.0,1.0,1,0,0,1,0,SN1#",
			check: func(t *testing.T, d *Decoded) {
				if !d.Timestamp.IsZero() {
					t.Errorf("Timestamp = %v, want zero", d.Timestamp)
				}
			},
		},
		{
			name: "sections out of order",
			line: "*S,180326,1430,I,5.0,1.0,1,0,0,1,0,SN1,H,4.0,6.0,20.0,1,G,10.0,1#",
			check: func(t *testing.T, d *Decoded) {
				if v, _ := d.Bundle.Get(ModeCPAP, FieldSetPressure); v != Number(10.0) {
					t.Errorf("Set Pressure = %v, want 10.0", v)
				}
				if v, _ := d.Bundle.Get(ModeAutoCPAP, FieldMinPressure); v != Number(6.0) {
					t.Errorf("Min Pressure = %v, want 6.0", v)
				}
			},
		},
		{
			name: "serial that looks like a marker",
			line: "*S,180326,1430,G,8.0,1,H,4.0,4.0,20.0,1,I,5.0,1.0,1,0,0,1,0,G#",
			check: func(t *testing.T, d *Decoded) {
				if d.Serial != "G" {
					t.Errorf("Serial = %q, want G", d.Serial)
				}
				if v, _ := d.Bundle.Get(ModeCPAP, FieldSetPressure); v != Number(8.0) {
					t.Errorf("Set Pressure = %v, want 8.0", v)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DefaultCodec().Decode(tt.line, MachineCPAP)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, d)
		})
	}
}

func TestDecode_BIPAPLeavesAutoCPAPUntouched(t *testing.T) {
	line, err := DefaultCodec().Encode(Defaults(), EncodeRequest{Machine: MachineBIPAP, Time: fixedTime})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	d, err := DefaultCodec().Decode(line, MachineBIPAP)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := d.Bundle[ModeAutoCPAP]; ok {
		t.Error("BIPAP frame should not carry AutoCPAP settings")
	}
	if v, _ := d.Bundle.Get(ModeS, FieldTiMin); v != Number(0.2) {
		t.Errorf("S Ti.Min = %v, want 0.2", v)
	}
}

func TestParseMachineType(t *testing.T) {
	tests := []struct {
		input   string
		want    MachineType
		wantErr bool
	}{
		{"CPAP", MachineCPAP, false},
		{"bipap", MachineBIPAP, false},
		{" BiPAP ", MachineBIPAP, false},
		{"APAP", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMachineType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMachineType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMachineType() = %q, want %q", got, tt.want)
			}
		})
	}
}

// transmitted returns the subset of b that a frame for mt carries.
func transmitted(t *testing.T, b Bundle, mt MachineType) Bundle {
	t.Helper()

	layout, err := DefaultCodec().Layout(mt)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}

	full := b.WithDefaults()
	out := Bundle{}
	for _, s := range layout.Sections {
		for _, f := range s.Fields {
			if f.Encoding == EncodeSerial || f.EncodeOnly {
				continue
			}
			v, _ := full.Get(f.Mode, f.Field)
			out.Set(f.Mode, f.Field, v)
		}
	}
	return out
}

func indexOf(tokens []string, s string) int {
	for i, tok := range tokens {
		if tok == s {
			return i
		}
	}
	return -1
}
