package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	frameStart = "*"
	frameEnd   = "#"
	headerMark = "S"

	headerDateLayout = "020106"
	headerTimeLayout = "1504"
)

// EncodeRequest carries the frame parameters that are not part of the
// settings bundle.
type EncodeRequest struct {
	Machine MachineType

	// Serial is written into the device settings section.
	Serial string

	// ActiveMode, when set, adds the matching mode string to the header.
	ActiveMode Mode

	// Time stamps the header. Zero means time.Now().
	Time time.Time
}

// Decoded is the result of a successful Decode.
type Decoded struct {
	// Bundle holds only the fields carried by the frame.
	Bundle Bundle

	// Serial is the device serial from the settings section, if any.
	Serial string

	// Timestamp is the header time, zero when the header is absent.
	Timestamp time.Time

	// ActiveMode is the mode announced in the header, if any.
	ActiveMode Mode
}

// Codec encodes and decodes frames using a fixed set of layouts.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	layouts map[MachineType]Layout
}

// NewCodec creates a codec from the built-in layouts, replaced per machine
// type by any overrides given.
func NewCodec(overrides ...Layout) (*Codec, error) {
	c := &Codec{layouts: make(map[MachineType]Layout)}
	for _, l := range DefaultLayouts() {
		c.layouts[l.Machine] = l
	}
	for _, l := range overrides {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		c.layouts[l.Machine] = l
	}
	return c, nil
}

var defaultCodec, _ = NewCodec()

// DefaultCodec returns the codec built from the built-in layouts.
func DefaultCodec() *Codec {
	return defaultCodec
}

// Encode builds a frame for bundle b using the default codec.
func Encode(b Bundle, mt MachineType) (string, error) {
	return defaultCodec.Encode(b, EncodeRequest{Machine: mt})
}

// Decode parses a frame using the default codec.
func Decode(line string, mt MachineType) (*Decoded, error) {
	return defaultCodec.Decode(line, mt)
}

// Layout returns the layout used for mt.
func (c *Codec) Layout(mt MachineType) (Layout, error) {
	l, ok := c.layouts[mt]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownMachineType, mt)
	}
	return l, nil
}

// Encode builds the wire frame for b. Fields missing from b are taken from
// the default table.
func (c *Codec) Encode(b Bundle, req EncodeRequest) (string, error) {
	layout, err := c.Layout(req.Machine)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(req.Serial, ",*#") {
		return "", fmt.Errorf("%w: serial %q", ErrInvalidToken, req.Serial)
	}

	ts := req.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tokens := make([]string, 0, layout.TokenCount()+1)
	tokens = append(tokens, headerMark, ts.Format(headerDateLayout), ts.Format(headerTimeLayout))
	if req.ActiveMode != "" {
		ms, ok := ModeString(req.Machine, req.ActiveMode)
		if !ok {
			return "", fmt.Errorf("%w: mode %q is not available on %s", ErrInvalidField, req.ActiveMode, req.Machine)
		}
		tokens = append(tokens, ms)
	}

	for _, section := range layout.Sections {
		tokens = append(tokens, section.Marker)
		for _, f := range section.Fields {
			tok, err := encodeField(b, f, req.Serial)
			if err != nil {
				return "", fmt.Errorf("section %s: %w", section.Marker, err)
			}
			tokens = append(tokens, tok)
		}
	}

	return frameStart + strings.Join(tokens, ",") + frameEnd, nil
}

func encodeField(b Bundle, f FieldSpec, serial string) (string, error) {
	if f.Encoding == EncodeSerial {
		return serial, nil
	}

	v, ok := b.Get(f.Mode, f.Field)
	if !ok {
		v, _ = defaultValue(f.Mode, f.Field)
	}

	switch f.Encoding {
	case EncodeDecimal:
		n, ok := v.Float()
		if !ok {
			return "", fmt.Errorf("%w: %s/%s = %q", ErrInvalidField, f.Mode, f.Field, v.String())
		}
		return strconv.FormatFloat(n, 'f', 1, 64), nil

	case EncodeTenths:
		n, ok := v.Float()
		if !ok {
			return "", fmt.Errorf("%w: %s/%s = %q", ErrInvalidField, f.Mode, f.Field, v.String())
		}
		return strconv.FormatInt(toTenths(n), 10), nil

	case EncodeMask:
		return strconv.Itoa(enumCode(v, maskCodes, maskCodes[MaskNasal])), nil

	case EncodeGender:
		return strconv.Itoa(enumCode(v, genderCodes, genderCodes[GenderMale])), nil

	case EncodeFlag:
		if flagOn(v) {
			return "1", nil
		}
		return "0", nil
	}

	return "", fmt.Errorf("%w: unknown encoding %q", ErrInvalidLayout, f.Encoding)
}

// toTenths scales seconds by ten and truncates, absorbing binary float
// error so that 2.3 becomes 23 rather than 22.
func toTenths(seconds float64) int64 {
	return int64(math.Trunc(seconds*10 + math.Copysign(1e-6, seconds)))
}

func enumCode(v Value, codes map[string]int, fallback int) int {
	if v.IsText() {
		if code, ok := codes[v.String()]; ok {
			return code
		}
	}
	if n, ok := v.Float(); ok {
		for _, code := range codes {
			if float64(code) == n {
				return code
			}
		}
	}
	return fallback
}

func flagOn(v Value) bool {
	if v.IsText() && strings.EqualFold(v.String(), FlagOn) {
		return true
	}
	n, ok := v.Float()
	return ok && n != 0
}

// Decode parses a frame for machine type mt. The returned bundle holds the
// fields carried by the frame; on error nothing is returned, so callers
// never apply a partial result.
func (c *Codec) Decode(line string, mt MachineType) (*Decoded, error) {
	layout, err := c.Layout(mt)
	if err != nil {
		return nil, err
	}

	line = strings.TrimSpace(line)
	if len(line) < 2 || !strings.HasPrefix(line, frameStart) || !strings.HasSuffix(line, frameEnd) {
		return nil, fmt.Errorf("%w: frame must start with %q and end with %q", ErrMalformedFrame, frameStart, frameEnd)
	}

	tokens := strings.Split(line[1:len(line)-1], ",")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}

	sections := make(map[string]Section, len(layout.Sections))
	for _, s := range layout.Sections {
		sections[s.Marker] = s
	}

	// Walk the tokens and claim each marker together with its fields, so a
	// field value can never be mistaken for a later marker.
	offsets := make(map[string]int, len(layout.Sections))
	for i := 0; i < len(tokens); {
		s, ok := sections[tokens[i]]
		if !ok {
			i++
			continue
		}
		if _, claimed := offsets[s.Marker]; claimed {
			i++
			continue
		}
		if remaining := len(tokens) - i - 1; remaining < len(s.Fields) {
			return nil, fmt.Errorf("%w: section %s needs %d fields, found %d",
				ErrTruncatedSection, s.Marker, len(s.Fields), remaining)
		}
		offsets[s.Marker] = i + 1
		i += 1 + len(s.Fields)
	}

	out := &Decoded{Bundle: Bundle{}}
	for _, s := range layout.Sections {
		start, ok := offsets[s.Marker]
		if !ok {
			return nil, fmt.Errorf("%w: %s frame has no %s section", ErrMissingSection, mt, s.Marker)
		}
		for j, f := range s.Fields {
			if f.EncodeOnly {
				continue
			}
			tok := tokens[start+j]
			if f.Encoding == EncodeSerial {
				out.Serial = tok
				continue
			}
			v, err := decodeField(f, tok)
			if err != nil {
				return nil, fmt.Errorf("section %s field %d: %w", s.Marker, j+1, err)
			}
			out.Bundle.Set(f.Mode, f.Field, v)
		}
	}

	out.Timestamp, out.ActiveMode = parseHeader(tokens, mt)
	return out, nil
}

func decodeField(f FieldSpec, tok string) (Value, error) {
	switch f.Encoding {
	case EncodeDecimal:
		n, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s/%s = %q", ErrInvalidField, f.Mode, f.Field, tok)
		}
		return Number(n), nil

	case EncodeTenths:
		n, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s/%s = %q", ErrInvalidField, f.Mode, f.Field, tok)
		}
		return Number(math.Round(n) / 10), nil

	case EncodeMask:
		return Text(enumName(tok, maskCodes, MaskNasal)), nil

	case EncodeGender:
		return Text(enumName(tok, genderCodes, GenderMale)), nil

	case EncodeFlag:
		if n, err := strconv.ParseFloat(tok, 64); err == nil && n == 1 {
			return Text(FlagOn), nil
		}
		return Text(FlagOff), nil
	}

	return Value{}, fmt.Errorf("%w: unknown encoding %q", ErrInvalidLayout, f.Encoding)
}

// enumName maps a wire code back to its name. Codes may be written as
// "2" or "2.0"; unknown or unparseable codes yield fallback.
func enumName(tok string, codes map[string]int, fallback string) string {
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return fallback
	}
	for name, code := range codes {
		if float64(code) == n {
			return name
		}
	}
	return fallback
}

// parseHeader reads the optional S,ddmmyy,HHMM[,mode] header.
func parseHeader(tokens []string, mt MachineType) (time.Time, Mode) {
	if len(tokens) < headerTokens || tokens[0] != headerMark {
		return time.Time{}, ""
	}

	ts, err := time.ParseInLocation(headerDateLayout+headerTimeLayout, tokens[1]+tokens[2], time.Local)
	if err != nil {
		ts = time.Time{}
	}

	var mode Mode
	if len(tokens) > headerTokens {
		mode, _ = modeFromString(mt, tokens[headerTokens])
	}
	return ts, mode
}
