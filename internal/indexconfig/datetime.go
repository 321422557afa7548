package indexconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DatePrecision is the storage precision of a datetime fast field.
type DatePrecision string

const (
	PrecisionSeconds      DatePrecision = "seconds"
	PrecisionMilliseconds DatePrecision = "milliseconds"
	PrecisionMicroseconds DatePrecision = "microseconds"
	PrecisionNanoseconds  DatePrecision = "nanoseconds"
)

// Valid reports whether p is a known precision.
func (p DatePrecision) Valid() bool {
	switch p {
	case PrecisionSeconds, PrecisionMilliseconds, PrecisionMicroseconds, PrecisionNanoseconds:
		return true
	}
	return false
}

// Truncate drops the sub-precision part of t. An empty precision means seconds.
func (p DatePrecision) Truncate(t time.Time) time.Time {
	switch p {
	case PrecisionMilliseconds:
		return t.Truncate(time.Millisecond)
	case PrecisionMicroseconds:
		return t.Truncate(time.Microsecond)
	case PrecisionNanoseconds:
		return t
	default:
		return t.Truncate(time.Second)
	}
}

// Named datetime formats.
const (
	FormatRFC3339       = "rfc3339"
	FormatRFC2822       = "rfc2822"
	FormatISO8601       = "iso8601"
	FormatUnixTimestamp = "unix_timestamp"

	FormatUnixSecs   = "unix_timestamp_secs"
	FormatUnixMillis = "unix_timestamp_millis"
	FormatUnixMicros = "unix_timestamp_micros"
	FormatUnixNanos  = "unix_timestamp_nanos"
)

var rfc2822Layouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
}

var iso8601Layouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
}

// ValidateInputFormat checks a single `input_formats` entry.
func ValidateInputFormat(format string) error {
	switch format {
	case FormatRFC3339, FormatRFC2822, FormatISO8601, FormatUnixTimestamp:
		return nil
	}
	if strings.Contains(format, "%") {
		_, err := StrftimeLayout(format)
		return err
	}
	return fmt.Errorf("unknown input format %q", format)
}

// ValidateOutputFormat checks an `output_format` value.
func ValidateOutputFormat(format string) error {
	switch format {
	case FormatRFC3339, FormatRFC2822, FormatISO8601,
		FormatUnixSecs, FormatUnixMillis, FormatUnixMicros, FormatUnixNanos:
		return nil
	}
	if strings.Contains(format, "%") {
		_, err := StrftimeLayout(format)
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}

// ParseDatetime parses a JSON value (string or number) by trying each input
// format in order. The first format that accepts the value wins.
func ParseDatetime(value interface{}, formats []string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultInputFormats()
	}
	for _, f := range formats {
		if t, ok := parseWithFormat(value, f); ok {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("datetime %v does not match any of the formats %v", value, formats)
}

func parseWithFormat(value interface{}, format string) (time.Time, bool) {
	if format == FormatUnixTimestamp {
		return parseUnix(value)
	}
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	switch format {
	case FormatRFC3339:
		t, err := time.Parse(time.RFC3339Nano, s)
		return t, err == nil
	case FormatRFC2822:
		return parseLayouts(s, rfc2822Layouts)
	case FormatISO8601:
		return parseLayouts(s, iso8601Layouts)
	}
	layout, err := StrftimeLayout(format)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, s)
	return t, err == nil
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseUnix infers the unit of an epoch timestamp from its magnitude.
func parseUnix(value interface{}) (time.Time, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return unixFromInt(i), true
		}
		parsed, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		f = parsed
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return unixFromInt(i), true
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return time.Time{}, false
		}
		f = parsed
	default:
		return time.Time{}, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return unixFromInt(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

func unixFromInt(i int64) time.Time {
	abs := i
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(i, 0)
	case abs < 1e14:
		return time.UnixMilli(i)
	case abs < 1e17:
		return time.UnixMicro(i)
	default:
		return time.Unix(0, i)
	}
}

// FormatDatetime renders t using an output format. Unix formats return int64.
func FormatDatetime(t time.Time, format string) (interface{}, error) {
	t = t.UTC()
	switch format {
	case "", FormatRFC3339:
		return t.Format(time.RFC3339Nano), nil
	case FormatRFC2822:
		return t.Format(time.RFC1123Z), nil
	case FormatISO8601:
		return t.Format("2006-01-02T15:04:05.999999999Z07:00"), nil
	case FormatUnixSecs:
		return t.Unix(), nil
	case FormatUnixMillis:
		return t.UnixMilli(), nil
	case FormatUnixMicros:
		return t.UnixMicro(), nil
	case FormatUnixNanos:
		return t.UnixNano(), nil
	}
	layout, err := StrftimeLayout(format)
	if err != nil {
		return nil, err
	}
	return t.Format(layout), nil
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'j': "002",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'f': "999999999",
	'%': "%",
}

// layoutCheckTimes differ in every component a layout element can render,
// so formatting them exposes literal text that Go would read as an element.
var layoutCheckTimes = []time.Time{
	time.Date(2009, 11, 17, 20, 34, 58, 651387237, time.FixedZone("XYZ", -(3*3600 + 30*60))),
	time.Date(2023, 3, 5, 7, 8, 9, 123456789, time.FixedZone("QRS", 9*3600+45*60)),
}

type strftimeChunk struct {
	text      string
	directive bool
}

// StrftimeLayout converts a strftime pattern such as `%Y-%m-%d %H:%M:%S`
// into a Go time layout. Patterns whose literal text would be read as a Go
// layout element (a bare `1`, `Jan`, `PM`, ...) are rejected.
func StrftimeLayout(pattern string) (string, error) {
	var chunks []strftimeChunk
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			chunks = append(chunks, strftimeChunk{text: string(c)})
			continue
		}
		if i+1 >= len(pattern) {
			return "", fmt.Errorf("strftime pattern %q ends with a lone %%", pattern)
		}
		i++
		d, ok := strftimeDirectives[pattern[i]]
		if !ok {
			return "", fmt.Errorf("strftime pattern %q: unsupported directive %%%c", pattern, pattern[i])
		}
		chunks = append(chunks, strftimeChunk{text: d, directive: pattern[i] != '%'})
	}

	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.text)
	}
	layout := b.String()
	for _, ref := range layoutCheckTimes {
		if ref.Format(layout) != formatChunks(ref, chunks) {
			return "", fmt.Errorf("strftime pattern %q: literal text collides with a layout element (or %%f does not follow '.')", pattern)
		}
	}
	return layout, nil
}

// formatChunks renders t one chunk at a time, the way the pattern reads.
func formatChunks(t time.Time, chunks []strftimeChunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		switch {
		case !ch.directive:
			b.WriteString(ch.text)
		case ch.text == strftimeDirectives['f']:
			fmt.Fprintf(&b, "%09d", t.Nanosecond())
		default:
			b.WriteString(t.Format(ch.text))
		}
	}
	return b.String()
}

// DefaultInputFormats are used for datetime fields that declare none.
func DefaultInputFormats() []string {
	return []string{FormatRFC3339, FormatUnixTimestamp}
}
