package dispatch

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/queue"
)

// payloadTag is the struct tag controlling binding: `payload:"name"` or
// `payload:"name,required"`. A tag of "-" excludes the field.
const payloadTag = "payload"

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	timeType            = reflect.TypeOf(time.Time{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Binder rehydrates a freshly constructed handler from an invocation
// payload. Matching is by case-insensitive field name, nested structs
// bind through dotted keys, and a null payload value leaves the field
// at its zero value.
type Binder struct {
	log *zap.SugaredLogger
}

// NewBinder creates a binder logging through log. A nil log disables
// the unknown-key warnings.
func NewBinder(log *zap.SugaredLogger) *Binder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Binder{log: log}
}

type boundField struct {
	name     string // declared name, for diagnostics
	value    reflect.Value
	required bool
}

// Bind sets handler fields from payload. It fails on a value that does
// not parse into its field's type and on required fields the payload
// does not carry. Payload keys with no matching field are ignored with
// a warning.
func (b *Binder) Bind(handler Handler, payload queue.Payload) error {
	v := reflect.ValueOf(handler)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return errors.New("cannot bind payload onto nil handler")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		if len(payload) == 0 {
			return nil
		}
		return errors.Newf("cannot bind payload onto %T", handler)
	}

	fields := make(map[string]*boundField)
	if err := collectFields(v, "", fields); err != nil {
		return err
	}

	seen := make(map[string]bool, len(payload))
	for key, value := range payload {
		field, ok := fields[strings.ToLower(key)]
		if !ok {
			b.log.Warnw("Ignoring unknown payload key", "key", key)
			continue
		}
		seen[strings.ToLower(key)] = true

		if value == nil {
			field.value.Set(reflect.Zero(field.value.Type()))
			continue
		}
		if err := setField(field.value, *value); err != nil {
			return errors.Wrapf(err, "failed to bind payload key %q", key)
		}
	}

	var missing []string
	for key, field := range fields {
		if field.required && !seen[key] {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("payload missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// collectFields walks the exported settable fields of a struct,
// recursing into plain nested structs under a dotted prefix.
func collectFields(v reflect.Value, prefix string, out map[string]*boundField) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		// Embedded structs flatten: their fields bind at this level,
		// the way encoding/json promotes them.
		if sf.Anonymous && v.Field(i).Kind() == reflect.Struct && !bindsAsScalar(v.Field(i)) {
			if _, tagged := sf.Tag.Lookup(payloadTag); !tagged {
				if err := collectFields(v.Field(i), prefix, out); err != nil {
					return err
				}
				continue
			}
		}
		if sf.PkgPath != "" { // unexported
			continue
		}

		name := sf.Name
		required := false
		if tag, ok := sf.Tag.Lookup(payloadTag); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "required" {
					required = true
				}
			}
		}

		fv := v.Field(i)
		key := strings.ToLower(prefix + name)

		// Nested options object: recurse unless the type binds as a
		// scalar (time.Time, TextUnmarshaler implementors).
		if fv.Kind() == reflect.Struct && !bindsAsScalar(fv) {
			if err := collectFields(fv, key+".", out); err != nil {
				return err
			}
			continue
		}

		if prior, exists := out[key]; exists {
			return errors.Newf("payload key %q is ambiguous between fields %s and %s", key, prior.name, sf.Name)
		}
		out[key] = &boundField{name: prefix + name, value: fv, required: required}
	}
	return nil
}

func bindsAsScalar(v reflect.Value) bool {
	if v.Type() == timeType {
		return true
	}
	return v.CanAddr() && v.Addr().Type().Implements(textUnmarshalerType)
}

func setField(field reflect.Value, value string) error {
	// Enums and other self-parsing types first.
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(value))
		}
	}

	switch field.Type() {
	case durationType:
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	case timeType:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return errors.Wrapf(err, "invalid timestamp %q", value)
		}
		field.Set(reflect.ValueOf(t.UTC()))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Ptr:
		if field.Type().Elem().Kind() != reflect.String {
			return errors.Newf("unsupported pointer field type %s", field.Type())
		}
		field.Set(reflect.ValueOf(&value))
	case reflect.Bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Newf("invalid boolean %q", value)
		}
		field.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return errors.Newf("invalid integer %q", value)
		}
		field.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return errors.Newf("invalid unsigned integer %q", value)
		}
		field.SetUint(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return errors.Newf("invalid number %q", value)
		}
		field.SetFloat(parsed)
	default:
		return errors.Newf("unsupported field type %s", field.Type())
	}
	return nil
}

// ParseDuration accepts ISO-8601 durations ("PT5M30S", "P1DT2H"),
// clock form ("01:30:00", "1.02:00:00" with a day prefix, fractional
// seconds allowed), and Go duration literals ("90m").
func ParseDuration(value string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	body := s
	neg := false
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}

	var d time.Duration
	var err error
	switch {
	case len(body) > 0 && (body[0] == 'P' || body[0] == 'p'):
		d, err = parseISODuration(body[1:])
	case strings.Contains(body, ":"):
		d, err = parseClockDuration(body)
	default:
		return time.ParseDuration(s)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", value)
	}
	if neg {
		d = -d
	}
	return d, nil
}

// parseISODuration parses the part after the leading 'P'. Calendar
// units with ambiguous length (years, months) are rejected.
func parseISODuration(body string) (time.Duration, error) {
	if body == "" {
		return 0, errors.New("missing duration components")
	}

	var total time.Duration
	inTime := false
	components := 0
	num := ""
	for _, r := range body {
		switch {
		case r == 'T' || r == 't':
			if inTime {
				return 0, errors.New("repeated time designator")
			}
			inTime = true
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		default:
			if num == "" {
				return 0, errors.Newf("designator %q without a value", string(r))
			}
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, errors.Newf("invalid component %q", num)
			}
			var unit time.Duration
			switch unicode.ToUpper(r) {
			case 'W':
				unit = 7 * 24 * time.Hour
			case 'D':
				unit = 24 * time.Hour
			case 'H':
				if !inTime {
					return 0, errors.New("time designator H before T")
				}
				unit = time.Hour
			case 'M':
				if !inTime {
					return 0, errors.New("calendar months are not supported")
				}
				unit = time.Minute
			case 'S':
				if !inTime {
					return 0, errors.New("time designator S before T")
				}
				unit = time.Second
			case 'Y':
				return 0, errors.New("calendar years are not supported")
			default:
				return 0, errors.Newf("unknown designator %q", string(r))
			}
			total += time.Duration(val * float64(unit))
			components++
			num = ""
		}
	}
	if num != "" {
		return 0, errors.Newf("trailing value %q without designator", num)
	}
	if components == 0 {
		return 0, errors.New("missing duration components")
	}
	return total, nil
}

// parseClockDuration parses "hh:mm" / "hh:mm:ss" with an optional
// "d." day prefix and fractional seconds.
func parseClockDuration(body string) (time.Duration, error) {
	var total time.Duration

	if dot := strings.Index(body, "."); dot >= 0 && dot < strings.Index(body, ":") {
		days, err := strconv.ParseInt(body[:dot], 10, 64)
		if err != nil {
			return 0, errors.Newf("invalid day component %q", body[:dot])
		}
		total += time.Duration(days) * 24 * time.Hour
		body = body[dot+1:]
	}

	parts := strings.Split(body, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, errors.New("expected hh:mm or hh:mm:ss")
	}

	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid hours %q", parts[0])
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid minutes %q", parts[1])
	}
	total += time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute

	if len(parts) == 3 {
		seconds, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, errors.Newf("invalid seconds %q", parts[2])
		}
		total += time.Duration(seconds * float64(time.Second))
	}
	return total, nil
}

// FormatDuration renders a duration in the ISO-8601 form ParseDuration
// accepts, second resolution with fractions preserved.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}
	sb.WriteByte('P')

	if days := d / (24 * time.Hour); days > 0 {
		sb.WriteString(strconv.FormatInt(int64(days), 10))
		sb.WriteByte('D')
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		return sb.String()
	}
	sb.WriteByte('T')
	if hours := d / time.Hour; hours > 0 {
		sb.WriteString(strconv.FormatInt(int64(hours), 10))
		sb.WriteByte('H')
		d -= hours * time.Hour
	}
	if minutes := d / time.Minute; minutes > 0 {
		sb.WriteString(strconv.FormatInt(int64(minutes), 10))
		sb.WriteByte('M')
		d -= minutes * time.Minute
	}
	if d > 0 {
		seconds := float64(d) / float64(time.Second)
		sb.WriteString(strconv.FormatFloat(seconds, 'f', -1, 64))
		sb.WriteByte('S')
	}
	return sb.String()
}
