package dispatch

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/queue"
)

// ContinuationFromOptions builds a Continuation whose parameters are
// the reflected fields of a typed options struct, using the same names
// and tags the binder reads, so the next leg's handler rebinds them.
// A nil options value yields empty parameters.
func ContinuationFromOptions(waitPeriod time.Duration, options interface{}) (Continuation, error) {
	params := queue.Payload{}
	if options != nil {
		v := reflect.ValueOf(options)
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return Continuation{}, errors.New("continuation options pointer is nil")
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return Continuation{}, errors.Newf("continuation options must be a struct, got %T", options)
		}
		if err := encodeOptions(v, "", params); err != nil {
			return Continuation{}, err
		}
	}
	return Continuation{WaitPeriod: waitPeriod, Parameters: params}, nil
}

func encodeOptions(v reflect.Value, prefix string, out queue.Payload) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		if sf.Anonymous && v.Field(i).Kind() == reflect.Struct && !encodesAsScalar(v.Field(i)) {
			if _, tagged := sf.Tag.Lookup(payloadTag); !tagged {
				if err := encodeOptions(v.Field(i), prefix, out); err != nil {
					return err
				}
				continue
			}
		}
		if sf.PkgPath != "" {
			continue
		}

		name := sf.Name
		if tag, ok := sf.Tag.Lookup(payloadTag); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}
		key := prefix + name

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && !encodesAsScalar(fv) {
			if err := encodeOptions(fv, key+".", out); err != nil {
				return err
			}
			continue
		}

		encoded, null, err := encodeValue(fv)
		if err != nil {
			return errors.Wrapf(err, "failed to encode continuation field %s", key)
		}
		if null {
			out.SetNull(key)
		} else {
			out.Set(key, encoded)
		}
	}
	return nil
}

func encodesAsScalar(v reflect.Value) bool {
	if v.Type() == timeType {
		return true
	}
	if _, ok := v.Interface().(encoding.TextMarshaler); ok {
		return true
	}
	return v.CanAddr() && v.Addr().Type().Implements(textUnmarshalerType)
}

func encodeValue(v reflect.Value) (string, bool, error) {
	switch v.Type() {
	case durationType:
		return FormatDuration(time.Duration(v.Int())), false, nil
	case timeType:
		return v.Interface().(time.Time).UTC().Format(time.RFC3339), false, nil
	}

	if m, ok := v.Interface().(encoding.TextMarshaler); ok {
		text, err := m.MarshalText()
		if err != nil {
			return "", false, err
		}
		return string(text), false, nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), false, nil
	case reflect.Ptr:
		if v.IsNil() {
			return "", true, nil
		}
		if v.Type().Elem().Kind() == reflect.String {
			return v.Elem().String(), false, nil
		}
		return "", false, errors.Newf("unsupported pointer type %s", v.Type())
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), false, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), false, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), false, nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), false, nil
	default:
		return "", false, errors.Newf("unsupported type %s", v.Type())
	}
}
