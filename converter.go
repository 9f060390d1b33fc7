package reflux

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Converter maps property values to widget values and, for two-way
// bindings, widget values back to the property's value type.
type Converter interface {
	Convert(v any) (any, error)
	ConvertBack(v any, target reflect.Type) (any, error)
}

// Identity passes values through unchanged. ConvertBack still coerces
// numbers and parses strings into the target type.
type Identity struct{}

// Convert returns v.
func (Identity) Convert(v any) (any, error) {
	return v, nil
}

// ConvertBack coerces v to target.
func (Identity) ConvertBack(v any, target reflect.Type) (any, error) {
	return coerce(v, target)
}

// StringConverter renders values as text and parses text back.
type StringConverter struct{}

// Convert formats v as a string.
func (StringConverter) Convert(v any) (any, error) {
	return formatValue(v), nil
}

// ConvertBack parses a string into target.
func (StringConverter) ConvertBack(v any, target reflect.Type) (any, error) {
	return coerce(v, target)
}

// FormatConverter renders values with a fmt layout such as "%.1f%%".
// Edits are parsed as plain values after trimming the layout's literal
// prefix and suffix.
type FormatConverter struct {
	Layout string
}

// Convert formats v with the layout.
func (f FormatConverter) Convert(v any) (any, error) {
	return fmt.Sprintf(f.Layout, v), nil
}

// ConvertBack strips the layout's literal text around the verb and parses
// what remains into target.
func (f FormatConverter) ConvertBack(v any, target reflect.Type) (any, error) {
	s, ok := v.(string)
	if !ok {
		return coerce(v, target)
	}
	prefix, suffix := layoutAffixes(f.Layout)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, prefix)
	s = strings.TrimSuffix(s, suffix)
	return coerce(strings.TrimSpace(s), target)
}

// layoutAffixes returns the literal text before and after the first verb.
func layoutAffixes(layout string) (string, string) {
	for i := 0; i < len(layout); i++ {
		if layout[i] != '%' {
			continue
		}
		if i+1 < len(layout) && layout[i+1] == '%' {
			i++
			continue
		}
		end := i + 1
		for end < len(layout) && !isVerb(layout[end]) {
			end++
		}
		if end < len(layout) {
			end++
		}
		return unescapePercent(layout[:i]), unescapePercent(layout[end:])
	}
	return unescapePercent(layout), ""
}

func isVerb(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func unescapePercent(s string) string {
	return strings.ReplaceAll(s, "%%", "%")
}

// InvertBool negates boolean values in both directions.
type InvertBool struct{}

// Convert negates v.
func (InvertBool) Convert(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not bool", ErrNotConvertible, v)
	}
	return !b, nil
}

// ConvertBack negates v.
func (InvertBool) ConvertBack(v any, target reflect.Type) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not bool", ErrNotConvertible, v)
	}
	return coerce(!b, target)
}

// Percent maps fractions in [0,1] to percentages in [0,100].
type Percent struct{}

// Convert multiplies v by 100.
func (Percent) Convert(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a number", ErrNotConvertible, v)
	}
	return f * 100, nil
}

// ConvertBack divides v by 100.
func (Percent) ConvertBack(v any, target reflect.Type) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		if s, isString := v.(string); isString {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrNotConvertible, s)
			}
			f, ok = parsed, true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a number", ErrNotConvertible, v)
	}
	return coerce(f/100, target)
}

// ConverterFunc adapts a function to a one-way Converter.
type ConverterFunc func(v any) (any, error)

// Convert calls f.
func (f ConverterFunc) Convert(v any) (any, error) {
	return f(v)
}

// ConvertBack always fails; function converters only render.
func (f ConverterFunc) ConvertBack(v any, _ reflect.Type) (any, error) {
	return nil, fmt.Errorf("%w: %T has no reverse mapping", ErrNotConvertible, f)
}

var (
	_ Converter = Identity{}
	_ Converter = StringConverter{}
	_ Converter = FormatConverter{}
	_ Converter = InvertBool{}
	_ Converter = Percent{}
	_ Converter = ConverterFunc(nil)
)

// converterTable is a named set of converters looked up by bind tags.
type converterTable struct {
	mu    sync.RWMutex
	named map[string]Converter
}

func newConverterTable() *converterTable {
	return &converterTable{named: map[string]Converter{
		"identity": Identity{},
		"string":   StringConverter{},
		"invert":   InvertBool{},
		"percent":  Percent{},
	}}
}

func (t *converterTable) register(name string, c Converter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.named[name] = c
}

func (t *converterTable) lookup(name string) (Converter, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.named[name]
	return c, ok
}

// formatValue renders v without exponent noise for floats.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

// coerce converts v to target: assignable values pass, numbers convert
// between kinds when in range and strings are parsed.
func coerce(v any, target reflect.Type) (any, error) {
	if v == nil {
		return reflect.Zero(target).Interface(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		return v, nil
	}
	if isNumberKind(rv.Kind()) && isNumberKind(target.Kind()) {
		cv, ok := convertNumber(rv, target)
		if !ok {
			return nil, fmt.Errorf("%w: %v out of range for %s", ErrNotConvertible, v, target)
		}
		return cv.Interface(), nil
	}
	if s, ok := v.(string); ok {
		return parseString(strings.TrimSpace(s), target)
	}
	if target.Kind() == reflect.String {
		return reflect.ValueOf(formatValue(v)).Convert(target).Interface(), nil
	}
	return nil, fmt.Errorf("%w: %T to %s", ErrNotConvertible, v, target)
}

func parseString(s string, target reflect.Type) (any, error) {
	out := reflect.New(target).Elem()
	var err error
	switch {
	case target == reflect.TypeFor[time.Duration]():
		var d time.Duration
		d, err = time.ParseDuration(s)
		out.SetInt(int64(d))
	case target.Kind() == reflect.String:
		out.SetString(s)
	case target.Kind() == reflect.Bool:
		var b bool
		b, err = strconv.ParseBool(s)
		out.SetBool(b)
	case out.CanInt():
		var n int64
		n, err = strconv.ParseInt(s, 10, target.Bits())
		out.SetInt(n)
	case out.CanUint():
		var n uint64
		n, err = strconv.ParseUint(s, 10, target.Bits())
		out.SetUint(n)
	case out.CanFloat():
		var f float64
		f, err = strconv.ParseFloat(s, target.Bits())
		out.SetFloat(f)
	default:
		return nil, fmt.Errorf("%w: cannot parse into %s", ErrNotConvertible, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q as %s: %v", ErrNotConvertible, s, target, err)
	}
	return out.Interface(), nil
}
