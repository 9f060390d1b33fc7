package reflux

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// validate is the shared go-playground validator instance.
var validate = validator.New()

// ValidationResult is the outcome of checking one candidate value.
//
// A valid result accepts the candidate unchanged. An invalid result with
// Coerced set carries the nearest acceptable Value; without Coerced the
// write is rejected.
type ValidationResult[T any] struct {
	Valid   bool
	Coerced bool
	Value   T
	Errors  []string
}

// Valid accepts v unchanged.
func Valid[T any](v T) ValidationResult[T] {
	return ValidationResult[T]{Valid: true, Value: v}
}

// Coerce replaces the candidate with v.
func Coerce[T any](v T, msg string) ValidationResult[T] {
	return ValidationResult[T]{Coerced: true, Value: v, Errors: []string{msg}}
}

// Reject refuses the candidate.
func Reject[T any](msgs ...string) ValidationResult[T] {
	return ValidationResult[T]{Errors: msgs}
}

// Validator checks a candidate value before it is committed. Implementations
// must be pure: the same input always yields the same result.
type Validator[T any] interface {
	Validate(v T) ValidationResult[T]
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc[T any] func(v T) ValidationResult[T]

// Validate calls f(v).
func (f ValidatorFunc[T]) Validate(v T) ValidationResult[T] {
	return f(v)
}

// Number is the set of types Range accepts.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// RangeValidator clamps values into [Min, Max]. NaN is rejected.
type RangeValidator[T Number] struct {
	Min T
	Max T
}

// Range returns a validator clamping values into [minV, maxV].
func Range[T Number](minV, maxV T) RangeValidator[T] {
	if minV > maxV {
		minV, maxV = maxV, minV
	}
	return RangeValidator[T]{Min: minV, Max: maxV}
}

// Validate implements Validator.
func (r RangeValidator[T]) Validate(v T) ValidationResult[T] {
	if v != v { //nolint:gocritic // NaN check without a float constraint
		return Reject[T]("value is NaN")
	}
	switch {
	case v < r.Min:
		return Coerce(r.Min, fmt.Sprintf("value %v below minimum %v", v, r.Min))
	case v > r.Max:
		return Coerce(r.Max, fmt.Sprintf("value %v above maximum %v", v, r.Max))
	}
	return Valid(v)
}

// StringLengthValidator bounds the rune length of a string. Strings above
// Max are truncated; strings below Min are rejected. Max <= 0 means unbounded.
type StringLengthValidator struct {
	Min int
	Max int
}

// StringLength returns a validator bounding rune length to [minLen, maxLen].
func StringLength(minLen, maxLen int) StringLengthValidator {
	return StringLengthValidator{Min: minLen, Max: maxLen}
}

// Validate implements Validator.
func (s StringLengthValidator) Validate(v string) ValidationResult[string] {
	n := utf8.RuneCountInString(v)
	if n < s.Min {
		return Reject[string](fmt.Sprintf("length %d below minimum %d", n, s.Min))
	}
	if s.Max > 0 && n > s.Max {
		return Coerce(truncateRunes(v, s.Max), fmt.Sprintf("length %d above maximum %d", n, s.Max))
	}
	return Valid(v)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TagValidator checks values against a go-playground validation tag such
// as "email" or "oneof=easy normal hard". Failures are rejected.
type TagValidator[T any] struct {
	Tag string
}

// Tag returns a validator for a go-playground validation tag.
func Tag[T any](tag string) TagValidator[T] {
	return TagValidator[T]{Tag: tag}
}

// Validate implements Validator.
func (t TagValidator[T]) Validate(v T) ValidationResult[T] {
	if err := validate.Var(v, t.Tag); err != nil {
		return Reject[T](err.Error())
	}
	return Valid(v)
}

// tagRule is a validator over reflect values, built from struct tags where
// the value type is only known at run time.
type tagRule interface {
	// accepts reports whether the rule can check values of type t.
	accepts(t reflect.Type) error
	check(v reflect.Value) (out reflect.Value, valid, coerced bool, msg string)
}

// ruleValidator adapts a tagRule to a typed Validator.
type ruleValidator[T any] struct {
	rule tagRule
}

func (r ruleValidator[T]) Validate(v T) ValidationResult[T] {
	out, valid, coerced, msg := r.rule.check(reflect.ValueOf(&v).Elem())
	switch {
	case valid:
		return Valid(v)
	case coerced:
		return Coerce(out.Interface().(T), msg)
	default:
		return Reject[T](msg)
	}
}

// rangeRule is the reflective form of RangeValidator.
type rangeRule struct {
	min, max float64
}

func (r rangeRule) accepts(t reflect.Type) error {
	if !isNumberKind(t.Kind()) {
		return fmt.Errorf("range rule needs a numeric field, got %s", t)
	}
	return nil
}

func (r rangeRule) check(v reflect.Value) (reflect.Value, bool, bool, string) {
	var f float64
	switch {
	case v.CanInt():
		f = float64(v.Int())
	case v.CanUint():
		f = float64(v.Uint())
	case v.CanFloat():
		f = v.Float()
	default:
		return v, false, false, fmt.Sprintf("range rule cannot check %s", v.Type())
	}
	if math.IsNaN(f) {
		return v, false, false, "value is NaN"
	}
	var bound float64
	switch {
	case f < r.min:
		bound = r.min
	case f > r.max:
		bound = r.max
	default:
		return v, true, false, ""
	}
	out := reflect.ValueOf(bound).Convert(v.Type())
	return out, false, true, fmt.Sprintf("value %v outside [%v, %v]", f, r.min, r.max)
}

// lengthRule is the reflective form of StringLengthValidator.
type lengthRule struct {
	v StringLengthValidator
}

func (r lengthRule) accepts(t reflect.Type) error {
	if t.Kind() != reflect.String {
		return fmt.Errorf("length rule needs a string field, got %s", t)
	}
	return nil
}

func (r lengthRule) check(v reflect.Value) (reflect.Value, bool, bool, string) {
	res := r.v.Validate(v.String())
	msg := strings.Join(res.Errors, "; ")
	if res.Coerced {
		return reflect.ValueOf(res.Value).Convert(v.Type()), false, true, msg
	}
	return v, res.Valid, false, msg
}

// playgroundRule is the reflective form of TagValidator.
type playgroundRule struct {
	tag string
}

func (r playgroundRule) accepts(reflect.Type) error { return nil }

func (r playgroundRule) check(v reflect.Value) (reflect.Value, bool, bool, string) {
	if err := validate.Var(v.Interface(), r.tag); err != nil {
		return v, false, false, err.Error()
	}
	return v, true, false, ""
}

// rulesFromField builds the tag rules declared on a struct field:
//
//	range:"0,100"      clamp numbers
//	length:"1,16"      bound string length
//	validate:"email"   go-playground tag, reject on failure
//
// valueType is the property value type the rules will check.
func rulesFromField(f reflect.StructField, valueType reflect.Type) ([]tagRule, error) {
	var rules []tagRule

	if spec, ok := f.Tag.Lookup("range"); ok {
		lo, hi, err := parseBounds(spec, strconv.ParseFloat)
		if err != nil {
			return nil, fmt.Errorf("range tag %q: %w", spec, err)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		rules = append(rules, rangeRule{min: lo, max: hi})
	}

	if spec, ok := f.Tag.Lookup("length"); ok {
		lo, hi, err := parseBounds(spec, func(s string, _ int) (int64, error) {
			return strconv.ParseInt(s, 10, 0)
		})
		if err != nil {
			return nil, fmt.Errorf("length tag %q: %w", spec, err)
		}
		rules = append(rules, lengthRule{v: StringLength(int(lo), int(hi))})
	}

	if spec, ok := f.Tag.Lookup("validate"); ok && spec != "" {
		rules = append(rules, playgroundRule{tag: spec})
	}

	for _, r := range rules {
		if err := r.accepts(valueType); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// parseBounds splits "lo,hi" and parses both halves.
func parseBounds[N int64 | float64](spec string, parse func(string, int) (N, error)) (N, N, error) {
	lo, hi, ok := strings.Cut(spec, ",")
	if !ok {
		return 0, 0, fmt.Errorf("expected \"min,max\"")
	}
	l, err := parse(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, 0, err
	}
	h, err := parse(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, 0, err
	}
	return l, h, nil
}
