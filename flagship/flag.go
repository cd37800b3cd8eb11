package flagship

import (
	"math"
	"reflect"
)

// FlagMetadata identifies the campaign and variation a flag value came from.
type FlagMetadata struct {
	CampaignID       string
	CampaignName     string
	CampaignType     string
	Slug             string
	VariationGroupID string
	VariationID      string
	IsReference      bool
}

// Flag is a flag value fetched for a visitor.
type Flag struct {
	key      string
	value    any
	exists   bool
	metadata FlagMetadata
}

// NewFlag builds a Flag. It is used by Decider implementations.
func NewFlag(key string, value any, metadata FlagMetadata) Flag {
	return Flag{key: key, value: value, exists: true, metadata: metadata}
}

// Key returns the flag key.
func (f Flag) Key() string { return f.key }

// Exists reports whether the flag was part of the visitor's last fetch.
func (f Flag) Exists() bool { return f.exists }

// Metadata returns the campaign metadata; it is zero when the flag does not exist.
func (f Flag) Metadata() FlagMetadata { return f.metadata }

// RawValue returns the value as decoded from the decision backend.
func (f Flag) RawValue() any { return f.value }

// Value returns the flag value, or defaultValue when the flag does not exist,
// has a null value, or holds a value whose type is incompatible with
// defaultValue. A nil defaultValue accepts any value.
//
// Compatibility rules:
//   - booleans and strings must match exactly
//   - any numeric value is converted to the numeric type of defaultValue;
//     a non-integral number is incompatible with an integer default
//   - maps and slices are interchangeable object values
//   - otherwise the dynamic types must be identical
func (f Flag) Value(defaultValue any) any {
	if !f.exists || f.value == nil {
		return defaultValue
	}
	if defaultValue == nil {
		return f.value
	}
	if v, ok := convertValue(f.value, defaultValue); ok {
		return v
	}
	return defaultValue
}

func convertValue(value, defaultValue any) (any, bool) {
	dv := reflect.ValueOf(defaultValue)
	vv := reflect.ValueOf(value)

	switch {
	case isNumberKind(dv.Kind()) && isNumberKind(vv.Kind()):
		return convertNumber(vv, dv.Type())
	case isObjectKind(dv.Kind()) && isObjectKind(vv.Kind()):
		return value, true
	case vv.Type() == dv.Type():
		return value, true
	}
	return nil, false
}

func convertNumber(v reflect.Value, target reflect.Type) (any, bool) {
	var f float64
	switch {
	case v.CanInt():
		f = float64(v.Int())
	case v.CanUint():
		f = float64(v.Uint())
	default:
		f = v.Float()
	}

	switch target.Kind() {
	case reflect.Float32, reflect.Float64:
		return reflect.ValueOf(f).Convert(target).Interface(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, false
		}
		out := reflect.New(target).Elem()
		if out.OverflowInt(int64(f)) {
			return nil, false
		}
		out.SetInt(int64(f))
		return out.Interface(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return nil, false
		}
		out := reflect.New(target).Elem()
		if out.OverflowUint(uint64(f)) {
			return nil, false
		}
		out.SetUint(uint64(f))
		return out.Interface(), true
	}
	return nil, false
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isObjectKind(k reflect.Kind) bool {
	return k == reflect.Map || k == reflect.Slice || k == reflect.Array
}

// IsPrimitive reports whether v can be sent as a visitor context value:
// nil, a boolean, a string or any numeric type.
func IsPrimitive(v any) bool {
	if v == nil {
		return true
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Bool || k == reflect.String || isNumberKind(k)
}
