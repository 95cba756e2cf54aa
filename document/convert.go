package document

// FromAny converts a generic decoded value (as produced by a msgpack or
// JSON decoder: map[string]any, []any, string, bool, int64/float64,
// nil) into a Value. Every Go integer type (msgpack hands back small
// integers as int8/uint8 and the like) becomes an int Value; a float64
// holding a whole number also becomes an int Value. Any other type
// becomes null.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case int:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint64:
		return IntValue(int64(t))
	case int8:
		return IntValue(int64(t))
	case int16:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case uint:
		return IntValue(int64(t))
	case uint8:
		return IntValue(int64(t))
	case uint16:
		return IntValue(int64(t))
	case uint32:
		return IntValue(int64(t))
	case float32:
		return FloatValue(float64(t))
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = FromAny(e)
		}
		return ArrayValue(elems)
	case map[string]any:
		return ObjectValue(DocumentFromMap(t))
	default:
		return Null()
	}
}

// DocumentFromMap builds a Document from a generic decoded map. Go maps
// have no stable iteration order, so field order is not preserved for
// values that arrive this way (only values built directly through
// Document.Set, e.g. during insert, carry a meaningful order).
func DocumentFromMap(m map[string]any) *Document {
	d := NewDocument()
	for k, v := range m {
		d.Set(k, FromAny(v))
	}
	return d
}

// ToAny converts v back to a generic value suitable for a msgpack/JSON
// encoder: map[string]any, []any and the Go scalar types.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Flt
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		if v.Obj == nil {
			return map[string]any{}
		}
		return v.Obj.ToMap()
	default:
		return nil
	}
}

// ToMap converts d to a generic map, suitable for a wire encoder.
func (d *Document) ToMap() map[string]any {
	out := make(map[string]any, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out[k] = v.ToAny()
	}
	return out
}
