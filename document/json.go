package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Marshal serializes v to compact, deterministic JSON: no insignificant
// whitespace, object keys in their Document insertion order.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.Flt, 'g', -1, 64))
	case KindString:
		encoded, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindArray:
		buf.WriteByte('[')
		for i, elem := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		if v.Obj != nil {
			for i, k := range v.Obj.Keys() {
				if i > 0 {
					buf.WriteByte(',')
				}
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return err
				}
				buf.Write(keyBytes)
				buf.WriteByte(':')
				fv, _ := v.Obj.Get(k)
				if err := writeValue(buf, fv); err != nil {
					return err
				}
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("document: unknown value kind %d", v.Kind)
	}
	return nil
}

// MarshalDocument is a convenience wrapper for the common case of
// serializing a whole document.
func MarshalDocument(d *Document) ([]byte, error) {
	return Marshal(ObjectValue(d))
}

// Unmarshal parses data into a Value, preserving object field order via
// the decoder's token stream rather than Go's unordered map decoding.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

// UnmarshalDocument parses data as a top-level JSON object.
func UnmarshalDocument(data []byte) (*Document, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindObject {
		return nil, fmt.Errorf("document: expected a JSON object at top level")
	}
	return v.Obj, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return decodeNumber(t), nil
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
	}
	return Value{}, fmt.Errorf("document: unexpected token %v", tok)
}

func decodeNumber(n json.Number) Value {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return IntValue(i)
	}
	f, _ := n.Float64()
	return FloatValue(f)
}

func decodeObject(dec *json.Decoder) (Value, error) {
	doc := NewDocument()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return Value{}, fmt.Errorf("document: expected string object key")
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		doc.Set(key, val)
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return Value{}, err
	}
	return ObjectValue(doc), nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	var elems []Value
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, val)
	}
	if _, err := dec.Token(); err != nil { // consume closing ']'
		return Value{}, err
	}
	return ArrayValue(elems), nil
}
