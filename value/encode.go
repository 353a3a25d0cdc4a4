package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"xdao.co/twine/cidutil"
	"xdao.co/twine/codec"
)

// MarshalCBOR encodes v with the canonical codec.
func (v Value) MarshalCBOR() ([]byte, error) {
	tree, err := v.cborTree()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(tree)
}

func (v Value) cborTree() (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrUnsupported)
		}
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindBytes:
		return nonNil(v.raw), nil
	case KindLink:
		return codec.NewLink(v.link), nil
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			t, err := e.cborTree()
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			t, err := e.cborTree()
			if err != nil {
				return nil, err
			}
			out[k] = t
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.kind)
}

// UnmarshalCBOR decodes a canonical CBOR item into v.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var x any
	if err := codec.Unmarshal(data, &x); err != nil {
		return err
	}
	out, err := fromDecoded(x)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromDecoded(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case uint64:
		return fromUnsigned(t)
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Value{kind: KindBytes, raw: nonNil(t)}, nil
	case big.Int:
		return Value{}, fmt.Errorf("%w: integer %s out of range", ErrUnsupported, t.String())
	case *big.Int:
		return Value{}, fmt.Errorf("%w: integer %s out of range", ErrUnsupported, t.String())
	case codec.Tag:
		if t.Number != codec.LinkTag {
			return Value{}, fmt.Errorf("%w: cbor tag %d", ErrUnsupported, t.Number)
		}
		raw, ok := t.Content.([]byte)
		if !ok {
			return Value{}, codec.ErrMalformedLink
		}
		c, err := codec.LinkFromTagContent(raw)
		if err != nil {
			return Value{}, err
		}
		return Link(c), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = ev
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, fmt.Errorf("%w: decoded %T", ErrUnsupported, x)
}

// MarshalJSON writes the JSON form. Floats always carry a fraction or an
// exponent so they decode back as floats.
func (v Value) MarshalJSON() ([]byte, error) {
	tree, err := v.jsonTree()
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func (v Value) jsonTree() (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: non-finite float", ErrUnsupported)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s), nil
	case KindString:
		return v.s, nil
	case KindBytes:
		return codec.BytesJSON(v.raw), nil
	case KindLink:
		return map[string]any{"/": cidutil.Format(v.link)}, nil
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			t, err := e.jsonTree()
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case KindMap:
		if _, reserved := v.m["/"]; reserved && len(v.m) == 1 {
			return nil, fmt.Errorf("%w: map with the single key \"/\" is reserved for links", ErrUnsupported)
		}
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			t, err := e.jsonTree()
			if err != nil {
				return nil, err
			}
			out[k] = t
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.kind)
}

// UnmarshalJSON reads the JSON form, recognising link and bytes objects.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	out, err := fromJSON(x)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromJSON(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Value{}, err
			}
			return Float(f), nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: integer %s", ErrUnsupported, s)
		}
		return Int(i), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = ev
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		if c, ok, err := codec.ParseJSONLink(t); ok || err != nil {
			if err != nil {
				return Value{}, err
			}
			return Link(c), nil
		}
		if b, ok, err := codec.ParseJSONBytes(t); ok || err != nil {
			if err != nil {
				return Value{}, err
			}
			return Value{kind: KindBytes, raw: nonNil(b)}, nil
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, fmt.Errorf("%w: json %T", ErrUnsupported, x)
}
