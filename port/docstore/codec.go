package docstore

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Extended JSON keys used to keep the normalised value types across a JSON round trip.
const (
	jsonDateKey = "$date"
	jsonRefKey  = "$ref"
	jsonIDKey   = "$id"
)

// Marshal encodes a document into extended JSON.
//
// Integers are written without a fraction and floats always with one,
// times as {"$date": RFC3339Nano} and references as {"$ref": collection, "$id": id},
// so Unmarshal restores the exact normalised value types.
func Marshal(doc Document) ([]byte, error) {
	nd, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	tree, err := toJSONTree(nd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Unmarshal decodes an extended JSON document produced by Marshal.
func Unmarshal(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, ErrInvalidDocument.Wrap(err)
	}
	v, err := fromJSONTree(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(Document)
	if !ok {
		return nil, ErrInvalidDocument.F("top level value is not a document")
	}
	return doc, nil
}

// MarshalValue encodes a single normalised value into extended JSON.
func MarshalValue(v any) ([]byte, error) {
	nv, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	tree, err := toJSONTree(nv)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func toJSONTree(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, string:
		return v, nil
	case int64:
		return json.Number(strconv.FormatInt(v, 10)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrInvalidDocument.F("%v cannot be encoded", v)
		}
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s), nil
	case time.Time:
		return map[string]any{jsonDateKey: v.UTC().Format(time.RFC3339Nano)}, nil
	case Ref:
		return map[string]any{jsonRefKey: v.Collection, jsonIDKey: v.ID}, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			je, err := toJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = je
		}
		return out, nil
	case Document:
		out := make(map[string]any, len(v))
		for k, e := range v {
			je, err := toJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[k] = je
		}
		return out, nil
	default:
		return nil, ErrInvalidDocument.F("unsupported value type: %T", v)
	}
}

func fromJSONTree(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, string:
		return v, nil
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, ErrInvalidDocument.Wrap(err)
		}
		return f, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			de, err := fromJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = de
		}
		return out, nil
	case map[string]any:
		if date, ok := v[jsonDateKey].(string); ok && len(v) == 1 {
			t, err := time.Parse(time.RFC3339Nano, date)
			if err != nil {
				return nil, ErrInvalidDocument.Wrap(err)
			}
			return t.UTC(), nil
		}
		if len(v) == 2 {
			coll, okColl := v[jsonRefKey].(string)
			id, okID := v[jsonIDKey].(string)
			if okColl && okID {
				return Ref{Collection: coll, ID: id}, nil
			}
		}
		out := make(Document, len(v))
		for k, e := range v {
			de, err := fromJSONTree(e)
			if err != nil {
				return nil, err
			}
			out[k] = de
		}
		return out, nil
	default:
		return nil, ErrInvalidDocument.F("unexpected JSON value: %T", v)
	}
}
