package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/zeebo/blake3"
)

// Params are the query parameters that select a cached result.
type Params map[string]any

// ErrUnkeyable is returned for parameters that have no canonical form.
var ErrUnkeyable = errors.New("cache: parameters cannot be keyed")

// maxParamDepth bounds nesting; self-referencing maps and pointers hit it.
const maxParamDepth = 32

// digestBytes gives a 160-bit key suffix.
const digestBytes = 20

// BuildKey returns "<namespace>:<digest>" where the digest covers a canonical
// form of params: map keys sorted, sequence order kept, nested values
// normalized. Equal params always yield the same key regardless of map
// iteration order.
func BuildKey(namespace string, params Params) (string, error) {
	if len(params) == 0 {
		return namespace + ":all", nil
	}
	normalized, err := normalize(reflect.ValueOf(map[string]any(params)), 0)
	if err != nil {
		return "", err
	}
	body, err := encMode.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnkeyable, err)
	}
	sum := blake3.Sum256(body)
	return namespace + ":" + hex.EncodeToString(sum[:digestBytes]), nil
}

var timeType = reflect.TypeOf(time.Time{})

func normalize(v reflect.Value, depth int) (any, error) {
	if depth > maxParamDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnkeyable, maxParamDepth)
	}
	if !v.IsValid() {
		return nil, nil
	}
	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return normalize(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			item, err := normalize(v.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", ErrUnkeyable, v.Type().Key())
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			item, err := normalize(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			item, err := normalize(v.Field(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[field.Name] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrUnkeyable, v.Kind())
	}
}
