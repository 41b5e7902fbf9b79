package recordstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// readValue converts a scanned column value to its JSON-friendly form.
func readValue(f model.Field, v interface{}) interface{} {
	if b, ok := v.([]byte); ok && f.Type != connector.TypeBinary {
		v = string(b)
	}
	switch f.Type {
	case connector.TypeBoolean:
		switch t := v.(type) {
		case int64:
			return t != 0
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	case connector.TypeInteger, connector.TypeMany2One:
		if n, ok := toInt64(v); ok {
			return n
		}
	case connector.TypeJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return v
}

// writeValue converts a JSON-decoded value to a column value.
func writeValue(f model.Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case connector.TypeJSON:
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Name, err)
			}
			return string(b), nil
		}
		return v, nil
	case connector.TypeInteger, connector.TypeMany2One:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, fmt.Errorf("%w: %s expects an integer", ErrInvalidValue, f.Name)
	case connector.TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b, nil
			}
		}
		return nil, fmt.Errorf("%w: %s expects true or false", ErrInvalidValue, f.Name)
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return nil, fmt.Errorf("%w: %s does not accept objects or lists", ErrInvalidValue, f.Name)
	}
	return v, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}
