package service

import (
	"encoding/json"
	"fmt"
	"math"
)

// Helpers for values decoded from JSON request bodies.

func asString(field string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", newError(KindValidation, CodeInvalidValue, fmt.Sprintf("%s must be a string", field))
	}
	return s, nil
}

func asBool(field string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, newError(KindValidation, CodeInvalidValue, fmt.Sprintf("%s must be true or false", field))
	}
	return b, nil
}

func asInt64(field string, v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) {
			return int64(t), nil
		}
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
	}
	return 0, newError(KindValidation, CodeInvalidValue, fmt.Sprintf("%s must be an integer", field))
}

func asInt64List(field string, v interface{}) ([]int64, error) {
	switch t := v.(type) {
	case []int64:
		return t, nil
	case []interface{}:
		out := make([]int64, 0, len(t))
		for _, item := range t {
			n, err := asInt64(field, item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, newError(KindValidation, CodeInvalidValue, fmt.Sprintf("%s must be a list of integers", field))
}

func asStringList(field string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, err := asString(field, item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, newError(KindValidation, CodeInvalidValue, fmt.Sprintf("%s must be a list of strings", field))
}
