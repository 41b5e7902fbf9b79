package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/porticoapi/portico/internal/connector"
)

// TypeMapping is an OpenAPI type/format pair.
type TypeMapping struct {
	Type   string // string, integer, number, boolean, object, array
	Format string // int64, double, date, date-time, byte
}

// fieldTypeToOpenAPI maps the field types reported by connectors.
var fieldTypeToOpenAPI = map[string]TypeMapping{
	connector.TypeInteger:  {"integer", "int64"},
	connector.TypeMany2One: {"integer", "int64"},
	connector.TypeFloat:    {"number", "double"},
	connector.TypeChar:     {"string", ""},
	connector.TypeText:     {"string", ""},
	connector.TypeBoolean:  {"boolean", ""},
	connector.TypeDate:     {"string", "date"},
	connector.TypeDatetime: {"string", "date-time"},
	connector.TypeBinary:   {"string", "byte"},
	connector.TypeJSON:     {"object", ""},
}

// MapFieldType converts a field type to an OpenAPI type mapping. Unknown
// types map to string.
func MapFieldType(fieldType string) TypeMapping {
	if m, ok := fieldTypeToOpenAPI[strings.ToLower(strings.TrimSpace(fieldType))]; ok {
		return m
	}
	return TypeMapping{"string", ""}
}

func typeSchema(m TypeMapping) *openapi3.Schema {
	s := &openapi3.Schema{Type: &openapi3.Types{m.Type}}
	if m.Format != "" {
		s.Format = m.Format
	}
	return s
}
