package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
)

func TestMapFieldType(t *testing.T) {
	tests := []struct {
		fieldType  string
		wantType   string
		wantFormat string
	}{
		{connector.TypeInteger, "integer", "int64"},
		{connector.TypeMany2One, "integer", "int64"},
		{connector.TypeFloat, "number", "double"},
		{connector.TypeChar, "string", ""},
		{connector.TypeText, "string", ""},
		{connector.TypeBoolean, "boolean", ""},
		{connector.TypeDate, "string", "date"},
		{connector.TypeDatetime, "string", "date-time"},
		{connector.TypeBinary, "string", "byte"},
		{connector.TypeJSON, "object", ""},
		{" Integer ", "integer", "int64"},
		{"geometry", "string", ""},
		{"", "string", ""},
	}
	for _, tt := range tests {
		got := MapFieldType(tt.fieldType)
		if got.Type != tt.wantType || got.Format != tt.wantFormat {
			t.Errorf("MapFieldType(%q) = {%q, %q}, want {%q, %q}",
				tt.fieldType, got.Type, got.Format, tt.wantType, tt.wantFormat)
		}
	}
}

func testOptions() Options {
	return Options{
		Title:         "Portico API",
		Version:       "2.0",
		ServerURL:     "http://localhost:8080",
		APIKeyHeader:  "api-key",
		SessionHeader: "session-token",
	}
}

func testCollections() []Collection {
	return []Collection{
		{
			Name: "partners",
			Fields: []model.Field{
				{Name: "id", Type: connector.TypeInteger, Readonly: true},
				{Name: "name", Type: connector.TypeChar, Required: true},
				{Name: "parent_id", Type: connector.TypeMany2One, Relation: "partners"},
				{Name: "active", Type: connector.TypeBoolean},
			},
		},
		{
			Name:     "sf-orders",
			ReadOnly: true,
			Fields: []model.Field{
				{Name: "id", Type: connector.TypeInteger, Readonly: true},
				{Name: "total", Type: connector.TypeFloat},
			},
		},
	}
}

func TestGenerateInfoAndSecurity(t *testing.T) {
	doc := Generate(testOptions(), testCollections())

	if doc.OpenAPI != "3.0.3" {
		t.Errorf("OpenAPI = %q, want 3.0.3", doc.OpenAPI)
	}
	if doc.Info == nil || doc.Info.Title != "Portico API" || doc.Info.Version != "2.0" {
		t.Fatalf("Info = %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}

	schemes := doc.Components.SecuritySchemes
	tests := []struct {
		scheme string
		header string
	}{
		{"apiKey", "api-key"},
		{"sessionToken", "session-token"},
	}
	for _, tt := range tests {
		ref, ok := schemes[tt.scheme]
		if !ok {
			t.Fatalf("missing security scheme %q", tt.scheme)
		}
		if ref.Value.Type != "apiKey" || ref.Value.In != "header" || ref.Value.Name != tt.header {
			t.Errorf("scheme %q = %+v, want apiKey in header %q", tt.scheme, ref.Value, tt.header)
		}
	}
	if len(doc.Security) != 2 {
		t.Errorf("document security = %v, want both schemes", doc.Security)
	}
}

func TestGenerateNoServerURL(t *testing.T) {
	opts := testOptions()
	opts.ServerURL = ""
	if doc := Generate(opts, nil); len(doc.Servers) != 0 {
		t.Errorf("Servers = %v, want none", doc.Servers)
	}
}

func TestGeneratePaths(t *testing.T) {
	doc := Generate(testOptions(), testCollections())

	tests := []struct {
		path   string
		method string
		public bool
	}{
		{"/api/v2/test", "GET", true},
		{"/api/v2/auth/login", "POST", true},
		{"/api/v2/auth/refresh", "POST", true},
		{"/api/v2/auth/logout", "POST", true},
		{"/api/v2/auth/test", "GET", false},
		{"/api/v2/auth/me", "GET", false},
		{"/api/v2/user/info", "GET", false},
		{"/api/v2/groups", "GET", false},
		{"/api/v2/collections", "GET", false},
		{"/api/v2/search/{collection}", "GET", false},
		{"/api/v2/fields/{collection}", "GET", false},
		{"/api/v2/read/{collection}", "GET", false},
		{"/api/v2/create/{collection}", "POST", false},
		{"/api/v2/write/{collection}", "PUT", false},
		{"/api/v2/users", "GET", false},
		{"/api/v2/users/{id}", "GET", false},
		{"/api/v2/users/{id}", "PUT", false},
		{"/api/v2/users/{id}/password", "PUT", false},
		{"/api/v2/users/{id}/reset-password", "POST", false},
		{"/api/v2/users/{id}/api-key", "POST", false},
		{"/api/v2/users/{id}/api-key", "DELETE", false},
	}
	for _, tt := range tests {
		item := doc.Paths.Value(tt.path)
		if item == nil {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		op := item.GetOperation(tt.method)
		if op == nil {
			t.Errorf("missing %s %s", tt.method, tt.path)
			continue
		}
		public := op.Security != nil && len(*op.Security) == 0
		if public != tt.public {
			t.Errorf("%s %s public = %v, want %v", tt.method, tt.path, public, tt.public)
		}
		if !tt.public && op.Responses.Value("401") == nil {
			t.Errorf("%s %s should document 401", tt.method, tt.path)
		}
	}

	if doc.Paths.Value("/api/v2/create/{collection}").Post.Responses.Value("201") == nil {
		t.Error("create should document 201")
	}
}

func TestCollectionParameterEnum(t *testing.T) {
	doc := Generate(testOptions(), testCollections())
	op := doc.Paths.Value("/api/v2/search/{collection}").Get
	var found bool
	for _, p := range op.Parameters {
		if p.Value.Name != "collection" {
			continue
		}
		found = true
		if p.Value.In != "path" || !p.Value.Required {
			t.Errorf("collection parameter = %+v, want required path parameter", p.Value)
		}
		enum := p.Value.Schema.Value.Enum
		if len(enum) != 2 || enum[0] != "partners" || enum[1] != "sf-orders" {
			t.Errorf("enum = %v, want [partners sf-orders]", enum)
		}
	}
	if !found {
		t.Fatal("search has no collection parameter")
	}
}

func TestRecordSchemas(t *testing.T) {
	doc := Generate(testOptions(), testCollections())

	partners, ok := doc.Components.Schemas["Record_partners"]
	if !ok {
		t.Fatal("missing Record_partners schema")
	}
	props := partners.Value.Properties
	if len(props) != 4 {
		t.Errorf("partners has %d properties, want 4", len(props))
	}
	if !props["id"].Value.ReadOnly {
		t.Error("id should be readOnly")
	}
	if props["name"].Value.ReadOnly {
		t.Error("name should be writable")
	}
	if got := props["parent_id"].Value.Type.Slice(); len(got) != 1 || got[0] != "integer" {
		t.Errorf("parent_id type = %v, want integer", got)
	}
	if len(partners.Value.Required) != 1 || partners.Value.Required[0] != "name" {
		t.Errorf("required = %v, want [name]", partners.Value.Required)
	}

	orders, ok := doc.Components.Schemas["Record_sf_orders"]
	if !ok {
		t.Fatal("missing Record_sf_orders schema")
	}
	if !orders.Value.Properties["total"].Value.ReadOnly {
		t.Error("fields of a read-only source should be readOnly")
	}
}

func TestGenerateMarshalsJSON(t *testing.T) {
	doc := Generate(testOptions(), testCollections())
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded["paths"].(map[string]interface{})["/api/v2/search/{collection}"]; !ok {
		t.Error("marshaled document has no search path")
	}
}

func TestRecordSchemaName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"partners", "Record_partners"},
		{"sf-orders", "Record_sf_orders"},
		{"crm.res partner", "Record_crm_res_partner"},
	}
	for _, tt := range tests {
		if got := RecordSchemaName(tt.in); got != tt.want {
			t.Errorf("RecordSchemaName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeCatalog struct {
	names    []string
	fields   map[string][]model.Field
	readOnly map[string]bool
	err      error
}

func (f *fakeCatalog) Collections(ctx context.Context, actor recordstore.Actor) ([]string, error) {
	if !actor.IsSystem() {
		return nil, errors.New("expected the system actor")
	}
	return f.names, f.err
}

func (f *fakeCatalog) FieldsOf(name string) (*model.FieldSet, error) {
	fields, ok := f.fields[name]
	if !ok {
		return nil, recordstore.ErrUnknownCollection
	}
	return model.NewFieldSet(fields), nil
}

func (f *fakeCatalog) IsReadOnly(name string) bool { return f.readOnly[name] }

func TestDescribe(t *testing.T) {
	cat := &fakeCatalog{
		names: []string{"gone", "orders", "partners"},
		fields: map[string][]model.Field{
			"orders":   {{Name: "id"}},
			"partners": {{Name: "id"}, {Name: "name"}},
		},
		readOnly: map[string]bool{"orders": true},
	}
	got, err := Describe(context.Background(), cat)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Describe returned %d collections, want 2", len(got))
	}
	if got[0].Name != "orders" || !got[0].ReadOnly {
		t.Errorf("got[0] = %+v, want read-only orders", got[0])
	}
	if got[1].Name != "partners" || len(got[1].Fields) != 2 {
		t.Errorf("got[1] = %+v, want partners with 2 fields", got[1])
	}

	cat.err = errors.New("boom")
	if _, err := Describe(context.Background(), cat); err == nil {
		t.Error("Describe should fail when listing fails")
	}
}
