package openapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
)

// BasePath prefixes every API route.
const BasePath = "/api/v2"

// Options describe the served API.
type Options struct {
	Title         string
	Version       string
	ServerURL     string // empty omits the servers list
	APIKeyHeader  string
	SessionHeader string
}

// Collection is one mounted collection and its fields.
type Collection struct {
	Name     string
	Fields   []model.Field
	ReadOnly bool
}

// Catalog lists mounted collections. *recordstore.SQLStore satisfies it.
type Catalog interface {
	Collections(ctx context.Context, actor recordstore.Actor) ([]string, error)
	FieldsOf(name string) (*model.FieldSet, error)
	IsReadOnly(name string) bool
}

// Describe lists every mounted collection with its fields, regardless of
// access rules.
func Describe(ctx context.Context, cat Catalog) ([]Collection, error) {
	names, err := cat.Collections(ctx, recordstore.System())
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]Collection, 0, len(names))
	for _, name := range names {
		fs, err := cat.FieldsOf(name)
		if err != nil {
			// Unmounted between the two calls.
			continue
		}
		out = append(out, Collection{Name: name, Fields: fs.Fields, ReadOnly: cat.IsReadOnly(name)})
	}
	return out, nil
}

const (
	schemeAPIKey  = "apiKey"
	schemeSession = "sessionToken"
)

// Generate builds the OpenAPI 3 document of the HTTP API. Each collection
// gets a component schema named by RecordSchemaName.
func Generate(opts Options, collections []Collection) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       opts.Title,
			Description: "Record and identity API with API key and session token authentication.",
			Version:     opts.Version,
		},
		Paths: openapi3.NewPaths(),
	}
	if opts.ServerURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.ServerURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		schemeAPIKey: &openapi3.SecuritySchemeRef{
			Value: openapi3.NewSecurityScheme().WithType("apiKey").WithIn("header").WithName(opts.APIKeyHeader),
		},
		schemeSession: &openapi3.SecuritySchemeRef{
			Value: openapi3.NewSecurityScheme().WithType("apiKey").WithIn("header").WithName(opts.SessionHeader),
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{
		{schemeSession: []string{}},
		{schemeAPIKey: []string{}},
	}

	addSharedSchemas(doc)

	names := make([]interface{}, 0, len(collections))
	for _, c := range collections {
		doc.Components.Schemas[RecordSchemaName(c.Name)] = recordSchema(c)
		names = append(names, c.Name)
	}

	addAuthPaths(doc)
	addRecordPaths(doc, names)
	addUserPaths(doc)
	return doc
}

// RecordSchemaName returns the component schema name of a collection.
func RecordSchemaName(collection string) string {
	var b strings.Builder
	b.WriteString("Record_")
	for _, r := range collection {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func addSharedSchemas(doc *openapi3.T) {
	s := doc.Components.Schemas
	s["ErrorResponse"] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithPropertyRef("error", openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("message", openapi3.NewStringSchema()).
			WithProperty("code", openapi3.NewStringSchema()))))

	s["Field"] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("type", openapi3.NewStringSchema()).
		WithProperty("required", openapi3.NewBoolSchema()).
		WithProperty("readonly", openapi3.NewBoolSchema()).
		WithProperty("relation", openapi3.NewStringSchema()).
		WithProperty("description", openapi3.NewStringSchema()))

	s["SearchResult"] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("records", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())).
		WithProperty("count", openapi3.NewIntegerSchema()).
		WithProperty("total", openapi3.NewInt64Schema()).
		WithProperty("limit", openapi3.NewIntegerSchema()).
		WithProperty("offset", openapi3.NewIntegerSchema()).
		WithProperty("collection", openapi3.NewStringSchema()).
		WithProperty("fields", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())))

	s["Session"] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("session_token", openapi3.NewStringSchema()).
		WithProperty("expires_at", openapi3.NewDateTimeSchema()).
		WithProperty("user", openapi3.NewObjectSchema().
			WithProperty("id", openapi3.NewInt64Schema()).
			WithProperty("name", openapi3.NewStringSchema()).
			WithProperty("login", openapi3.NewStringSchema()).
			WithProperty("email", openapi3.NewStringSchema()).
			WithProperty("groups", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))))
}

// recordSchema describes a collection's records. Readonly fields are marked
// readOnly; required writable fields are listed as required.
func recordSchema(c Collection) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Description = "Record of collection " + c.Name
	if c.ReadOnly {
		s.Description += " (read-only source)"
	}
	for _, f := range c.Fields {
		fs := typeSchema(MapFieldType(f.Type))
		fs.Description = f.Description
		fs.ReadOnly = f.Readonly || c.ReadOnly
		if f.Relation != "" {
			fs.Description = strings.TrimSpace(fs.Description + " (relation to " + f.Relation + ")")
		}
		s.WithProperty(f.Name, fs)
		if f.Required && !f.Readonly {
			s.Required = append(s.Required, f.Name)
		}
	}
	return openapi3.NewSchemaRef("", s)
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// envelope wraps data in the success envelope.
func envelope(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithPropertyRef("data", data).
		WithProperty("message", openapi3.NewStringSchema()))
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items})
}

func object() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema())
}

// operation describes one route. Unsecured operations override the
// document-wide security requirement.
type operation struct {
	id       string
	tag      string
	summary  string
	public   bool
	params   openapi3.Parameters
	body     *openapi3.SchemaRef
	status   string
	data     *openapi3.SchemaRef
	failures []string
}

var errorDescriptions = map[string]string{
	"400": "Validation error",
	"401": "Missing, invalid or expired credentials",
	"403": "Inactive identity or access denied",
	"404": "Collection or record not found",
	"409": "Conflict",
	"413": "Request body too large",
	"429": "Rate limited",
	"500": "Internal error",
}

func (o operation) build() *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = o.id
	op.Tags = []string{o.tag}
	op.Summary = o.summary
	op.Parameters = o.params
	if o.public {
		op.Security = openapi3.NewSecurityRequirements()
	}
	if o.body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithContent(openapi3.NewContentWithJSONSchemaRef(o.body)),
		}
	}

	data := o.data
	if data == nil {
		data = object()
	}
	responses := openapi3.NewResponses()
	responses.Set(o.status, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Success").WithContent(openapi3.NewContentWithJSONSchemaRef(envelope(data))),
	})
	failures := o.failures
	if !o.public {
		failures = append([]string{"401", "403"}, failures...)
	}
	failures = append(failures, "500")
	for _, code := range failures {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(errorDescriptions[code]).WithContent(openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse"))),
		})
	}
	op.Responses = responses
	return op
}

func param(p *openapi3.Parameter, s *openapi3.Schema, description string) *openapi3.ParameterRef {
	p.Schema = openapi3.NewSchemaRef("", s)
	p.Description = description
	return &openapi3.ParameterRef{Value: p}
}

func jsonBody(props map[string]*openapi3.Schema, required ...string) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	for name, ps := range props {
		s.WithProperty(name, ps)
	}
	s.Required = required
	return openapi3.NewSchemaRef("", s)
}

func addAuthPaths(doc *openapi3.T) {
	p := doc.Paths
	p.Set(BasePath+"/test", &openapi3.PathItem{Get: operation{
		id: "test", tag: "auth", summary: "Check that the API is up", public: true, status: "200",
	}.build()})
	p.Set(BasePath+"/auth/test", &openapi3.PathItem{Get: operation{
		id: "authTest", tag: "auth", summary: "Echo the authenticated identity", status: "200",
	}.build()})
	p.Set(BasePath+"/auth/login", &openapi3.PathItem{Post: operation{
		id: "login", tag: "auth", summary: "Exchange a login and password for a session token", public: true,
		body: jsonBody(map[string]*openapi3.Schema{
			"username": openapi3.NewStringSchema(),
			"password": openapi3.NewStringSchema().WithFormat("password"),
		}, "username", "password"),
		status: "200", data: ref("Session"), failures: []string{"400", "401", "403", "413", "429"},
	}.build()})
	p.Set(BasePath+"/auth/refresh", &openapi3.PathItem{Post: operation{
		id: "refreshSession", tag: "auth", summary: "Rotate the session token in the session header", public: true,
		status: "200", data: ref("Session"), failures: []string{"401"},
	}.build()})
	p.Set(BasePath+"/auth/logout", &openapi3.PathItem{Post: operation{
		id: "logout", tag: "auth", summary: "End the session in the session header", public: true,
		status: "200", failures: []string{"401"},
	}.build()})
	p.Set(BasePath+"/auth/me", &openapi3.PathItem{Get: operation{
		id: "me", tag: "auth", summary: "Profile, groups and permissions of the caller", status: "200",
	}.build()})
	p.Set(BasePath+"/user/info", &openapi3.PathItem{Get: operation{
		id: "userInfo", tag: "auth", summary: "Basic information about the caller", status: "200",
	}.build()})
}

func addRecordPaths(doc *openapi3.T, names []interface{}) {
	collection := openapi3.NewStringSchema()
	if len(names) > 0 {
		collection.Enum = names
	}
	collectionParam := param(openapi3.NewPathParameter("collection"), collection, "Collection name")
	fieldsParam := param(openapi3.NewQueryParameter("fields"), openapi3.NewStringSchema(), "Comma-separated field names")
	idsParam := param(openapi3.NewQueryParameter("ids"), openapi3.NewStringSchema(), "Comma-separated record ids")
	idsParam.Value.Required = true

	p := doc.Paths
	p.Set(BasePath+"/collections", &openapi3.PathItem{Get: operation{
		id: "listCollections", tag: "records", summary: "List readable collections", status: "200",
	}.build()})
	p.Set(BasePath+"/search/{collection}", &openapi3.PathItem{Get: operation{
		id: "searchRecords", tag: "records",
		summary: "Search a collection; other query parameters are equality filters",
		params: openapi3.Parameters{
			collectionParam,
			fieldsParam,
			param(openapi3.NewQueryParameter("limit"), openapi3.NewIntegerSchema().WithMin(1), "Page size"),
			param(openapi3.NewQueryParameter("offset"), openapi3.NewIntegerSchema().WithMin(0), "Records to skip"),
			param(openapi3.NewQueryParameter("order"), openapi3.NewStringSchema(), "Order clause, e.g. name desc"),
			param(openapi3.NewQueryParameter("include_inactive"), openapi3.NewBoolSchema(), "Return inactive records too"),
		},
		status: "200", data: ref("SearchResult"), failures: []string{"400", "404"},
	}.build()})
	p.Set(BasePath+"/fields/{collection}", &openapi3.PathItem{Get: operation{
		id: "describeCollection", tag: "records", summary: "Describe the fields of a collection",
		params: openapi3.Parameters{collectionParam},
		status: "200", data: openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("collection", openapi3.NewStringSchema()).
			WithPropertyRef("fields", arrayOf(ref("Field"))).
			WithProperty("field_count", openapi3.NewIntegerSchema())),
		failures: []string{"404"},
	}.build()})
	p.Set(BasePath+"/read/{collection}", &openapi3.PathItem{Get: operation{
		id: "readRecords", tag: "records", summary: "Read records by id, in the order given",
		params: openapi3.Parameters{collectionParam, idsParam, fieldsParam},
		status: "200", failures: []string{"400", "404"},
	}.build()})
	p.Set(BasePath+"/create/{collection}", &openapi3.PathItem{Post: operation{
		id: "createRecord", tag: "records", summary: "Create a record",
		params: openapi3.Parameters{collectionParam},
		body:   object(), status: "201", failures: []string{"400", "404", "409", "413"},
	}.build()})
	p.Set(BasePath+"/write/{collection}", &openapi3.PathItem{Put: operation{
		id: "writeRecords", tag: "records", summary: "Update the records named by ids",
		params: openapi3.Parameters{collectionParam, idsParam},
		body:   object(), status: "200", failures: []string{"400", "404", "409", "413"},
	}.build()})
}

func addUserPaths(doc *openapi3.T) {
	idParam := param(openapi3.NewPathParameter("id"), openapi3.NewInt64Schema().WithMin(1), "Identity id")

	p := doc.Paths
	p.Set(BasePath+"/groups", &openapi3.PathItem{Get: operation{
		id: "listGroups", tag: "users", summary: "List groups by category (user managers)", status: "200",
	}.build()})
	p.Set(BasePath+"/users", &openapi3.PathItem{Get: operation{
		id: "listUsers", tag: "users", summary: "Page through the identity directory",
		params: openapi3.Parameters{
			param(openapi3.NewQueryParameter("search"), openapi3.NewStringSchema(), "Match name, login or email"),
			param(openapi3.NewQueryParameter("limit"), openapi3.NewIntegerSchema().WithMin(1), "Page size"),
			param(openapi3.NewQueryParameter("offset"), openapi3.NewIntegerSchema().WithMin(0), "Records to skip"),
			param(openapi3.NewQueryParameter("active_only"), openapi3.NewBoolSchema(), "Hide inactive identities (default true)"),
		},
		status: "200", failures: []string{"400"},
	}.build()})
	p.Set(BasePath+"/users/{id}", &openapi3.PathItem{
		Get: operation{
			id: "getUser", tag: "users", summary: "Get one identity",
			params: openapi3.Parameters{idParam}, status: "200", failures: []string{"400", "404"},
		}.build(),
		Put: operation{
			id: "updateUser", tag: "users", summary: "Update identity fields",
			params: openapi3.Parameters{idParam}, body: object(),
			status: "200", failures: []string{"400", "404", "409", "413"},
		}.build(),
	})
	p.Set(BasePath+"/users/{id}/password", &openapi3.PathItem{Put: operation{
		id: "changePassword", tag: "users", summary: "Change a password",
		params: openapi3.Parameters{idParam},
		body: jsonBody(map[string]*openapi3.Schema{
			"new_password": openapi3.NewStringSchema().WithFormat("password"),
			"old_password": openapi3.NewStringSchema().WithFormat("password"),
		}, "new_password"),
		status: "200", failures: []string{"400", "404", "413"},
	}.build()})
	p.Set(BasePath+"/users/{id}/reset-password", &openapi3.PathItem{Post: operation{
		id: "resetPassword", tag: "users", summary: "Replace the password with a temporary one",
		params: openapi3.Parameters{idParam}, status: "200", failures: []string{"400", "404"},
	}.build()})
	p.Set(BasePath+"/users/{id}/api-key", &openapi3.PathItem{
		Post: operation{
			id: "issueAPIKey", tag: "users", summary: "Generate an API key, replacing any previous one",
			params: openapi3.Parameters{idParam}, status: "200", failures: []string{"400", "404"},
		}.build(),
		Delete: operation{
			id: "revokeAPIKey", tag: "users", summary: "Revoke the API key",
			params: openapi3.Parameters{idParam}, status: "200", failures: []string{"400", "404"},
		}.build(),
	})
}
