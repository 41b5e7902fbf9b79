package model

// Field describes one field of a collection as discovered by introspection.
type Field struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Required    bool    `json:"required"`
	Readonly    bool    `json:"readonly"`
	Relation    string  `json:"relation,omitempty"`
	Description string  `json:"description"`
	Default     *string `json:"-"`
}

// FieldSet indexes a collection's fields by name while keeping their order.
type FieldSet struct {
	Fields []Field
	byName map[string]int
}

// NewFieldSet builds a FieldSet from an ordered list of fields.
func NewFieldSet(fields []Field) *FieldSet {
	fs := &FieldSet{Fields: fields, byName: make(map[string]int, len(fields))}
	for i, f := range fields {
		fs.byName[f.Name] = i
	}
	return fs
}

// Has reports whether the collection has a field with the given name.
func (fs *FieldSet) Has(name string) bool {
	_, ok := fs.byName[name]
	return ok
}

// Get returns the named field.
func (fs *FieldSet) Get(name string) (Field, bool) {
	i, ok := fs.byName[name]
	if !ok {
		return Field{}, false
	}
	return fs.Fields[i], true
}

// Names returns every field name in declaration order.
func (fs *FieldSet) Names() []string {
	names := make([]string, len(fs.Fields))
	for i, f := range fs.Fields {
		names[i] = f.Name
	}
	return names
}
