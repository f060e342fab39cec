package tenant

// ListDefinition declares one SharePoint list the application expects,
// including the alternate titles tolerated on legacy sites.
type ListDefinition struct {
	// Key is the stable program identifier, independent of display titles.
	Key string
	// Title is the canonical display name used when creating the list.
	Title string
	// Aliases are alternate titles accepted when probing legacy sites.
	Aliases []string
	// Template is the numeric SharePoint list template id (100 = generic).
	Template int
	Fields   []FieldDefinition
}

// FieldDefinition declares one expected list field.
type FieldDefinition struct {
	// Name is the field internal name, as addressed by
	// getByInternalNameOrTitle.
	Name string
	// SchemaXML is the creation payload passed to createfieldasxml.
	SchemaXML string
	// Type is the expected TypeAsString value, used for drift detection.
	Type string
}

// CandidateTitles returns the canonical title followed by the aliases,
// in probe order.
func (d ListDefinition) CandidateTitles() []string {
	titles := make([]string, 0, 1+len(d.Aliases))
	titles = append(titles, d.Title)
	titles = append(titles, d.Aliases...)
	return titles
}

// Field returns the declared field with the given internal name.
func (d ListDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
