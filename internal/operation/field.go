package operation

import "github.com/hanpama/graphcache/internal/language"

// Field is one response entry of a selection after fragments have been
// flattened. Fields selected several times under the same response name
// share one Field whose selections are merged.
type Field struct {
	ResponseName string
	Name         string
	Arguments    language.ArgumentList
	// Definition is nil when the document was loaded without a schema.
	Definition *language.FieldDefinition

	selections []language.SelectionSet
	abstract   bool
}

func (f *Field) FieldName() string                     { return f.Name }
func (f *Field) FieldArguments() language.ArgumentList { return f.Arguments }

// TypeName returns the declared named type, or "" without a schema.
func (f *Field) TypeName() string {
	if f.Definition == nil || f.Definition.Type == nil {
		return ""
	}
	return f.Definition.Type.Name()
}

// IsAbstract reports whether the declared type is an interface or union,
// so the concrete type is only known from the response.
func (f *Field) IsAbstract() bool { return f.abstract }

// IsComposite reports whether the field selects sub-fields.
func (f *Field) IsComposite() bool { return len(f.selections) > 0 }

// Selections returns the merged selection sets of the field.
func (f *Field) Selections() []language.SelectionSet { return f.selections }

// IsList reports whether the declared type is a list. known is false
// without a schema; callers then look at the runtime value.
func (f *Field) IsList() (list, known bool) {
	if f.Definition == nil || f.Definition.Type == nil {
		return false, false
	}
	return f.Definition.Type.Elem != nil, true
}

// ScalarType returns the declared type name when the field is a leaf, for
// custom scalar lookup.
func (f *Field) ScalarType() string {
	if f.IsComposite() {
		return ""
	}
	return f.TypeName()
}
