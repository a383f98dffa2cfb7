package operation

import (
	"fmt"

	"github.com/hanpama/graphcache/internal/language"
)

// Fragment is a fragment definition used to read or write a single record
// by key.
type Fragment struct {
	def   *language.FragmentDefinition
	scope *Scope
}

// NewFragment parses source, which holds one or more fragment definitions,
// and selects the fragment called name (the first one when name is empty).
// Schema validation is not applied: a standalone fragment document is not an
// executable document.
func NewFragment(source, name string, variables map[string]any) (*Fragment, error) {
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, err
	}
	if len(doc.Fragments) == 0 {
		return nil, ErrFragmentNotFound
	}
	def := doc.Fragments[0]
	if name != "" {
		def = doc.Fragments.ForName(name)
		if def == nil {
			return nil, fmt.Errorf("%w: %s", ErrFragmentNotFound, name)
		}
	}
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &Fragment{def: def, scope: &Scope{doc: doc, variables: vars}}, nil
}

func (f *Fragment) Name() string          { return f.def.Name }
func (f *Fragment) TypeCondition() string { return f.def.TypeCondition }

// Root returns the fragment's selection applied to the record at key.
func (f *Fragment) Root(key string) Root {
	return Root{
		Key:       key,
		TypeName:  f.def.TypeCondition,
		Selection: []language.SelectionSet{f.def.SelectionSet},
		Scope:     f.scope,
	}
}
