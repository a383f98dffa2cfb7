package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// Error is a syntax or validation error reported by the GraphQL parser.
type Error = gqlerror.Error

// ParseQuery parses an executable document without validating it.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates SDL, adding the built-in scalars and
// directives.
func LoadSchema(name, sdl string) (*Schema, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoadQuery parses source and validates it against schema. Field and
// fragment nodes of the returned document carry their schema definitions.
func LoadQuery(schema *Schema, source string) (*QueryDocument, error) {
	doc, errs := gqlparser.LoadQuery(schema, source)
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return doc, nil
}

type validationErrors gqlerror.List

func (v validationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v validationErrors) Unwrap() []error {
	out := make([]error, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

func joinErrors(errs gqlerror.List) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return validationErrors(errs)
}
