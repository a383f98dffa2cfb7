package operation

import (
	"strconv"
	"strings"

	"github.com/hanpama/graphcache/internal/language"
)

// Scope is the context a selection is evaluated in: the document that holds
// its fragments, the optional schema and the bound variables.
type Scope struct {
	doc       *language.QueryDocument
	schema    *language.Schema
	variables map[string]any
}

// Variables returns the variables fields are resolved against.
func (s *Scope) Variables() map[string]any { return s.variables }

// HasSchema reports whether field definitions are attached.
func (s *Scope) HasSchema() bool { return s.schema != nil }

func (s *Scope) rootTypeName(op language.Operation) string {
	return language.RootTypeName(s.schema, op)
}

// Collect groups the fields of sets that apply to an object of typeName by
// response name, preserving first-seen order. Fields carrying @skip or
// @include are filtered against the scope's variables. An empty typeName
// matches every type condition.
func (s *Scope) Collect(typeName string, sets []language.SelectionSet) []*Field {
	c := collector{scope: s, typeName: typeName, index: make(map[string]int), visited: make(map[string]bool)}
	for _, set := range sets {
		c.collect(set)
	}
	return c.fields
}

type collector struct {
	scope    *Scope
	typeName string
	fields   []*Field
	index    map[string]int
	visited  map[string]bool
}

func (c *collector) collect(set language.SelectionSet) {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			if !c.scope.shouldInclude(sel.Directives) {
				continue
			}
			c.add(sel)
		case *language.InlineFragment:
			if !c.scope.shouldInclude(sel.Directives) || !c.scope.matches(sel.TypeCondition, c.typeName) {
				continue
			}
			c.collect(sel.SelectionSet)
		case *language.FragmentSpread:
			if !c.scope.shouldInclude(sel.Directives) || c.visited[sel.Name] {
				continue
			}
			c.visited[sel.Name] = true
			def := c.scope.doc.Fragments.ForName(sel.Name)
			if def == nil || !c.scope.matches(def.TypeCondition, c.typeName) {
				continue
			}
			c.collect(def.SelectionSet)
		}
	}
}

func (c *collector) add(f *language.Field) {
	name := f.Alias
	if name == "" {
		name = f.Name
	}
	if i, ok := c.index[name]; ok {
		if len(f.SelectionSet) > 0 {
			c.fields[i].selections = append(c.fields[i].selections, f.SelectionSet)
		}
		return
	}
	field := &Field{ResponseName: name, Name: f.Name, Arguments: f.Arguments, Definition: f.Definition}
	if f.Definition != nil && f.Definition.Type != nil {
		field.abstract = language.IsAbstract(c.scope.schema, f.Definition.Type.Name())
	}
	if len(f.SelectionSet) > 0 {
		field.selections = []language.SelectionSet{f.SelectionSet}
	}
	c.index[name] = len(c.fields)
	c.fields = append(c.fields, field)
}

// matches reports whether a type condition applies to typeName. With a
// schema, interfaces and unions match their possible types. Without one,
// only an exact name matches.
func (s *Scope) matches(condition, typeName string) bool {
	if condition == "" || typeName == "" {
		return true
	}
	return language.PossibleType(s.schema, condition, typeName)
}

func (s *Scope) shouldInclude(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := s.directiveArgument(skip, "if").(bool); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := s.directiveArgument(include, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

func (s *Scope) directiveArgument(d *language.Directive, name string) any {
	arg := d.Arguments.ForName(name)
	if arg == nil {
		return nil
	}
	return valueToGo(arg.Value, s.variables)
}

// valueToGo converts an AST value, substituting variables.
func valueToGo(v *language.Value, variables map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		if val, ok := variables[v.Raw]; ok {
			return val
		}
		return variables[strings.TrimPrefix(v.Raw, "$")]
	case language.IntValue:
		i, _ := strconv.ParseInt(v.Raw, 10, 64)
		return i
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueToGo(c.Value, variables)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			out[c.Name] = valueToGo(c.Value, variables)
		}
		return out
	default:
		return nil
	}
}
