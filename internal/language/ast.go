package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	QueryDocument       = ast.QueryDocument
	Schema              = ast.Schema
	OperationDefinition = ast.OperationDefinition
	SelectionSet        = ast.SelectionSet
	Field               = ast.Field
	InlineFragment      = ast.InlineFragment
	FragmentDefinition  = ast.FragmentDefinition
	FragmentSpread      = ast.FragmentSpread
	Directive           = ast.Directive
	DirectiveList       = ast.DirectiveList
	ArgumentList        = ast.ArgumentList
	Value               = ast.Value
	FieldDefinition     = ast.FieldDefinition
)

type Operation = ast.Operation

type ValueKind = ast.ValueKind

const (
	Query        Operation = ast.Query
	Mutation     Operation = ast.Mutation
	Subscription Operation = ast.Subscription

	Variable     ValueKind = ast.Variable
	IntValue     ValueKind = ast.IntValue
	FloatValue   ValueKind = ast.FloatValue
	StringValue  ValueKind = ast.StringValue
	BlockValue   ValueKind = ast.BlockValue
	BooleanValue ValueKind = ast.BooleanValue
	NullValue    ValueKind = ast.NullValue
	EnumValue    ValueKind = ast.EnumValue
	ListValue    ValueKind = ast.ListValue
	ObjectValue  ValueKind = ast.ObjectValue
)

// RootTypeName returns the object type an operation starts from. Without a
// schema, or when the schema does not declare the root, the conventional
// name is used.
func RootTypeName(schema *Schema, op Operation) string {
	var def *ast.Definition
	if schema != nil {
		switch op {
		case Mutation:
			def = schema.Mutation
		case Subscription:
			def = schema.Subscription
		default:
			def = schema.Query
		}
	}
	if def != nil {
		return def.Name
	}
	switch op {
	case Mutation:
		return "Mutation"
	case Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// PossibleType reports whether objects of typeName satisfy the type
// condition. Interfaces and unions match their possible types; a nil schema
// matches exact names only.
func PossibleType(schema *Schema, condition, typeName string) bool {
	if condition == typeName {
		return true
	}
	if schema == nil {
		return false
	}
	def := schema.Types[condition]
	if def == nil {
		return false
	}
	for _, p := range schema.GetPossibleTypes(def) {
		if p.Name == typeName {
			return true
		}
	}
	return false
}

// IsAbstract reports whether the schema declares typeName as an interface
// or union. It is false without a schema.
func IsAbstract(schema *Schema, typeName string) bool {
	if schema == nil {
		return false
	}
	def := schema.Types[typeName]
	return def != nil && (def.Kind == ast.Interface || def.Kind == ast.Union)
}
