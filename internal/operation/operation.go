// Package operation turns GraphQL documents into the metadata the cache
// needs: the operation's variables, its root record key and a field tree
// that the normalizer and reader walk.
package operation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/language"
)

var (
	ErrNoOperation        = errors.New("operation: document has no operation")
	ErrOperationNotFound  = errors.New("operation: named operation not found")
	ErrAmbiguousOperation = errors.New("operation: document has several operations and no name was given")
	ErrMissingVariable    = errors.New("operation: required variable not provided")
	ErrFragmentNotFound   = errors.New("operation: fragment not found")
)

// Options configure how a document is loaded.
type Options struct {
	Schema        *language.Schema
	OperationName string
}

type Option func(*Options)

// WithSchema validates the document against s and attaches field
// definitions, enabling custom scalar decoding and abstract type matching.
func WithSchema(s *language.Schema) Option {
	return func(o *Options) { o.Schema = s }
}

// WithOperationName selects one operation of a multi-operation document.
func WithOperationName(name string) Option {
	return func(o *Options) { o.OperationName = name }
}

// Operation is a parsed query, mutation or subscription bound to its
// variables.
type Operation struct {
	source    string
	def       *language.OperationDefinition
	scope     *Scope
	variables map[string]any
	id        string
}

// New parses source and binds variables. Variables absent from the map take
// the default value declared in the document, if any.
func New(source string, variables map[string]any, opts ...Option) (*Operation, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	doc, err := load(source, o.Schema)
	if err != nil {
		return nil, err
	}
	def, err := pickOperation(doc, o.OperationName)
	if err != nil {
		return nil, err
	}
	vars, err := bindVariables(def, variables)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(source))
	return &Operation{
		source:    source,
		def:       def,
		scope:     &Scope{doc: doc, schema: o.Schema, variables: vars},
		variables: vars,
		id:        hex.EncodeToString(sum[:]),
	}, nil
}

// MustNew is New for documents known to be valid.
func MustNew(source string, variables map[string]any, opts ...Option) *Operation {
	op, err := New(source, variables, opts...)
	if err != nil {
		panic(err)
	}
	return op
}

func load(source string, schema *language.Schema) (*language.QueryDocument, error) {
	if schema != nil {
		return language.LoadQuery(schema, source)
	}
	return language.ParseQuery(source)
}

func pickOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if len(doc.Operations) == 0 {
		return nil, ErrNoOperation
	}
	if name == "" {
		if len(doc.Operations) > 1 {
			return nil, ErrAmbiguousOperation
		}
		return doc.Operations[0], nil
	}
	if def := doc.Operations.ForName(name); def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, name)
}

func bindVariables(def *language.OperationDefinition, given map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(given))
	for k, v := range given {
		out[k] = v
	}
	for _, vd := range def.VariableDefinitions {
		if _, ok := out[vd.Variable]; ok {
			continue
		}
		if vd.DefaultValue != nil {
			out[vd.Variable] = valueToGo(vd.DefaultValue, nil)
			continue
		}
		if vd.Type != nil && vd.Type.NonNull {
			return nil, fmt.Errorf("%w: $%s", ErrMissingVariable, vd.Variable)
		}
	}
	return out, nil
}

// Source returns the document text sent to the server.
func (o *Operation) Source() string { return o.source }

// Name returns the operation name, or "" for anonymous operations.
func (o *Operation) Name() string { return o.def.Name }

// Type returns query, mutation or subscription.
func (o *Operation) Type() language.Operation { return o.def.Operation }

// Variables returns the bound variables, including declared defaults.
func (o *Operation) Variables() map[string]any { return o.variables }

// ID is the hex SHA-256 of the document, as used by persisted queries.
func (o *Operation) ID() string { return o.id }

// RootKey returns the synthetic record key anchoring this operation.
func (o *Operation) RootKey() string { return cachekey.ForOperation(o.def.Operation) }

// Root returns the selection applied to the root record.
func (o *Operation) Root() Root {
	return Root{
		Key:       o.RootKey(),
		TypeName:  o.scope.rootTypeName(o.def.Operation),
		Selection: []language.SelectionSet{o.def.SelectionSet},
		Scope:     o.scope,
	}
}

// Root is where normalization and cache reads start: a record key plus the
// selection applied to that record.
type Root struct {
	Key       string
	TypeName  string
	Selection []language.SelectionSet
	Scope     *Scope
}

// Fields collects the root selection for the root's type.
func (r Root) Fields() []*Field {
	return r.Scope.Collect(r.TypeName, r.Selection)
}
