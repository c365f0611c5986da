package graphmodel

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Classification describes how a declared field is represented in the property graph.
// Exactly one classification applies per field; it is computed once when the type's
// schema is built and never changes afterwards.
type Classification int

const (
	// Simple values are stored directly as a property: strings, numbers, booleans,
	// byte blobs and temporal values.
	Simple Classification = iota
	// CollectionOfSimple values are stored directly as a multi-valued property.
	CollectionOfSimple
	// Embedded values are serialized to a JSON blob property on the same entity.
	Embedded
	// RelatedNode values are stored as a separate node reachable through a
	// synthetic or explicit relationship.
	RelatedNode
	// CollectionOfComplex values are stored as multiple separate related nodes.
	CollectionOfComplex
)

func (c Classification) String() string {
	switch c {
	case Simple:
		return "Simple"
	case CollectionOfSimple:
		return "CollectionOfSimple"
	case Embedded:
		return "Embedded"
	case RelatedNode:
		return "RelatedNode"
	case CollectionOfComplex:
		return "CollectionOfComplex"
	}
	return fmt.Sprintf("Classification(%d)", int(c))
}

// Direction defines the direction of a relationship type. It is carried on the
// declared type, not per instance.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Labeled lets a node type override its graph label; without it the struct name is used.
type Labeled interface {
	Label() string
}

// RelationshipTyped lets a relationship type override its relationship type name;
// without it the struct name is used.
type RelationshipTyped interface {
	RelType() string
}

// Directed lets a relationship type declare its direction; without it the
// relationship is Outgoing.
type Directed interface {
	Direction() Direction
}

// FieldDescriptor holds the parsed mapping of a single declared field.
type FieldDescriptor struct {
	// Name is the struct field name.
	Name string
	// Prop is the storage label, defaulting to the field name.
	Prop string
	// Classification routes the field through the codec.
	Classification Classification
	// Index is the struct field index, used for reflective access.
	Index int
	// PK marks the field holding the entity identifier.
	PK bool
	// Indexed marks the property for index creation by external tooling.
	Indexed bool
	// Required makes deserialization fail when no data and no default exist.
	Required bool
	// Default is the typed default value applied when no data was stored, nil if none.
	Default any
	// RelType is the resolved relationship type name for related fields: the
	// explicit reltype tag if given, else the synthetic __PROPERTY__ name.
	RelType string
	// Private excludes the field's relationship from generic traversal surfaces.
	Private bool
	// Target is the element type of a related or collection field, with pointers
	// stripped. Nil for simple fields.
	Target reflect.Type
}

// Schema is the read-only description of a registered entity type: its label or
// relationship type name and the ordered list of field descriptors. Built once per
// type and cached for the process lifetime.
type Schema struct {
	Type           reflect.Type
	Label          string
	IsRelationship bool
	Direction      Direction
	// PKField / PKProp identify the field carrying the entity identifier.
	PKField string
	PKProp  string
	// StartField / EndField are the struct fields holding the endpoint identifiers
	// of a relationship type; empty for node types.
	StartField string
	EndField   string
	Fields     []FieldDescriptor
}

// HasComplex reports whether any field is stored as one or more related nodes.
func (s *Schema) HasComplex() bool {
	for i := range s.Fields {
		c := s.Fields[i].Classification
		if c == RelatedNode || c == CollectionOfComplex {
			return true
		}
	}
	return false
}

// Field returns the descriptor for the given struct field name, or nil.
func (s *Schema) Field(name string) *FieldDescriptor {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// schemaCache stores built schemas keyed by reflect.Type to avoid repeated
// reflection; entity type declarations are immutable once registered.
var schemaCache sync.Map

// SchemaFor builds (or returns the cached) schema for the given type. A pointer
// type is resolved to its element. Malformed declarations fail here with a
// ConfigurationError, never later at per-instance serialization time.
func SchemaFor(typ reflect.Type) (*Schema, error) {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*Schema), nil
	}
	schema, err := buildSchema(typ)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(typ, schema)
	return actual.(*Schema), nil
}

// schemaOf is a generic convenience wrapper around SchemaFor, useful where a
// compile-time type is available instead of a reflect.Type.
func schemaOf[T any]() (*Schema, error) {
	var instance T
	return SchemaFor(reflect.TypeOf(&instance))
}

func buildSchema(typ reflect.Type) (*Schema, error) {
	if typ.Kind() != reflect.Struct {
		return nil, &ConfigurationError{Type: typ.String(), Reason: "not a struct"}
	}

	schema := &Schema{
		Type:      typ,
		Label:     typ.Name(),
		Direction: Outgoing,
	}

	// Type-level overrides come from optional interfaces on the pointer type.
	ptr := reflect.New(typ).Interface()
	if l, ok := ptr.(Labeled); ok {
		schema.Label = l.Label()
	}
	if rt, ok := ptr.(RelationshipTyped); ok {
		schema.Label = rt.RelType()
		schema.IsRelationship = true
	}
	if d, ok := ptr.(Directed); ok {
		schema.Direction = d.Direction()
		schema.IsRelationship = true
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("graph")

		// Fields without a graph tag are not part of the persistence mapping.
		if tag == "" {
			continue
		}

		fd := FieldDescriptor{Name: field.Name, Prop: field.Name, Index: i}
		var explicitRelated, explicitEmbedded, isStart, isEnd bool
		var defaultLiteral string
		var hasDefault bool

		for _, part := range strings.Split(tag, ",") {
			switch {
			case part == "pk":
				fd.PK = true
			case part == "related":
				explicitRelated = true
			case part == "embedded":
				explicitEmbedded = true
			case part == "private":
				fd.Private = true
			case part == "indexed":
				fd.Indexed = true
			case part == "required":
				fd.Required = true
			case part == "startNode":
				isStart = true
			case part == "endNode":
				isEnd = true
			case strings.HasPrefix(part, "property:"):
				fd.Prop = strings.TrimPrefix(part, "property:")
			case strings.HasPrefix(part, "reltype:"):
				fd.RelType = strings.TrimPrefix(part, "reltype:")
				explicitRelated = true
			case strings.HasPrefix(part, "default:"):
				defaultLiteral = strings.TrimPrefix(part, "default:")
				hasDefault = true
			default:
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: fmt.Sprintf("unknown tag component %q", part)}
			}
		}

		if isStart || isEnd {
			if field.Type.Kind() != reflect.String {
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: "endpoint identifier must be a string"}
			}
			if isStart {
				schema.StartField = field.Name
			} else {
				schema.EndField = field.Name
			}
			schema.IsRelationship = true
			continue
		}

		classification, target, err := classify(typ.Name(), field.Name, field.Type, explicitRelated, explicitEmbedded)
		if err != nil {
			return nil, err
		}
		fd.Classification = classification
		fd.Target = target

		if classification == RelatedNode || classification == CollectionOfComplex {
			if fd.RelType == "" {
				fd.RelType = PropertyNameToRelationshipTypeName(fd.Prop)
			}
		}

		if fd.PK {
			if field.Type.Kind() != reflect.String {
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: "primary key must be a string"}
			}
			if schema.PKField != "" {
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: "duplicate primary key declaration"}
			}
			schema.PKField = field.Name
			schema.PKProp = fd.Prop
		}

		if hasDefault {
			if classification != Simple {
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: "default values are only supported on simple fields"}
			}
			def, err := parseDefault(defaultLiteral, field.Type)
			if err != nil {
				return nil, &ConfigurationError{Type: typ.Name(), Field: field.Name,
					Reason: fmt.Sprintf("bad default %q: %v", defaultLiteral, err)}
			}
			fd.Default = def
		}

		schema.Fields = append(schema.Fields, fd)
	}

	if schema.PKField == "" {
		return nil, &ConfigurationError{Type: typ.Name(), Reason: "no primary key ('pk') tag defined"}
	}
	if schema.IsRelationship {
		if schema.StartField == "" || schema.EndField == "" {
			return nil, &ConfigurationError{Type: typ.Name(),
				Reason: "relationship type must declare startNode and endNode fields"}
		}
		for i := range schema.Fields {
			c := schema.Fields[i].Classification
			if c == RelatedNode || c == CollectionOfComplex {
				return nil, &ConfigurationError{Type: typ.Name(), Field: schema.Fields[i].Name,
					Reason: "relationship types cannot carry related-node fields"}
			}
		}
	}

	return schema, nil
}

var timeType = reflect.TypeOf(time.Time{})

// isSimpleKind reports whether a type can be stored directly as a property:
// strings, numbers, booleans, byte blobs and temporal values. Pointers are
// stripped first so optional simple fields stay simple.
func isSimpleKind(t reflect.Type) bool {
	t = deref(t)
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		// []byte is a single blob property, not a collection.
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// isCollection reports whether a type is a multi-valued collection. Byte slices
// are blobs, not collections.
func isCollection(t reflect.Type) bool {
	t = deref(t)
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	return !(t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// classify is the pure structural classification function. It applies the rules
// in order: simple kinds, collections of simple kinds, explicit related overrides,
// collections of complex element types, and finally embedded. Conflicts between an
// explicit override and the structural shape are configuration errors.
func classify(typeName, fieldName string, t reflect.Type, explicitRelated, explicitEmbedded bool) (Classification, reflect.Type, error) {
	if explicitRelated && explicitEmbedded {
		return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
			Reason: "field cannot be both related and embedded"}
	}

	base := deref(t)

	if isCollection(base) {
		elem := deref(base.Elem())
		if isCollection(elem) {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: "collections of collections are not supported"}
		}
		if isSimpleKind(elem) {
			if explicitRelated {
				return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
					Reason: "cannot mark a collection of simple values as related"}
			}
			if explicitEmbedded {
				return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
					Reason: "cannot embed a collection"}
			}
			return CollectionOfSimple, nil, nil
		}
		if explicitEmbedded {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: "cannot embed a collection"}
		}
		if elem.Kind() != reflect.Struct {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: fmt.Sprintf("unsupported collection element type %s", elem)}
		}
		return CollectionOfComplex, elem, nil
	}

	if isSimpleKind(base) {
		if explicitRelated {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: "cannot mark a simple value as related"}
		}
		if explicitEmbedded {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: "cannot embed a simple value"}
		}
		return Simple, nil, nil
	}

	if explicitRelated {
		if base.Kind() != reflect.Struct {
			return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
				Reason: fmt.Sprintf("related field must be a struct, got %s", base)}
		}
		return RelatedNode, base, nil
	}

	switch base.Kind() {
	case reflect.Struct, reflect.Map:
		return Embedded, base, nil
	}
	return 0, nil, &ConfigurationError{Type: typeName, Field: fieldName,
		Reason: fmt.Sprintf("unsupported field type %s", t)}
}

// parseDefault converts a tag default literal into the field's type. Only simple
// scalar kinds are supported.
func parseDefault(literal string, t reflect.Type) (any, error) {
	t = deref(t)
	switch t.Kind() {
	case reflect.String:
		return literal, nil
	case reflect.Bool:
		return strconv.ParseBool(literal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("defaults not supported for %s", t)
}
