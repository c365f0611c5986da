package graphmodel

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// DefaultDepthAllowed bounds how deep related-node properties are followed when
// loading an entity graph.
const DefaultDepthAllowed = 5

// Relationship type naming convention for related-node properties. A field with no
// explicit reltype gets the synthetic name "__PROPERTY__{name}__"; the codec and
// the query translator share this convention, no entity owns it.
const (
	propertyRelTypePrefix = "__PROPERTY__"
	propertyRelTypeSuffix = "__"
)

// PropertyNameToRelationshipTypeName derives the synthetic relationship type name
// for a related-node property.
func PropertyNameToRelationshipTypeName(propertyName string) string {
	return propertyRelTypePrefix + propertyName + propertyRelTypeSuffix
}

// RelationshipTypeNameToPropertyName extracts the property name back out of a
// synthetic relationship type name. Names that do not match the convention are
// returned unchanged, so unrelated relationship types are never stripped.
func RelationshipTypeNameToPropertyName(relationshipTypeName string) string {
	if len(relationshipTypeName) > len(propertyRelTypePrefix)+len(propertyRelTypeSuffix) &&
		strings.HasPrefix(relationshipTypeName, propertyRelTypePrefix) &&
		strings.HasSuffix(relationshipTypeName, propertyRelTypeSuffix) {
		return relationshipTypeName[len(propertyRelTypePrefix) : len(relationshipTypeName)-len(propertyRelTypeSuffix)]
	}
	return relationshipTypeName
}

// ComplexProperty describes one related-node field of a serialized entity: the raw
// value, the relationship type connecting owner and target, and whether that
// relationship is private. It is never written as a property; the caller turns it
// into separate related-entity writes.
type ComplexProperty struct {
	Value            any
	RelationshipType string
	Private          bool
}

// SerializedNode is the wire record produced by serializing a node: the identifier,
// labels, the flat property map (simple, collection and embedded values) and the
// complex-property descriptors still awaiting their own writes. Created fresh per
// serialize call and discarded once the writes are issued.
type SerializedNode struct {
	ID                string
	Labels            []string
	Properties        map[string]any
	ComplexProperties map[string]ComplexProperty
}

// SerializedRelationship is the wire record produced by serializing a relationship.
type SerializedRelationship struct {
	ID          string
	Type        string
	StartNodeID string
	EndNodeID   string
	Properties  map[string]any
}

// SerializeNode converts a typed node into its wire record. Fields whose value is
// unset (nil pointer, nil slice, nil map) are skipped. Simple and
// collection-of-simple values are copied verbatim under their storage label,
// embedded values are serialized to a JSON blob, and related-node fields populate
// the complex-property map instead of the property map. Pure transformation, no I/O.
func SerializeNode(entity any) (*SerializedNode, error) {
	schema, val, err := schemaAndValue(entity)
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a relationship type, not a node"}
	}

	sn := &SerializedNode{
		ID:                val.FieldByName(schema.PKField).String(),
		Labels:            []string{schema.Label},
		Properties:        make(map[string]any),
		ComplexProperties: make(map[string]ComplexProperty),
	}

	for i := range schema.Fields {
		fd := &schema.Fields[i]
		fv := val.Field(fd.Index)
		if isUnset(fv) {
			continue
		}

		switch fd.Classification {
		case Simple, CollectionOfSimple:
			sn.Properties[fd.Prop] = propertyValue(fv)
		case Embedded:
			blob, err := json.Marshal(derefValue(fv).Interface())
			if err != nil {
				return nil, fmt.Errorf("could not embed field %s.%s: %w", schema.Type.Name(), fd.Name, err)
			}
			sn.Properties[fd.Prop] = string(blob)
		case RelatedNode, CollectionOfComplex:
			sn.ComplexProperties[fd.Name] = ComplexProperty{
				Value:            fv.Interface(),
				RelationshipType: fd.RelType,
				Private:          fd.Private,
			}
		}
	}

	return sn, nil
}

// SerializeRelationship converts a typed relationship into its wire record. The
// endpoint identifiers come from the startNode/endNode tagged fields.
func SerializeRelationship(entity any) (*SerializedRelationship, error) {
	schema, val, err := schemaAndValue(entity)
	if err != nil {
		return nil, err
	}
	if !schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}

	sr := &SerializedRelationship{
		ID:          val.FieldByName(schema.PKField).String(),
		Type:        schema.Label,
		StartNodeID: val.FieldByName(schema.StartField).String(),
		EndNodeID:   val.FieldByName(schema.EndField).String(),
		Properties:  make(map[string]any),
	}

	for i := range schema.Fields {
		fd := &schema.Fields[i]
		fv := val.Field(fd.Index)
		if isUnset(fv) {
			continue
		}
		switch fd.Classification {
		case Simple, CollectionOfSimple:
			sr.Properties[fd.Prop] = propertyValue(fv)
		case Embedded:
			blob, err := json.Marshal(derefValue(fv).Interface())
			if err != nil {
				return nil, fmt.Errorf("could not embed field %s.%s: %w", schema.Type.Name(), fd.Name, err)
			}
			sr.Properties[fd.Prop] = string(blob)
		}
	}

	return sr, nil
}

// DeserializeNode reconstructs a typed node from a stored property map.
// complexData supplies pre-fetched values for related-node fields keyed by struct
// field name; this function never issues queries for them itself. A required field
// with no stored value, no default and no complex substitute fails with a
// MissingRequiredFieldError.
func DeserializeNode[T any](properties map[string]any, complexData map[string]any) (*T, error) {
	entity := new(T)
	schema, err := SchemaFor(reflect.TypeOf(entity))
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a relationship type, not a node"}
	}
	if err := deserializeFields(schema, reflect.ValueOf(entity).Elem(), properties, complexData); err != nil {
		return nil, err
	}
	return entity, nil
}

// DeserializeRelationship reconstructs a typed relationship from a stored property
// map plus the endpoint identifiers reported alongside it.
func DeserializeRelationship[T any](properties map[string]any, startNodeID, endNodeID string) (*T, error) {
	entity := new(T)
	schema, err := SchemaFor(reflect.TypeOf(entity))
	if err != nil {
		return nil, err
	}
	if !schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	val := reflect.ValueOf(entity).Elem()
	if err := deserializeFields(schema, val, properties, nil); err != nil {
		return nil, err
	}
	val.FieldByName(schema.StartField).SetString(startNodeID)
	val.FieldByName(schema.EndField).SetString(endNodeID)
	return entity, nil
}

// deserializeInto is the non-generic core used when the target type is only known
// at runtime, such as related-node targets discovered through field descriptors.
func deserializeInto(target reflect.Value, properties map[string]any, complexData map[string]any) error {
	schema, err := SchemaFor(target.Type())
	if err != nil {
		return err
	}
	return deserializeFields(schema, target, properties, complexData)
}

func deserializeFields(schema *Schema, val reflect.Value, properties map[string]any, complexData map[string]any) error {
	for i := range schema.Fields {
		fd := &schema.Fields[i]
		fv := val.Field(fd.Index)

		switch fd.Classification {
		case RelatedNode, CollectionOfComplex:
			raw, ok := complexData[fd.Name]
			if !ok || raw == nil {
				if fd.Required {
					return &MissingRequiredFieldError{EntityType: schema.Type.Name(), Field: fd.Name}
				}
				continue
			}
			if err := assignValue(fv, raw); err != nil {
				return fmt.Errorf("field %s.%s: %w", schema.Type.Name(), fd.Name, err)
			}

		case Embedded:
			raw, ok := properties[fd.Prop]
			if !ok || raw == nil {
				if fd.Required {
					return &MissingRequiredFieldError{EntityType: schema.Type.Name(), Field: fd.Name}
				}
				continue
			}
			var blob []byte
			switch b := raw.(type) {
			case string:
				blob = []byte(b)
			case []byte:
				blob = b
			default:
				return fmt.Errorf("field %s.%s: embedded blob has type %T", schema.Type.Name(), fd.Name, raw)
			}
			dest := fv
			if dest.Kind() == reflect.Ptr {
				dest.Set(reflect.New(dest.Type().Elem()))
				dest = dest.Elem()
			}
			if err := json.Unmarshal(blob, dest.Addr().Interface()); err != nil {
				return fmt.Errorf("field %s.%s: %w", schema.Type.Name(), fd.Name, err)
			}

		default:
			raw, ok := properties[fd.Prop]
			if !ok || raw == nil {
				if fd.Default != nil {
					raw = fd.Default
				} else if fd.Required {
					return &MissingRequiredFieldError{EntityType: schema.Type.Name(), Field: fd.Name}
				} else {
					continue
				}
			}
			if err := assignValue(fv, raw); err != nil {
				return fmt.Errorf("field %s.%s: %w", schema.Type.Name(), fd.Name, err)
			}
		}
	}
	return nil
}

// isUnset reports whether a field value should be skipped during serialization:
// nil pointers, nil slices and nil maps are absent, everything else is present.
func isUnset(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

func derefValue(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

// propertyValue copies a simple or collection-of-simple field into the form the
// driver accepts, stripping pointers.
func propertyValue(v reflect.Value) any {
	v = derefValue(v)
	if isCollection(v.Type()) {
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = derefValue(v.Index(i)).Interface()
		}
		return out
	}
	return v.Interface()
}

// assignValue sets a struct field from a stored value, converting between the
// driver's representations (int64 for integers, float64 for floats, []any for
// lists) and the declared field type.
func assignValue(field reflect.Value, raw any) error {
	if field.Kind() == reflect.Ptr {
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	// Collections arrive as []any; convert element by element.
	if isCollection(field.Type()) && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		out := reflect.MakeSlice(field.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := assignValue(out.Index(i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	}

	if field.Type() == timeType {
		if t, ok := raw.(time.Time); ok {
			field.Set(reflect.ValueOf(t))
			return nil
		}
		return fmt.Errorf("cannot assign %T to time.Time", raw)
	}

	if rv.Type().ConvertibleTo(field.Type()) {
		switch field.Kind() {
		case reflect.String:
			// Refuse numeric-to-string coercions that Convert would silently allow.
			if rv.Kind() != reflect.String {
				return fmt.Errorf("cannot assign %T to string", raw)
			}
		}
		field.Set(rv.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", raw, field.Type())
}

func schemaAndValue(entity any) (*Schema, reflect.Value, error) {
	val := reflect.ValueOf(entity)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, reflect.Value{}, fmt.Errorf("entity must be a non-nil pointer")
		}
		val = val.Elem()
	}
	schema, err := SchemaFor(val.Type())
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return schema, val, nil
}
