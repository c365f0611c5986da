package graphmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationshipTypeNameMapping(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		assert.Equal(t, "__PROPERTY__home_address__", PropertyNameToRelationshipTypeName("home_address"))
	})

	t.Run("round trip", func(t *testing.T) {
		for _, name := range []string{"home_address", "skills", "a", "x_y_z"} {
			assert.Equal(t, name, RelationshipTypeNameToPropertyName(PropertyNameToRelationshipTypeName(name)))
		}
	})

	t.Run("unrelated names pass through unchanged", func(t *testing.T) {
		for _, name := range []string{"WORKS_FOR", "KNOWS", "__PROPERTY__", "____", ""} {
			assert.Equal(t, name, RelationshipTypeNameToPropertyName(name))
		}
	})
}

func TestSerializeNode(t *testing.T) {
	p := &Person{
		ID:     "p1",
		Name:   "Alice",
		Age:    30,
		Skills: []string{"x", "y"},
		HomeAddress: &Address{
			ID:     "a1",
			Street: "1 Main St",
			City:   "Boston",
		},
	}

	sn, err := SerializeNode(p)
	require.NoError(t, err)

	assert.Equal(t, "p1", sn.ID)
	assert.Equal(t, []string{"Person"}, sn.Labels)
	assert.Equal(t, 30, sn.Properties["age"])
	assert.Equal(t, []any{"x", "y"}, sn.Properties["skills"])

	// The related field never appears in the property map; it becomes one
	// complex-property entry carrying the synthetic relationship type.
	_, inProps := sn.Properties["home_address"]
	assert.False(t, inProps)
	cp, ok := sn.ComplexProperties["HomeAddress"]
	require.True(t, ok)
	assert.Equal(t, "__PROPERTY__home_address__", cp.RelationshipType)
	assert.False(t, cp.Private)
	assert.Equal(t, p.HomeAddress, cp.Value)
}

func TestSerializeSkipsUnsetFields(t *testing.T) {
	sn, err := SerializeNode(&Person{ID: "p2", Name: "Bob", Age: 41})
	require.NoError(t, err)

	_, hasSkills := sn.Properties["skills"]
	assert.False(t, hasSkills)
	_, hasProfile := sn.Properties["profile"]
	assert.False(t, hasProfile)
	assert.Empty(t, sn.ComplexProperties)
}

func TestSerializeEmbedded(t *testing.T) {
	sn, err := SerializeNode(&Person{
		ID:      "p3",
		Name:    "Carol",
		Profile: &Profile{Bio: "engineer", Site: "example.com"},
	})
	require.NoError(t, err)

	blob, ok := sn.Properties["profile"].(string)
	require.True(t, ok)
	assert.JSONEq(t, `{"bio":"engineer","site":"example.com"}`, blob)
}

func TestNodeRoundTrip(t *testing.T) {
	original := &Person{
		ID:          "p4",
		Name:        "Dave",
		Age:         52,
		Skills:      []string{"go", "cypher"},
		HomeAddress: &Address{ID: "a4", Street: "4 Side St", City: "Lisbon"},
		Profile:     &Profile{Bio: "dba", Site: "dave.example"},
		Nickname:    "d",
	}

	sn, err := SerializeNode(original)
	require.NoError(t, err)

	complexData := map[string]any{"HomeAddress": *original.HomeAddress}
	restored, err := DeserializeNode[Person](sn.Properties, complexData)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestRelationshipRoundTrip(t *testing.T) {
	original := &WorksFor{ID: "r1", Start: "p1", End: "c1", Role: "engineer", Since: 2020}

	sr, err := SerializeRelationship(original)
	require.NoError(t, err)
	assert.Equal(t, "WORKS_FOR", sr.Type)
	assert.Equal(t, "p1", sr.StartNodeID)
	assert.Equal(t, "c1", sr.EndNodeID)

	restored, err := DeserializeRelationship[WorksFor](sr.Properties, sr.StartNodeID, sr.EndNodeID)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestDeserializeAppliesDefaults(t *testing.T) {
	p, err := DeserializeNode[Person](map[string]any{"id": "p5", "name": "Eve"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anon", p.Nickname)
}

func TestDeserializeMissingRequiredField(t *testing.T) {
	_, err := DeserializeNode[Person](map[string]any{"id": "p6"}, nil)
	var missing *MissingRequiredFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Name", missing.Field)
}

func TestDeserializeDriverRepresentations(t *testing.T) {
	// The driver reports integers as int64 and lists as []any.
	props := map[string]any{
		"id":     "p7",
		"name":   "Frank",
		"age":    int64(33),
		"skills": []any{"ops", "sre"},
	}
	p, err := DeserializeNode[Person](props, nil)
	require.NoError(t, err)
	assert.Equal(t, 33, p.Age)
	assert.Equal(t, []string{"ops", "sre"}, p.Skills)
}

func TestDeserializeCollectionOfComplex(t *testing.T) {
	complexData := map[string]any{
		"Offices": []any{
			Address{ID: "a1", City: "Boston"},
			Address{ID: "a2", City: "Lisbon"},
		},
	}
	c, err := DeserializeNode[Company](map[string]any{"id": "c1", "name": "Acme"}, complexData)
	require.NoError(t, err)
	require.Len(t, c.Offices, 2)
	assert.Equal(t, "Boston", c.Offices[0].City)
	assert.Equal(t, "Lisbon", c.Offices[1].City)
}
