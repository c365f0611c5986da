package graphmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shared fixture types used across the package tests.

type Address struct {
	ID     string `graph:"pk,property:id"`
	Street string `graph:"property:street"`
	City   string `graph:"property:city"`
}

type Profile struct {
	Bio  string `json:"bio"`
	Site string `json:"site"`
}

type Person struct {
	ID          string   `graph:"pk,property:id"`
	Name        string   `graph:"property:name,required"`
	Age         int      `graph:"property:age"`
	Skills      []string `graph:"property:skills"`
	HomeAddress *Address `graph:"property:home_address,related"`
	Profile     *Profile `graph:"property:profile"`
	Nickname    string   `graph:"property:nickname,default:anon"`
	Internal    string
}

func (Person) Label() string { return "Person" }

type Company struct {
	ID      string     `graph:"pk,property:id"`
	Name    string     `graph:"property:name"`
	Offices []*Address `graph:"property:offices,related"`
}

type WorksFor struct {
	ID    string `graph:"pk,property:id"`
	Start string `graph:"startNode"`
	End   string `graph:"endNode"`
	Role  string `graph:"property:role"`
	Since int    `graph:"property:since"`
}

func (WorksFor) RelType() string { return "WORKS_FOR" }

func TestClassification(t *testing.T) {
	schema, err := schemaOf[Person]()
	require.NoError(t, err)

	tests := []struct {
		field string
		want  Classification
	}{
		{"Age", Simple},
		{"Name", Simple},
		{"Skills", CollectionOfSimple},
		{"HomeAddress", RelatedNode},
		{"Profile", Embedded},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			fd := schema.Field(tt.field)
			require.NotNil(t, fd)
			assert.Equal(t, tt.want, fd.Classification)
		})
	}

	// Untagged fields are not part of the mapping.
	assert.Nil(t, schema.Field("Internal"))
}

func TestClassificationCollectionOfComplex(t *testing.T) {
	schema, err := schemaOf[Company]()
	require.NoError(t, err)

	fd := schema.Field("Offices")
	require.NotNil(t, fd)
	assert.Equal(t, CollectionOfComplex, fd.Classification)
	assert.Equal(t, "__PROPERTY__offices__", fd.RelType)
}

func TestClassificationCollectionOfComplexWithoutOverride(t *testing.T) {
	// A collection of a structured element type is complex even without an
	// explicit related override.
	type Tagless struct {
		ID    string    `graph:"pk,property:id"`
		Spots []Address `graph:"property:spots"`
	}
	schema, err := schemaOf[Tagless]()
	require.NoError(t, err)
	assert.Equal(t, CollectionOfComplex, schema.Field("Spots").Classification)
}

func TestClassificationTemporalAndBlob(t *testing.T) {
	type Doc struct {
		ID      string    `graph:"pk,property:id"`
		Created time.Time `graph:"property:created"`
		Raw     []byte    `graph:"property:raw"`
	}
	schema, err := schemaOf[Doc]()
	require.NoError(t, err)
	assert.Equal(t, Simple, schema.Field("Created").Classification)
	assert.Equal(t, Simple, schema.Field("Raw").Classification)
}

func TestClassificationIsDeterministic(t *testing.T) {
	first, err := schemaOf[Person]()
	require.NoError(t, err)
	second, err := schemaOf[Person]()
	require.NoError(t, err)

	// Schemas are computed once per type and cached for the process lifetime.
	assert.Same(t, first, second)
	assert.Equal(t, first.Field("Skills").Classification, second.Field("Skills").Classification)
}

func TestMalformedDeclarations(t *testing.T) {
	t.Run("collection of collections", func(t *testing.T) {
		type Bad struct {
			ID   string     `graph:"pk,property:id"`
			Grid [][]string `graph:"property:grid"`
		}
		_, err := schemaOf[Bad]()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("related override on a simple field", func(t *testing.T) {
		type Bad struct {
			ID  string `graph:"pk,property:id"`
			Age int    `graph:"property:age,related"`
		}
		_, err := schemaOf[Bad]()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("related and embedded together", func(t *testing.T) {
		type Bad struct {
			ID   string   `graph:"pk,property:id"`
			Home *Address `graph:"property:home,related,embedded"`
		}
		_, err := schemaOf[Bad]()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("missing primary key", func(t *testing.T) {
		type Bad struct {
			Name string `graph:"property:name"`
		}
		_, err := schemaOf[Bad]()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("related-node field on a relationship", func(t *testing.T) {
		type Bad struct {
			ID    string   `graph:"pk,property:id"`
			Start string   `graph:"startNode"`
			End   string   `graph:"endNode"`
			Home  *Address `graph:"property:home,related"`
		}
		_, err := schemaOf[Bad]()
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestRelationshipSchema(t *testing.T) {
	schema, err := schemaOf[WorksFor]()
	require.NoError(t, err)

	assert.True(t, schema.IsRelationship)
	assert.Equal(t, "WORKS_FOR", schema.Label)
	assert.Equal(t, Outgoing, schema.Direction)
	assert.Equal(t, "Start", schema.StartField)
	assert.Equal(t, "End", schema.EndField)
}

func TestExplicitRelTypeTag(t *testing.T) {
	type Employee struct {
		ID   string   `graph:"pk,property:id"`
		Home *Address `graph:"property:home,reltype:LIVES_AT,private"`
	}
	schema, err := schemaOf[Employee]()
	require.NoError(t, err)

	fd := schema.Field("Home")
	require.NotNil(t, fd)
	assert.Equal(t, RelatedNode, fd.Classification)
	assert.Equal(t, "LIVES_AT", fd.RelType)
	assert.True(t, fd.Private)
}

func TestDefaultParsing(t *testing.T) {
	schema, err := schemaOf[Person]()
	require.NoError(t, err)

	fd := schema.Field("Nickname")
	require.NotNil(t, fd)
	assert.Equal(t, "anon", fd.Default)
}
