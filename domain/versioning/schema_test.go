package versioning

import (
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		typ        reflect.Type
		kind       fieldKind
		nullable   bool
		elemRecord bool
		wholeValue bool
	}{
		{name: "string", typ: reflect.TypeOf(""), kind: kindScalar},
		{name: "pointer to int", typ: reflect.TypeOf((*int)(nil)), kind: kindScalar, nullable: true},
		{name: "time", typ: reflect.TypeOf(time.Time{}), kind: kindScalar},
		{name: "big int", typ: reflect.TypeOf((*big.Int)(nil)), kind: kindScalar, nullable: true},
		{name: "bytes", typ: reflect.TypeOf([]byte(nil)), kind: kindScalar, nullable: true},
		{name: "enum", typ: reflect.TypeOf(StatusActive), kind: kindEnum},
		{name: "pointer to enum", typ: reflect.TypeOf((*Status)(nil)), kind: kindEnum, nullable: true},
		{name: "record", typ: reflect.TypeOf(Address{}), kind: kindRecord},
		{name: "pointer to record", typ: reflect.TypeOf((*Address)(nil)), kind: kindRecord, nullable: true},
		{name: "list of records", typ: reflect.TypeOf([]*Item(nil)), kind: kindList, nullable: true, elemRecord: true},
		{name: "list of scalars", typ: reflect.TypeOf([]int(nil)), kind: kindList, nullable: true, wholeValue: true},
		{name: "set of records", typ: reflect.TypeOf(Set[Label]{}), kind: kindSet, nullable: true, elemRecord: true},
		{name: "set of scalars", typ: reflect.TypeOf(Set[string]{}), kind: kindSet, nullable: true, wholeValue: true},
		{name: "map of records", typ: reflect.TypeOf(map[string]*Item(nil)), kind: kindMap, nullable: true, elemRecord: true},
		{name: "array", typ: reflect.TypeOf([2]int{}), kind: kindOpaque, wholeValue: true},
		{name: "pointer to slice", typ: reflect.TypeOf((*[]int)(nil)), kind: kindOpaque, nullable: true, wholeValue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := classify(tt.typ)

			require.NoError(t, err)
			assert.Equal(t, tt.kind, spec.kind, "kind %s", spec.kind)
			assert.Equal(t, tt.nullable, spec.nullable)
			assert.Equal(t, tt.elemRecord, spec.elemRecord)
			assert.Equal(t, tt.wholeValue, spec.wholeValue())
		})
	}
}

func TestClassify_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{name: "interface", typ: reflect.TypeOf((*any)(nil)).Elem()},
		{name: "func", typ: reflect.TypeOf(func() {})},
		{name: "channel", typ: reflect.TypeOf(make(chan int))},
		{name: "map with record keys", typ: reflect.TypeOf(map[Address]string(nil))},
		{name: "pointer to set", typ: reflect.TypeOf((*Set[string])(nil))},
		{name: "pointer to pointer", typ: reflect.TypeOf((**int)(nil))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classify(tt.typ)

			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestSchemaFor_Order(t *testing.T) {
	s, err := schemaFor(reflect.TypeOf(Order{}))
	require.NoError(t, err)

	assert.Nil(t, s.identity)
	_, ok := s.field("Scratch")
	assert.False(t, ok, "excluded fields are not part of the schema")

	f, ok := s.field("updatedAt")
	require.True(t, ok)
	assert.Equal(t, kindScalar, f.kind)

	again, err := schemaFor(reflect.TypeOf(Order{}))
	require.NoError(t, err)
	assert.Same(t, s, again)
}

type renamed struct {
	Key   *int64 `version:"id,iteratorId"`
	Title string `version:"title" json:"heading"`
	Body  string `json:"body,omitempty"`
	Plain string
}

func TestSchemaFor_Naming(t *testing.T) {
	s, err := schemaFor(reflect.TypeOf(renamed{}))
	require.NoError(t, err)

	id, err := s.requireIdentity()
	require.NoError(t, err)
	assert.Equal(t, "id", id.name)

	for _, name := range []string{"title", "body", "Plain"} {
		_, ok := s.field(name)
		assert.True(t, ok, "missing field %s", name)
	}
}

type taggedAndDefault struct {
	Ref        *string `version:",iteratorId"`
	IteratorID int
}

func TestSchemaFor_TaggedIdentityWins(t *testing.T) {
	s, err := schemaFor(reflect.TypeOf(taggedAndDefault{}))
	require.NoError(t, err)

	id, err := s.requireIdentity()
	require.NoError(t, err)
	assert.Equal(t, "Ref", id.name)

	f, ok := s.field("IteratorID")
	require.True(t, ok)
	assert.Equal(t, kindScalar, f.kind)
}

type twoIdentities struct {
	A *int `version:",iteratorId"`
	B *int `version:",iteratorId"`
}

type reservedName struct {
	Field string `json:"a.b"`
}

type duplicateName struct {
	A string `json:"x"`
	B string `version:"x"`
}

type unsupportedField struct {
	Callback func()
}

func TestSchemaFor_ConfigurationErrors(t *testing.T) {
	t.Run("two iterator ids", func(t *testing.T) {
		s, err := schemaFor(reflect.TypeOf(twoIdentities{}))
		require.NoError(t, err)

		_, err = s.requireIdentity()
		assert.True(t, errors.IsConfiguration(err))

		errors.GetAppError(err).WithPath("crates[0]")
		_, again := s.requireIdentity()
		assert.Empty(t, errors.GetAppError(again).Path)
	})

	for name, typ := range map[string]reflect.Type{
		"reserved character": reflect.TypeOf(reservedName{}),
		"duplicate name":     reflect.TypeOf(duplicateName{}),
		"unsupported field":  reflect.TypeOf(unsupportedField{}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := schemaFor(typ)

			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

type deepHolder struct {
	Inner struct {
		Crates []crate
	}
}

func TestValidateRoot(t *testing.T) {
	require.NoError(t, validateRoot(reflect.TypeOf(Order{})))

	err := validateRoot(reflect.TypeOf(deepHolder{}))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	// cached
	again := validateRoot(reflect.TypeOf(deepHolder{}))
	assert.Equal(t, err, again)
}

func TestValidateRoot_HandsOutCopies(t *testing.T) {
	// Arrange
	first := errors.GetAppError(validateRoot(reflect.TypeOf(deepHolder{})))
	require.NotNil(t, first)

	// Act
	first.WithPath("versions[0]")
	second := errors.GetAppError(validateRoot(reflect.TypeOf(deepHolder{})))

	// Assert
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Empty(t, second.Path)
	assert.True(t, errors.IsConfiguration(second))
}
