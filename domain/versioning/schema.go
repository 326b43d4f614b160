package versioning

import (
	"encoding"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

const (
	// DefaultIteratorIDField is the Go field used as iterator id when no
	// field carries the iteratorId tag option.
	DefaultIteratorIDField = "IteratorID"

	tagName          = "version"
	iteratorIDOption = "iteratorId"
)

type fieldKind uint8

const (
	kindScalar fieldKind = iota
	kindEnum
	kindRecord
	kindList
	kindSet
	kindMap
	kindOpaque
)

var kindNames = [...]string{"scalar", "enum", "record", "list", "set", "map", "opaque"}

func (k fieldKind) String() string {
	return kindNames[k]
}

// fieldSpec describes one diffable field of a record type.
type fieldSpec struct {
	name     string
	index    int
	typ      reflect.Type
	kind     fieldKind
	nullable bool

	// list, set: element type; map: value type
	elem       reflect.Type
	elemKind   fieldKind
	elemRecord bool
	key        reflect.Type
}

// wholeValue reports whether the field is compared and replaced as a single
// serialized value.
func (f *fieldSpec) wholeValue() bool {
	switch f.kind {
	case kindOpaque:
		return true
	case kindList, kindSet:
		return !f.elemRecord
	}
	return false
}

type identitySpec struct {
	name  string
	index int
	typ   reflect.Type
}

// recordSchema is the field table of one struct type, built once per type.
type recordSchema struct {
	typ    reflect.Type
	fields []fieldSpec
	byName map[string]int

	identity    *identitySpec
	identityErr *errors.AppError
}

func (s *recordSchema) field(name string) (*fieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return &s.fields[i], true
}

// requireIdentity returns the iterator id field of a collection element type.
func (s *recordSchema) requireIdentity() (*identitySpec, error) {
	if s.identityErr != nil {
		return nil, s.identityErr.Clone()
	}
	if s.identity == nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf(
			"%s is used as a collection element but has no iterator id field (add %s or a %s:\",%s\" tag)",
			s.typ, DefaultIteratorIDField, tagName, iteratorIDOption))
	}
	return s.identity, nil
}

var (
	schemaCache    sync.Map // reflect.Type -> *recordSchema
	validatedRoots sync.Map // reflect.Type -> error (nil when valid)

	timeType           = reflect.TypeOf(time.Time{})
	bigIntType         = reflect.TypeOf((*big.Int)(nil))
	bigRatType         = reflect.TypeOf((*big.Rat)(nil))
	textMarshalerType  = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerTyp = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// recordType returns the struct type behind t, or nil when t is not a record.
func recordType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType || isSetType(t) {
		return nil
	}
	return t
}

func isSetType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(setBackingType)
}

func setElemType(t reflect.Type) reflect.Type {
	return reflect.New(t).Interface().(setBacking).backing().Type().Elem()
}

func isEnumType(t reflect.Type) bool {
	if t.PkgPath() == "" {
		return false
	}
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return false
	}
	return t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerTyp)
}

func isBasicScalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return t == timeType
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// classify maps a Go type onto the closed set of field kinds.
func classify(t reflect.Type) (fieldSpec, error) {
	spec := fieldSpec{typ: t}

	switch {
	case t == bigIntType || t == bigRatType:
		spec.kind, spec.nullable = kindScalar, true
		return spec, nil
	case isBytes(t):
		spec.kind, spec.nullable = kindScalar, true
		return spec, nil
	case isEnumType(t):
		spec.kind = kindEnum
		return spec, nil
	case t.Kind() == reflect.Pointer && isEnumType(t.Elem()):
		spec.kind, spec.nullable = kindEnum, true
		return spec, nil
	case isBasicScalar(t):
		spec.kind = kindScalar
		return spec, nil
	case t.Kind() == reflect.Pointer && isBasicScalar(t.Elem()):
		spec.kind, spec.nullable = kindScalar, true
		return spec, nil
	case isSetType(t):
		spec.kind, spec.nullable = kindSet, true
		spec.elem = setElemType(t)
		spec.elemRecord = recordType(spec.elem) != nil
		return spec, nil
	case recordType(t) != nil:
		spec.kind = kindRecord
		spec.nullable = t.Kind() == reflect.Pointer
		return spec, nil
	}

	switch t.Kind() {
	case reflect.Slice:
		spec.kind, spec.nullable = kindList, true
		spec.elem = t.Elem()
		spec.elemRecord = recordType(spec.elem) != nil
		return spec, nil
	case reflect.Map:
		k := t.Key()
		if !isEnumType(k) && !(isBasicScalar(k) && k != timeType) {
			return spec, errors.NewConfigurationError(fmt.Sprintf("map key type %s is not supported", k))
		}
		inner, err := classify(t.Elem())
		if err != nil {
			return spec, err
		}
		spec.kind, spec.nullable = kindMap, true
		spec.key = k
		spec.elem = t.Elem()
		spec.elemKind = inner.kind
		spec.elemRecord = inner.kind == kindRecord
		return spec, nil
	case reflect.Array:
		spec.kind = kindOpaque
		return spec, nil
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return spec, errors.NewConfigurationError(fmt.Sprintf("field type %s is not supported", t))
	case reflect.Pointer:
		inner, err := classify(t.Elem())
		if err != nil {
			return spec, err
		}
		if inner.kind != kindOpaque && inner.kind != kindList && inner.kind != kindMap {
			return spec, errors.NewConfigurationError(fmt.Sprintf("field type %s is not supported", t))
		}
		spec.kind, spec.nullable = kindOpaque, true
		return spec, nil
	}
	return spec, errors.NewConfigurationError(fmt.Sprintf("field type %s is not supported", t))
}

// parseTag splits a version tag into its name and options.
func parseTag(tag string) (string, []string) {
	parts := strings.Split(tag, ",")
	return parts[0], parts[1:]
}

func hasOption(options []string, option string) bool {
	for _, o := range options {
		if strings.EqualFold(o, option) {
			return true
		}
	}
	return false
}

func pathName(f reflect.StructField, tagged string) string {
	if tagged != "" {
		return tagged
	}
	if jsonTag, ok := f.Tag.Lookup("json"); ok {
		name, _ := parseTag(jsonTag)
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

func validIdentityType(t reflect.Type) bool {
	if t.Kind() != reflect.Pointer {
		return false
	}
	switch t.Elem().Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// schemaFor returns the cached field table of the struct type t.
func schemaFor(t reflect.Type) (*recordSchema, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*recordSchema), nil
	}

	s, err := buildSchema(t)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(t, s)
	return actual.(*recordSchema), nil
}

func buildSchema(t reflect.Type) (*recordSchema, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.NewConfigurationError(fmt.Sprintf("%s is not a struct type", t))
	}

	s := &recordSchema{typ: t, byName: make(map[string]int)}
	var tagged, byDefault *identitySpec

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, options := parseTag(f.Tag.Get(tagName))
		if name == "-" {
			continue
		}
		name = pathName(f, name)

		if hasOption(options, iteratorIDOption) {
			if tagged != nil {
				s.identityErr = errors.NewConfigurationError(fmt.Sprintf(
					"%s declares more than one iterator id field (%s, %s)", t, tagged.name, name))
			}
			tagged = &identitySpec{name: name, index: i, typ: f.Type}
			continue
		}
		if f.Name == DefaultIteratorIDField {
			byDefault = &identitySpec{name: name, index: i, typ: f.Type}
			continue
		}

		if strings.ContainsAny(name, reservedChars) {
			return nil, errors.NewConfigurationError(fmt.Sprintf(
				"field name %q of %s contains a reserved character (%s)", name, t, reservedChars))
		}
		if _, dup := s.byName[name]; dup {
			return nil, errors.NewConfigurationError(fmt.Sprintf("%s has two fields named %q", t, name))
		}

		spec, err := classify(f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", t, f.Name)
		}
		spec.name = name
		spec.index = i

		s.byName[name] = len(s.fields)
		s.fields = append(s.fields, spec)
	}

	identity := tagged
	if identity == nil {
		identity = byDefault
	} else if byDefault != nil {
		// The default-named field is an ordinary field when another one is tagged.
		spec, err := classify(byDefault.typ)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", t, DefaultIteratorIDField)
		}
		spec.name, spec.index = byDefault.name, byDefault.index
		s.byName[spec.name] = len(s.fields)
		s.fields = append(s.fields, spec)
	}

	if identity != nil && s.identityErr == nil && !validIdentityType(identity.typ) {
		s.identityErr = errors.NewConfigurationError(fmt.Sprintf(
			"iterator id field %s of %s must be a pointer to a string or number, got %s",
			identity.name, t, identity.typ))
	}
	s.identity = identity
	return s, nil
}

// validateRoot checks every record type reachable from root once, so that a
// misconfigured element type fails before any record is touched.
func validateRoot(root reflect.Type) error {
	if cached, ok := validatedRoots.Load(root); ok {
		return cachedError(cached)
	}

	err := walkTypes(root, make(map[reflect.Type]bool))
	if err == nil {
		validatedRoots.Store(root, nil)
		return nil
	}
	validatedRoots.Store(root, err)
	return cachedError(err)
}

// cachedError hands out a copy of a cached failure so callers can locate it
// without touching the shared value.
func cachedError(cached any) error {
	switch err := cached.(type) {
	case nil:
		return nil
	case *errors.AppError:
		return err.Clone()
	default:
		return err.(error)
	}
}

func walkTypes(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	s, err := schemaFor(t)
	if err != nil {
		return err
	}

	for i := range s.fields {
		f := &s.fields[i]
		switch f.kind {
		case kindRecord:
			if err := walkTypes(recordType(f.typ), seen); err != nil {
				return err
			}
		case kindList, kindSet, kindMap:
			if !f.elemRecord {
				continue
			}
			elem := recordType(f.elem)
			if f.kind != kindMap {
				es, err := schemaFor(elem)
				if err != nil {
					return err
				}
				if _, err := es.requireIdentity(); err != nil {
					return err
				}
			}
			if err := walkTypes(elem, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
