package versioning

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// recordValue dereferences v down to its struct. ok is false for nil pointers.
func recordValue(v reflect.Value) (reflect.Value, bool) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		return v.Elem(), true
	}
	return v, true
}

// addressable returns v itself or an addressable copy of it.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}

// collectionItems returns the slice behind a list or set field. The result is
// settable when fv is addressable.
func collectionItems(f *fieldSpec, fv reflect.Value) reflect.Value {
	if f.kind == kindSet {
		return addressable(fv).Addr().Interface().(setBacking).backing()
	}
	return fv
}

// isAbsent reports whether a nullable field currently holds nothing.
func isAbsent(f *fieldSpec, fv reflect.Value) bool {
	if !f.nullable {
		return false
	}
	if f.kind == kindSet {
		return collectionItems(f, fv).IsNil()
	}
	switch fv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return fv.IsNil()
	}
	return false
}

// fieldValue returns the Value representation of a field: scalar text, enum
// name, or serialized text of the whole value.
func fieldValue(f *fieldSpec, fv reflect.Value, codec Codec) (Value, error) {
	switch f.kind {
	case kindScalar:
		return scalarText(fv)
	case kindEnum:
		return enumText(fv)
	}
	if isAbsent(f, fv) {
		return Absent(), nil
	}
	return serialized(fv, codec)
}

func serialized(v reflect.Value, codec Codec) (Value, error) {
	text, err := codec.Marshal(v.Interface())
	if err != nil {
		return Absent(), errors.NewFieldAccessError(fmt.Sprintf("cannot serialize %s", v.Type())).WithCause(err)
	}
	return Text(text), nil
}

// entryValue returns the Value of a map value or collection element.
func entryValue(kind fieldKind, v reflect.Value, codec Codec) (Value, error) {
	switch kind {
	case kindScalar:
		return scalarText(v)
	case kindEnum:
		return enumText(v)
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return Absent(), nil
	}
	return serialized(v, codec)
}

// decodeEntry builds a value of type t from its Value representation.
func decodeEntry(kind fieldKind, t reflect.Type, val Value, codec Codec) (reflect.Value, error) {
	target := reflect.New(t).Elem()
	switch kind {
	case kindScalar:
		return target, setScalar(target, val)
	case kindEnum:
		return target, setEnum(target, val)
	}
	if val.IsAbsent() {
		return target, nil
	}
	if err := codec.Unmarshal(val.Text, target.Addr().Interface()); err != nil {
		return target, errors.NewReconstructionError(fmt.Sprintf("cannot rebuild %s", t), err)
	}
	return target, nil
}

// identityOf returns the iterator id text of a collection element.
func identityOf(elem reflect.Value, id *identitySpec) (string, bool) {
	rec, ok := recordValue(elem)
	if !ok {
		return "", false
	}
	idv := rec.Field(id.index)
	if idv.IsNil() {
		return "", false
	}
	text, err := scalarText(idv)
	if err != nil {
		return "", false
	}
	return text.Text, true
}

// setIdentity stores n into the nil iterator id field idv.
func setIdentity(idv reflect.Value, n int) error {
	fresh := reflect.New(idv.Type().Elem())
	target := fresh.Elem()
	switch target.Kind() {
	case reflect.String:
		target.SetString(strconv.Itoa(n))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if target.OverflowInt(int64(n)) {
			return errors.NewFieldAccessError(fmt.Sprintf("iterator id %d overflows %s", n, target.Type()))
		}
		target.SetInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if target.OverflowUint(uint64(n)) {
			return errors.NewFieldAccessError(fmt.Sprintf("iterator id %d overflows %s", n, target.Type()))
		}
		target.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		target.SetFloat(float64(n))
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unsupported iterator id type %s", idv.Type()))
	}
	idv.Set(fresh)
	return nil
}

// locate finds the element addressed by index text: its position when
// byPosition is set, its iterator id otherwise.
func locate(items reflect.Value, id *identitySpec, index string, byPosition bool) (int, bool) {
	if byPosition {
		pos, err := strconv.Atoi(index)
		if err != nil || pos < 0 || pos >= items.Len() {
			return 0, false
		}
		return pos, true
	}
	for i := 0; i < items.Len(); i++ {
		if text, ok := identityOf(items.Index(i), id); ok && text == index {
			return i, true
		}
	}
	return 0, false
}

// setsEqual compares two Set values of the same type ignoring order.
func setsEqual(a, b reflect.Value) bool {
	return a.MethodByName("Equal").Call([]reflect.Value{b})[0].Bool()
}
