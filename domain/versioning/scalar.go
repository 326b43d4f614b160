package versioning

import (
	"encoding"
	"encoding/base64"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// scalarText returns the canonical text of a scalar value. Arbitrary
// precision numbers are carried as their decimal text.
func scalarText(v reflect.Value) (Value, error) {
	switch v.Type() {
	case bigIntType:
		if v.IsNil() {
			return Absent(), nil
		}
		return Scalar(v.Interface().(*big.Int).String()), nil
	case bigRatType:
		if v.IsNil() {
			return Absent(), nil
		}
		return Scalar(v.Interface().(*big.Rat).RatString()), nil
	}

	if isBytes(v.Type()) {
		if v.IsNil() {
			return Absent(), nil
		}
		return Scalar(base64.StdEncoding.EncodeToString(v.Bytes())), nil
	}

	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Absent(), nil
		}
		v = v.Elem()
	}

	if v.Type() == timeType {
		return Scalar(v.Interface().(time.Time).Format(time.RFC3339Nano)), nil
	}

	switch v.Kind() {
	case reflect.String:
		return Scalar(v.String()), nil
	case reflect.Bool:
		return Scalar(strconv.FormatBool(v.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Scalar(strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Scalar(strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return Scalar(strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits())), nil
	}
	return Absent(), errors.NewFieldAccessError(fmt.Sprintf("%s is not a scalar type", v.Type()))
}

// setScalar stores the scalar text of val into target, which must be settable.
func setScalar(target reflect.Value, val Value) error {
	t := target.Type()

	if val.IsAbsent() {
		if t.Kind() != reflect.Pointer && t.Kind() != reflect.Slice {
			return errors.NewConflictError(fmt.Sprintf("cannot clear non-nullable %s", t))
		}
		target.Set(reflect.Zero(t))
		return nil
	}

	switch t {
	case bigIntType:
		n, ok := new(big.Int).SetString(val.Text, 10)
		if !ok {
			return errors.NewReconstructionError(fmt.Sprintf("invalid integer %q", val.Text), nil)
		}
		target.Set(reflect.ValueOf(n))
		return nil
	case bigRatType:
		r, ok := new(big.Rat).SetString(val.Text)
		if !ok {
			return errors.NewReconstructionError(fmt.Sprintf("invalid decimal %q", val.Text), nil)
		}
		target.Set(reflect.ValueOf(r))
		return nil
	}

	if isBytes(t) {
		b, err := base64.StdEncoding.DecodeString(val.Text)
		if err != nil {
			return errors.NewReconstructionError("invalid base64 bytes", err)
		}
		target.SetBytes(b)
		return nil
	}

	if t.Kind() == reflect.Pointer {
		fresh := reflect.New(t.Elem())
		if err := parseBasic(fresh.Elem(), val.Text); err != nil {
			return err
		}
		target.Set(fresh)
		return nil
	}
	return parseBasic(target, val.Text)
}

// parseBasic parses text into a non-pointer scalar.
func parseBasic(target reflect.Value, text string) error {
	t := target.Type()

	if t == timeType {
		ts, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return errors.NewReconstructionError(fmt.Sprintf("invalid time %q", text), err)
		}
		target.Set(reflect.ValueOf(ts))
		return nil
	}

	switch t.Kind() {
	case reflect.String:
		target.SetString(text)
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return errors.NewReconstructionError(fmt.Sprintf("invalid bool %q", text), err)
		}
		target.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, t.Bits())
		if err != nil {
			return errors.NewReconstructionError(fmt.Sprintf("invalid %s %q", t, text), err)
		}
		target.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, t.Bits())
		if err != nil {
			return errors.NewReconstructionError(fmt.Sprintf("invalid %s %q", t, text), err)
		}
		target.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, t.Bits())
		if err != nil {
			return errors.NewReconstructionError(fmt.Sprintf("invalid %s %q", t, text), err)
		}
		target.SetFloat(f)
	default:
		return errors.NewReconstructionError(fmt.Sprintf("%s is not a scalar type", t), nil)
	}
	return nil
}

// enumText returns the symbolic name of an enum value.
func enumText(v reflect.Value) (Value, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Absent(), nil
		}
		v = v.Elem()
	}
	name, err := v.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return Absent(), errors.NewFieldAccessError(fmt.Sprintf("cannot name %s value", v.Type())).WithCause(err)
	}
	return EnumName(string(name)), nil
}

// setEnum resolves val by symbolic name and stores it into target.
func setEnum(target reflect.Value, val Value) error {
	t := target.Type()
	if val.IsAbsent() {
		if t.Kind() != reflect.Pointer {
			return errors.NewConflictError(fmt.Sprintf("cannot clear non-nullable %s", t))
		}
		target.Set(reflect.Zero(t))
		return nil
	}

	enumT := t
	if t.Kind() == reflect.Pointer {
		enumT = t.Elem()
	}
	fresh := reflect.New(enumT)
	if err := fresh.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(val.Text)); err != nil {
		return errors.NewReconstructionError(fmt.Sprintf("unknown %s constant %q", enumT, val.Text), err)
	}
	if t.Kind() == reflect.Pointer {
		target.Set(fresh)
	} else {
		target.Set(fresh.Elem())
	}
	return nil
}

// keyText renders a map key as index text.
func keyText(k reflect.Value) (string, error) {
	var (
		v   Value
		err error
	)
	if isEnumType(k.Type()) {
		v, err = enumText(k)
	} else {
		v, err = scalarText(k)
	}
	if err != nil {
		return "", err
	}
	return v.Text, nil
}

// parseKey turns index text back into a map key of type t.
func parseKey(t reflect.Type, text string) (reflect.Value, error) {
	k := reflect.New(t).Elem()
	var err error
	if isEnumType(t) {
		err = setEnum(k, EnumName(text))
	} else {
		err = parseBasic(k, text)
	}
	return k, err
}
