package versioning

import (
	"strings"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// Reserved path key tokens.
const (
	AddToken        = "+"
	RemoveToken     = "-"
	FieldSeparator  = "."
	CollectionStart = "["
	CollectionEnd   = "]"
)

// reservedChars may not appear in field names.
const reservedChars = AddToken + RemoveToken + FieldSeparator + CollectionStart + CollectionEnd

// pathOp is the structural marker carried by a path key.
type pathOp uint8

const (
	opNone pathOp = iota
	opAdd
	opRemove
)

func (o pathOp) token() string {
	switch o {
	case opAdd:
		return AddToken
	case opRemove:
		return RemoveToken
	default:
		return ""
	}
}

// pathKey is a path key split at its outermost segment.
//
//	key     := [prefix] segment (SEP segment)*
//	segment := fieldName [ "[" index "]" ]
//
// The prefix applies to the last segment, so the remainder of a nested key
// inherits it.
type pathKey struct {
	op       pathOp
	field    string
	index    string
	hasIndex bool
	rest     string
}

// head returns the outermost segment without the prefix.
func (k pathKey) head() string {
	if k.hasIndex {
		return k.field + CollectionStart + k.index + CollectionEnd
	}
	return k.field
}

// nested reports whether the key continues below the outermost segment.
func (k pathKey) nested() bool {
	return k.rest != ""
}

// subKey returns the key relative to the outermost segment.
func (k pathKey) subKey() string {
	return k.op.token() + k.rest
}

// structural reports whether the key adds or removes a collection entry at
// this level.
func (k pathKey) structural() bool {
	return k.op != opNone && !k.nested()
}

func parsePathKey(key string) (pathKey, error) {
	var pk pathKey
	s := key

	switch {
	case strings.HasPrefix(s, AddToken):
		pk.op = opAdd
		s = s[len(AddToken):]
	case strings.HasPrefix(s, RemoveToken):
		pk.op = opRemove
		s = s[len(RemoveToken):]
	}

	end := strings.IndexAny(s, CollectionStart+FieldSeparator)
	if end < 0 {
		end = len(s)
	}
	pk.field = s[:end]
	if pk.field == "" {
		return pathKey{}, errors.NewValidationError("path key has an empty field name").WithPath(key)
	}
	s = s[end:]

	if strings.HasPrefix(s, CollectionStart) {
		closing := strings.Index(s, CollectionEnd)
		if closing < 0 {
			return pathKey{}, errors.NewValidationError("path key has an unterminated index").WithPath(key)
		}
		pk.index = s[len(CollectionStart):closing]
		pk.hasIndex = true
		s = s[closing+len(CollectionEnd):]
	}

	if s == "" {
		return pk, nil
	}
	if !strings.HasPrefix(s, FieldSeparator) || len(s) == len(FieldSeparator) {
		return pathKey{}, errors.NewValidationError("path key has a malformed segment").WithPath(key)
	}
	pk.rest = s[len(FieldSeparator):]
	return pk, nil
}

// Builders used by the extractor. prefix is either empty or ends with
// FieldSeparator.

func fieldPath(prefix, name string) string {
	return prefix + name
}

func indexedPath(prefix, name, index string) string {
	return prefix + name + CollectionStart + index + CollectionEnd
}

func nestedPrefix(path string) string {
	return path + FieldSeparator
}

func addPath(prefix, name, index string) string {
	return AddToken + indexedPath(prefix, name, index)
}

func removePath(prefix, name, index string) string {
	return RemoveToken + indexedPath(prefix, name, index)
}
