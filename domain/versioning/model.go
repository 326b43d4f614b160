package versioning

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	// ValueAbsent marks a missing value (nil pointer, nil collection).
	ValueAbsent ValueKind = iota
	// ValueScalar holds the canonical text of a scalar field.
	ValueScalar
	// ValueEnum holds the symbolic name of an enum field.
	ValueEnum
	// ValueText holds the serialized text of a record or collection.
	ValueText
)

var valueKindNames = map[ValueKind]string{
	ValueAbsent: "absent",
	ValueScalar: "scalar",
	ValueEnum:   "enum",
	ValueText:   "text",
}

// String returns the wire name of the kind
func (k ValueKind) String() string {
	if name, ok := valueKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value is one side of an ObjectModification.
type Value struct {
	Kind ValueKind
	Text string
}

// Absent returns the absent value.
func Absent() Value { return Value{} }

// Scalar wraps the canonical text of a scalar.
func Scalar(text string) Value { return Value{Kind: ValueScalar, Text: text} }

// EnumName wraps the symbolic name of an enum constant.
func EnumName(name string) Value { return Value{Kind: ValueEnum, Text: name} }

// Text wraps serialized record or collection text.
func Text(text string) Value { return Value{Kind: ValueText, Text: text} }

// IsAbsent reports whether v holds no value.
func (v Value) IsAbsent() bool { return v.Kind == ValueAbsent }

type valueJSON struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// MarshalJSON encodes absent as null and everything else as {kind,text}.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsAbsent() {
		return []byte("null"), nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(valueJSON{Kind: v.Kind.String(), Text: v.Text})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var raw valueJSON
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &raw); err != nil {
		return err
	}
	for kind, name := range valueKindNames {
		if name == raw.Kind {
			*v = Value{Kind: kind, Text: raw.Text}
			return nil
		}
	}
	return fmt.Errorf("unknown value kind %q", raw.Kind)
}

// ObjectModification records the before and after value at one path key.
type ObjectModification struct {
	OldValue Value `json:"oldValue"`
	NewValue Value `json:"newValue"`
}

// Modification builds an ObjectModification.
func Modification(oldValue, newValue Value) ObjectModification {
	return ObjectModification{OldValue: oldValue, NewValue: newValue}
}

// Version is the changeset between two snapshots of a record, keyed by path.
type Version struct {
	ID                    string                        `json:"id"`
	CorrelationID         string                        `json:"correlationId,omitempty"`
	CreatedAt             time.Time                     `json:"createdAt"`
	ObjectModificationMap map[string]ObjectModification `json:"objectModificationMap"`
}

// IsEmpty reports whether the version carries no modifications.
func (v *Version) IsEmpty() bool {
	return v == nil || len(v.ObjectModificationMap) == 0
}

// Pair is implemented by DiffPair for every record type.
type Pair interface {
	sides() (current, updated any)
}

// DiffPair is an ordered pair of snapshots of the same record.
// At most one side may be nil.
type DiffPair[T any] struct {
	Current T
	Updated T
}

// NewDiffPair creates a DiffPair
func NewDiffPair[T any](current, updated T) DiffPair[T] {
	return DiffPair[T]{Current: current, Updated: updated}
}

func (p DiffPair[T]) sides() (any, any) {
	return p.Current, p.Updated
}
