package versioning

import (
	"fmt"
	"reflect"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// IteratorIDManager gives every element of a list or set of records a stable
// iterator id so that later diffs can match elements across snapshots.
type IteratorIDManager struct {
	opts   options
	logger *zap.Logger
}

// NewIteratorIDManager creates a new iterator id manager
func NewIteratorIDManager(logger *zap.Logger, opts ...Option) *IteratorIDManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IteratorIDManager{
		opts:   newOptions(opts),
		logger: logger,
	}
}

// Assign fills every unassigned iterator id reachable from the records,
// recursing through nested records and collection elements. Assigned ids are
// never changed. Records must be non-nil pointers to structs.
//
// A new id is the element's position in its collection, or the next value
// above it that no sibling already uses.
func (m *IteratorIDManager) Assign(records ...any) error {
	targets := make([]reflect.Value, 0, len(records))
	for i, r := range records {
		v := reflect.ValueOf(r)
		if r == nil || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return errors.NewValidationError(fmt.Sprintf("record %d must be a non-nil pointer to a struct, got %T", i, r))
		}
		if err := validateRoot(v.Elem().Type()); err != nil {
			return err
		}
		targets = append(targets, v.Elem())
	}

	fc := errors.NewCollector("assign", m.logger)

	var g errgroup.Group
	g.SetLimit(m.opts.parallelism)
	for _, target := range targets {
		g.Go(func() error {
			m.assignRecord(target, "", fc)
			return nil
		})
	}
	_ = g.Wait()

	return fc.ToError()
}

// AssignIdentities is Assign for a typed slice of records.
func AssignIdentities[T any](m *IteratorIDManager, records []T) ([]T, error) {
	args := make([]any, len(records))
	for i := range records {
		args[i] = records[i]
	}
	return records, m.Assign(args...)
}

func (m *IteratorIDManager) assignRecord(rec reflect.Value, prefix string, fc *errors.Collector) {
	s, err := schemaFor(rec.Type())
	if err != nil {
		fc.Add(prefix, err)
		return
	}

	for i := range s.fields {
		f := &s.fields[i]
		fv := rec.Field(f.index)
		path := fieldPath(prefix, f.name)

		switch f.kind {
		case kindRecord:
			if nested, ok := recordValue(fv); ok {
				m.assignRecord(nested, nestedPrefix(path), fc)
			}
		case kindList, kindSet:
			if f.elemRecord && !isAbsent(f, fv) {
				m.assignCollection(f, collectionItems(f, fv), prefix, fc)
			}
		}
	}
}

func (m *IteratorIDManager) assignCollection(f *fieldSpec, items reflect.Value, prefix string, fc *errors.Collector) {
	es, err := schemaFor(recordType(f.elem))
	if err != nil {
		fc.Add(fieldPath(prefix, f.name), err)
		return
	}
	id, err := es.requireIdentity()
	if err != nil {
		fc.Add(fieldPath(prefix, f.name), err)
		return
	}

	taken := make(map[string]bool, items.Len())
	for i := 0; i < items.Len(); i++ {
		if text, ok := identityOf(items.Index(i), id); ok {
			taken[text] = true
		}
	}

	for i := 0; i < items.Len(); i++ {
		rec, ok := recordValue(items.Index(i))
		if !ok {
			continue
		}

		idv := rec.Field(id.index)
		if idv.IsNil() {
			n := i
			for taken[strconv.Itoa(n)] {
				n++
			}
			if err := setIdentity(idv, n); err != nil {
				fc.Add(indexedPath(prefix, f.name, strconv.Itoa(i)), err)
				continue
			}
			taken[strconv.Itoa(n)] = true
		}

		index, _ := identityOf(items.Index(i), id)
		m.assignRecord(rec, nestedPrefix(indexedPath(prefix, f.name, index)), fc)
	}
}
