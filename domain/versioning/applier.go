package versioning

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// StateApplier replays a Version against a base record in place.
type StateApplier struct {
	opts   options
	logger *zap.Logger
}

// NewStateApplier creates a new state applier
func NewStateApplier(logger *zap.Logger, opts ...Option) *StateApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateApplier{
		opts:   newOptions(opts),
		logger: logger,
	}
}

type keyedModification struct {
	key string
	pk  pathKey
	mod ObjectModification
}

// Apply mutates base, which must be a non-nil pointer to a struct, so that it
// matches the updated snapshot the version was extracted from. Every path key
// is attempted; failures are folded into one error returned at the end, and
// base may be partially modified when an error is returned.
func (a *StateApplier) Apply(version *Version, base any) error {
	if version == nil {
		return errors.NewValidationError("version is nil")
	}
	bv := reflect.ValueOf(base)
	if base == nil || bv.Kind() != reflect.Pointer || bv.IsNil() || bv.Elem().Kind() != reflect.Struct {
		return errors.NewValidationError(fmt.Sprintf("base must be a non-nil pointer to a struct, got %T", base))
	}

	rec := bv.Elem()
	if err := validateRoot(rec.Type()); err != nil {
		return err
	}
	if version.IsEmpty() {
		return nil
	}

	fc := errors.NewCollector("apply", a.logger)
	a.applyRecord(rec, version.ObjectModificationMap, "", fc, a.opts.parallelism > 1)

	if err := fc.ToError(); err != nil {
		return err
	}

	a.logger.Debug("applied version",
		zap.String("version_id", version.ID),
		zap.String("type", rec.Type().String()),
		zap.Int("modifications", len(version.ObjectModificationMap)),
	)
	return nil
}

func (a *StateApplier) applyRecord(rec reflect.Value, mods map[string]ObjectModification, prefix string, fc *errors.Collector, parallel bool) {
	s, err := schemaFor(rec.Type())
	if err != nil {
		fc.Add(prefix, err)
		return
	}

	var direct, structural []keyedModification
	groups := make(map[string]map[string]ObjectModification)
	groupKeys := make(map[string]pathKey)

	for key, mod := range mods {
		pk, err := parsePathKey(key)
		if err != nil {
			fc.Add(prefix+key, err)
			continue
		}
		switch {
		case pk.nested():
			head := pk.head()
			if groups[head] == nil {
				groups[head] = make(map[string]ObjectModification)
				groupKeys[head] = pk
			}
			groups[head][pk.subKey()] = mod
		case pk.structural():
			structural = append(structural, keyedModification{key: key, pk: pk, mod: mod})
		default:
			direct = append(direct, keyedModification{key: key, pk: pk, mod: mod})
		}
	}

	// A list without additions or removals was diffed by position; one with
	// them addresses its elements by iterator id.
	reshaped := make(map[string]bool, len(structural))
	for _, km := range structural {
		reshaped[km.pk.field] = true
	}

	// Stage 1: fields and map entries set directly
	sort.Slice(direct, func(i, j int) bool { return direct[i].key < direct[j].key })
	for _, km := range direct {
		a.applyDirect(rec, s, km, !reshaped[km.pk.field], prefix, fc)
	}

	// Stage 2: nested records, one worker per field
	byField := make(map[string][]string)
	for head, pk := range groupKeys {
		byField[pk.field] = append(byField[pk.field], head)
	}
	applyField := func(heads []string) {
		sort.Strings(heads)
		for _, head := range heads {
			a.applyNested(rec, s, groupKeys[head], groups[head], !reshaped[groupKeys[head].field], prefix, fc)
		}
	}
	if parallel && len(byField) > 1 {
		var g errgroup.Group
		g.SetLimit(a.opts.parallelism)
		for _, heads := range byField {
			g.Go(func() error {
				applyField(heads)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, heads := range byField {
			applyField(heads)
		}
	}

	// Stage 3: collection additions and removals
	structuralByField := make(map[string][]keyedModification)
	for _, km := range structural {
		structuralByField[km.pk.field] = append(structuralByField[km.pk.field], km)
	}
	fields := make([]string, 0, len(structuralByField))
	for name := range structuralByField {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		a.applyStructural(rec, s, name, structuralByField[name], prefix, fc)
	}
}

func (a *StateApplier) lookup(s *recordSchema, name, path string, fc *errors.Collector) (*fieldSpec, bool) {
	f, ok := s.field(name)
	if !ok {
		fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf("%s has no versioned field %q", s.typ, name)))
	}
	return f, ok
}

// applyDirect handles keys without separator or prefix: a whole field, a map
// entry, or a whole collection element.
func (a *StateApplier) applyDirect(rec reflect.Value, s *recordSchema, km keyedModification, positional bool, prefix string, fc *errors.Collector) {
	path := prefix + km.key
	f, ok := a.lookup(s, km.pk.field, path, fc)
	if !ok {
		return
	}
	fv := rec.Field(f.index)

	if !km.pk.hasIndex {
		a.applyField(f, fv, km.mod, path, fc)
		return
	}

	switch f.kind {
	case kindMap:
		a.applyMapEntry(f, fv, km.pk.index, km.mod, path, fc)
	case kindList, kindSet:
		if !f.elemRecord {
			fc.Add(path, errors.NewFieldAccessError("element keys are not supported on collections of scalars"))
			return
		}
		a.replaceElement(f, fv, km.pk.index, km.mod, f.kind == kindList && positional, path, fc)
	default:
		fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf("field %q of kind %s has no entries", f.name, f.kind)))
	}
}

// applyField sets a whole field after checking that it still holds the old
// value.
func (a *StateApplier) applyField(f *fieldSpec, fv reflect.Value, mod ObjectModification, path string, fc *errors.Collector) {
	current, err := fieldValue(f, fv, a.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if current != mod.OldValue {
		fc.Add(path, conflict(current, mod.OldValue))
		return
	}

	switch f.kind {
	case kindScalar:
		err = setScalar(fv, mod.NewValue)
	case kindEnum:
		err = setEnum(fv, mod.NewValue)
	default:
		var fresh reflect.Value
		if fresh, err = decodeEntry(kindRecord, f.typ, mod.NewValue, a.opts.codec); err == nil {
			fv.Set(fresh)
		}
	}
	if err != nil {
		fc.Add(path, err)
	}
}

func (a *StateApplier) applyMapEntry(f *fieldSpec, fv reflect.Value, index string, mod ObjectModification, path string, fc *errors.Collector) {
	key, err := parseKey(f.key, index)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if fv.IsNil() {
		fc.Add(path, errors.NewConflictError("map is absent"))
		return
	}
	entry := fv.MapIndex(key)
	if !entry.IsValid() {
		fc.Add(path, errors.NewConflictError("map entry is absent"))
		return
	}
	current, err := entryValue(f.elemKind, entry, a.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if current != mod.OldValue {
		fc.Add(path, conflict(current, mod.OldValue))
		return
	}
	fresh, err := decodeEntry(f.elemKind, f.elem, mod.NewValue, a.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	fv.SetMapIndex(key, fresh)
}

func (a *StateApplier) replaceElement(f *fieldSpec, fv reflect.Value, index string, mod ObjectModification, byPosition bool, path string, fc *errors.Collector) {
	id, ok := a.identity(f, path, fc)
	if !ok {
		return
	}
	items := collectionItems(f, fv)
	pos, found := locate(items, id, index, byPosition)
	if !found {
		fc.Add(path, errors.NewConflictError("element is absent"))
		return
	}
	current, err := entryValue(kindRecord, items.Index(pos), a.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if current != mod.OldValue {
		fc.Add(path, conflict(current, mod.OldValue))
		return
	}
	fresh, err := decodeEntry(kindRecord, f.elem, mod.NewValue, a.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	items.Index(pos).Set(fresh)
}

func (a *StateApplier) identity(f *fieldSpec, path string, fc *errors.Collector) (*identitySpec, bool) {
	es, err := schemaFor(recordType(f.elem))
	if err != nil {
		fc.Add(path, err)
		return nil, false
	}
	id, err := es.requireIdentity()
	if err != nil {
		fc.Add(path, err)
		return nil, false
	}
	return id, true
}

// applyNested replays sub-keys against the record addressed by head.
func (a *StateApplier) applyNested(rec reflect.Value, s *recordSchema, head pathKey, mods map[string]ObjectModification, positional bool, prefix string, fc *errors.Collector) {
	path := prefix + head.head()
	f, ok := a.lookup(s, head.field, path, fc)
	if !ok {
		return
	}
	fv := rec.Field(f.index)
	sub := nestedPrefix(path)

	if !head.hasIndex {
		if f.kind != kindRecord {
			fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf("field %q of kind %s has no nested fields", f.name, f.kind)))
			return
		}
		target, ok := recordValue(fv)
		if !ok {
			fc.Add(path, errors.NewConflictError("nested record is absent"))
			return
		}
		a.applyRecord(target, mods, sub, fc, false)
		return
	}

	switch f.kind {
	case kindList, kindSet:
		if !f.elemRecord {
			fc.Add(path, errors.NewFieldAccessError("nested keys are not supported on collections of scalars"))
			return
		}
		id, ok := a.identity(f, path, fc)
		if !ok {
			return
		}
		items := collectionItems(f, fv)
		pos, found := locate(items, id, head.index, f.kind == kindList && positional)
		if !found {
			fc.Add(path, errors.NewConflictError("element is absent"))
			return
		}
		target, ok := recordValue(items.Index(pos))
		if !ok {
			fc.Add(path, errors.NewConflictError("element is nil"))
			return
		}
		a.applyRecord(target, mods, sub, fc, false)

	case kindMap:
		if !f.elemRecord {
			fc.Add(path, errors.NewFieldAccessError("nested keys are not supported on maps of scalars"))
			return
		}
		key, err := parseKey(f.key, head.index)
		if err != nil {
			fc.Add(path, err)
			return
		}
		if fv.IsNil() {
			fc.Add(path, errors.NewConflictError("map is absent"))
			return
		}
		entry := fv.MapIndex(key)
		if !entry.IsValid() {
			fc.Add(path, errors.NewConflictError("map entry is absent"))
			return
		}
		if entry.Kind() == reflect.Pointer {
			if entry.IsNil() {
				fc.Add(path, errors.NewConflictError("map entry is nil"))
				return
			}
			a.applyRecord(entry.Elem(), mods, sub, fc, false)
			return
		}
		// Map values are not addressable: patch a copy and store it back.
		target := addressable(entry)
		a.applyRecord(target, mods, sub, fc, false)
		fv.SetMapIndex(key, target)

	default:
		fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf("field %q of kind %s has no entries", f.name, f.kind)))
	}
}

// applyStructural applies removals then additions to one collection field.
func (a *StateApplier) applyStructural(rec reflect.Value, s *recordSchema, name string, kms []keyedModification, prefix string, fc *errors.Collector) {
	path := prefix + name
	f, ok := a.lookup(s, name, path, fc)
	if !ok {
		return
	}
	fv := rec.Field(f.index)

	var removals, additions []keyedModification
	for _, km := range kms {
		if km.pk.op == opRemove {
			removals = append(removals, km)
		} else {
			additions = append(additions, km)
		}
	}

	switch f.kind {
	case kindList, kindSet:
		if !f.elemRecord {
			fc.Add(path, errors.NewFieldAccessError("collections of scalars are replaced whole"))
			return
		}
		a.applyCollection(f, fv, removals, additions, prefix, fc)
	case kindMap:
		a.applyMapStructure(f, fv, removals, additions, prefix, fc)
	default:
		fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf("field %q of kind %s cannot add or remove entries", f.name, f.kind)))
	}
}

func (a *StateApplier) applyCollection(f *fieldSpec, fv reflect.Value, removals, additions []keyedModification, prefix string, fc *errors.Collector) {
	id, ok := a.identity(f, prefix+f.name, fc)
	if !ok {
		return
	}
	items := collectionItems(f, fv)
	work := newWorkingList(items)

	for _, km := range removals {
		pos, found := locate(items, id, km.pk.index, false)
		if !found || work.removed(pos) {
			fc.Add(prefix+km.key, errors.NewConflictError("element to remove is absent"))
			continue
		}
		current, err := entryValue(kindRecord, items.Index(pos), a.opts.codec)
		if err != nil {
			fc.Add(prefix+km.key, err)
			continue
		}
		if current != km.mod.OldValue {
			fc.Add(prefix+km.key, conflict(current, km.mod.OldValue))
			continue
		}
		work.remove(pos)
	}

	type addition struct {
		index int
		km    keyedModification
	}
	adds := make([]addition, 0, len(additions))
	for _, km := range additions {
		index, err := strconv.Atoi(km.pk.index)
		if err != nil || index < 0 {
			fc.Add(prefix+km.key, errors.NewValidationError(fmt.Sprintf("invalid collection index %q", km.pk.index)))
			continue
		}
		adds = append(adds, addition{index: index, km: km})
	}
	sort.Slice(adds, func(i, j int) bool { return adds[i].index < adds[j].index })

	for _, add := range adds {
		elem, err := decodeEntry(kindRecord, f.elem, add.km.mod.NewValue, a.opts.codec)
		if err != nil {
			fc.Add(prefix+add.km.key, err)
			continue
		}
		if f.kind == kindSet {
			work.append(elem)
		} else {
			work.insert(add.index, elem)
		}
	}

	compacted := work.compact(items.Type())
	if items.IsNil() && compacted.Len() == 0 {
		return
	}
	items.Set(compacted)
}

func (a *StateApplier) applyMapStructure(f *fieldSpec, fv reflect.Value, removals, additions []keyedModification, prefix string, fc *errors.Collector) {
	sort.Slice(removals, func(i, j int) bool { return removals[i].key < removals[j].key })
	for _, km := range removals {
		path := prefix + km.key
		key, err := parseKey(f.key, km.pk.index)
		if err != nil {
			fc.Add(path, err)
			continue
		}
		entry := reflect.Value{}
		if !fv.IsNil() {
			entry = fv.MapIndex(key)
		}
		if !entry.IsValid() {
			fc.Add(path, errors.NewConflictError("map entry to remove is absent"))
			continue
		}
		current, err := entryValue(f.elemKind, entry, a.opts.codec)
		if err != nil {
			fc.Add(path, err)
			continue
		}
		if current != km.mod.OldValue {
			fc.Add(path, conflict(current, km.mod.OldValue))
			continue
		}
		fv.SetMapIndex(key, reflect.Value{})
	}

	sort.Slice(additions, func(i, j int) bool { return additions[i].key < additions[j].key })
	for _, km := range additions {
		path := prefix + km.key
		key, err := parseKey(f.key, km.pk.index)
		if err != nil {
			fc.Add(path, err)
			continue
		}
		if fv.IsNil() {
			fv.Set(reflect.MakeMap(f.typ))
		}
		if fv.MapIndex(key).IsValid() {
			fc.Add(path, errors.NewConflictError("map entry to add already exists"))
			continue
		}
		fresh, err := decodeEntry(f.elemKind, f.elem, km.mod.NewValue, a.opts.codec)
		if err != nil {
			fc.Add(path, err)
			continue
		}
		fv.SetMapIndex(key, fresh)
	}
}

func conflict(current, expected Value) error {
	return errors.NewConflictError(fmt.Sprintf(
		"base holds %s %q, version expects %s %q",
		current.Kind, current.Text, expected.Kind, expected.Text))
}
