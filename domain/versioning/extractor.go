package versioning

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// StateExtractor computes the Version between two snapshots of a record.
// It never mutates its inputs.
type StateExtractor struct {
	opts   options
	logger *zap.Logger
}

// NewStateExtractor creates a new state extractor
func NewStateExtractor(logger *zap.Logger, opts ...Option) *StateExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateExtractor{
		opts:   newOptions(opts),
		logger: logger,
	}
}

// changeSet is the path-keyed modification map under construction.
type changeSet struct {
	mu      sync.Mutex
	entries map[string]ObjectModification
}

func newChangeSet() *changeSet {
	return &changeSet{entries: make(map[string]ObjectModification)}
}

func (c *changeSet) put(path string, mod ObjectModification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = mod
}

// Extract diffs the pair. Either side may be nil, in which case it is compared
// as the zero value of the record type.
func (e *StateExtractor) Extract(pair Pair) (*Version, error) {
	if pair == nil {
		return nil, errors.NewValidationError("diff pair is nil")
	}
	current, updated := pair.sides()

	cur, curOK := snapshot(current)
	upd, updOK := snapshot(updated)
	if !curOK && !updOK {
		return nil, errors.NewValidationError("diff pair has neither a current nor an updated record")
	}

	var t reflect.Type
	switch {
	case curOK && updOK:
		if cur.Type() != upd.Type() {
			return nil, errors.NewValidationError(fmt.Sprintf(
				"diff pair mixes record types %s and %s", cur.Type(), upd.Type()))
		}
		t = cur.Type()
	case curOK:
		t = cur.Type()
		upd = reflect.New(t).Elem()
	default:
		t = upd.Type()
		cur = reflect.New(t).Elem()
	}

	if err := validateRoot(t); err != nil {
		return nil, err
	}

	cs := newChangeSet()
	fc := errors.NewCollector("extract", e.logger)
	e.diffRecord(cur, upd, "", cs, fc, e.opts.parallelism > 1)

	if err := fc.ToError(); err != nil {
		return nil, err
	}

	e.logger.Debug("extracted version",
		zap.String("type", t.String()),
		zap.Int("modifications", len(cs.entries)),
	)

	return &Version{
		ID:                    uuid.NewString(),
		CreatedAt:             e.opts.clock().UTC(),
		ObjectModificationMap: cs.entries,
	}, nil
}

// snapshot unwraps a record argument to its struct value.
func snapshot(record any) (reflect.Value, bool) {
	if record == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(record)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}

func (e *StateExtractor) diffRecord(cur, upd reflect.Value, prefix string, cs *changeSet, fc *errors.Collector, parallel bool) {
	s, err := schemaFor(cur.Type())
	if err != nil {
		fc.Add(prefix, err)
		return
	}

	if !parallel {
		for i := range s.fields {
			f := &s.fields[i]
			e.diffField(f, cur.Field(f.index), upd.Field(f.index), prefix, cs, fc)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(e.opts.parallelism)
	for i := range s.fields {
		f := &s.fields[i]
		cf, uf := cur.Field(f.index), upd.Field(f.index)
		if f.kind == kindScalar || f.kind == kindEnum || f.wholeValue() {
			e.diffField(f, cf, uf, prefix, cs, fc)
			continue
		}
		g.Go(func() error {
			e.diffField(f, cf, uf, prefix, cs, fc)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *StateExtractor) diffField(f *fieldSpec, cf, uf reflect.Value, prefix string, cs *changeSet, fc *errors.Collector) {
	path := fieldPath(prefix, f.name)

	switch {
	case f.kind == kindScalar, f.kind == kindEnum, f.wholeValue():
		e.diffFlat(f, cf, uf, path, cs, fc)
		return
	case f.kind == kindRecord && !f.nullable:
		e.diffRecord(cf, uf, nestedPrefix(path), cs, fc, false)
		return
	}

	// Records, lists, sets and maps that may be absent
	curAbsent, updAbsent := isAbsent(f, cf), isAbsent(f, uf)
	switch {
	case curAbsent && updAbsent:
		return
	case curAbsent || updAbsent:
		e.diffFlat(f, cf, uf, path, cs, fc)
		return
	}

	switch f.kind {
	case kindRecord:
		e.diffRecord(cf.Elem(), uf.Elem(), nestedPrefix(path), cs, fc, false)
	case kindList:
		e.diffList(f, cf, uf, prefix, cs, fc)
	case kindSet:
		e.diffSet(f, collectionItems(f, cf), collectionItems(f, uf), prefix, cs, fc)
	case kindMap:
		e.diffMap(f, cf, uf, prefix, cs, fc)
	}
}

// diffFlat records a modification when the Value of the two sides differs.
func (e *StateExtractor) diffFlat(f *fieldSpec, cf, uf reflect.Value, path string, cs *changeSet, fc *errors.Collector) {
	if f.kind == kindSet && setsEqual(cf, uf) {
		return
	}
	oldValue, err := fieldValue(f, cf, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	newValue, err := fieldValue(f, uf, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if oldValue != newValue {
		cs.put(path, Modification(oldValue, newValue))
	}
}

// diffElement compares two elements addressed by path (without separator).
func (e *StateExtractor) diffElement(ce, ue reflect.Value, path string, cs *changeSet, fc *errors.Collector) {
	if reflect.DeepEqual(ce.Interface(), ue.Interface()) {
		return
	}
	cr, curOK := recordValue(ce)
	ur, updOK := recordValue(ue)
	if curOK && updOK {
		e.diffRecord(cr, ur, nestedPrefix(path), cs, fc, false)
		return
	}

	oldValue, err := entryValue(kindRecord, ce, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	newValue, err := entryValue(kindRecord, ue, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	cs.put(path, Modification(oldValue, newValue))
}

type listEntry struct {
	pos int
	id  string
	ok  bool
}

func listEntries(items reflect.Value, id *identitySpec) []listEntry {
	entries := make([]listEntry, items.Len())
	for i := range entries {
		text, ok := identityOf(items.Index(i), id)
		entries[i] = listEntry{pos: i, id: text, ok: ok}
	}
	return entries
}

func (e *StateExtractor) diffList(f *fieldSpec, cf, uf reflect.Value, prefix string, cs *changeSet, fc *errors.Collector) {
	path := fieldPath(prefix, f.name)
	es, err := schemaFor(recordType(f.elem))
	if err != nil {
		fc.Add(path, err)
		return
	}
	id, err := es.requireIdentity()
	if err != nil {
		fc.Add(path, err)
		return
	}

	curEntries, updEntries := listEntries(cf, id), listEntries(uf, id)

	// Same ids in the same order: elements are addressed by position and the
	// version carries no structural key for this field.
	if !listChanged(curEntries, updEntries) {
		for i := range curEntries {
			e.diffElement(cf.Index(i), uf.Index(i), indexedPath(prefix, f.name, strconv.Itoa(i)), cs, fc)
		}
		return
	}

	curPos, ok := e.positionsByID(curEntries, prefix, f.name, fc)
	if !ok {
		return
	}

	// Match updated elements to current ones by id, in updated order.
	type match struct{ upd, cur int }
	var matches []match
	claimed := make(map[string]bool)
	for _, u := range updEntries {
		if !u.ok || claimed[u.id] {
			continue
		}
		if c, found := curPos[u.id]; found {
			claimed[u.id] = true
			matches = append(matches, match{upd: u.pos, cur: c})
		}
	}

	// Matched elements whose relative order survived stay in place; the
	// others are moved by removal and re-addition.
	curOrder := make([]int, len(matches))
	for i, m := range matches {
		curOrder[i] = m.cur
	}
	keptUpd := make(map[int]bool, len(matches))
	keptCur := make(map[int]bool, len(matches))
	lastKept := -1
	for _, i := range longestIncreasing(curOrder) {
		keptUpd[matches[i].upd] = true
		keptCur[matches[i].cur] = true
		if matches[i].upd > lastKept {
			lastKept = matches[i].upd
		}
	}

	for _, m := range matches {
		if keptUpd[m.upd] {
			e.diffElement(cf.Index(m.cur), uf.Index(m.upd),
				indexedPath(prefix, f.name, curEntries[m.cur].id), cs, fc)
		}
	}

	for _, c := range curEntries {
		if keptCur[c.pos] {
			continue
		}
		e.recordRemoval(cf.Index(c.pos), removePath(prefix, f.name, c.id), cs, fc)
	}

	offset := cf.Len() + uf.Len()
	for _, u := range updEntries {
		if keptUpd[u.pos] {
			continue
		}
		index := u.pos
		if u.pos > lastKept {
			index = offset + u.pos
		}
		e.recordAddition(uf.Index(u.pos), addPath(prefix, f.name, strconv.Itoa(index)), cs, fc)
	}
}

// positionsByID indexes current elements by iterator id. Elements without an
// id or sharing one cannot be addressed by id and fail the field.
func (e *StateExtractor) positionsByID(entries []listEntry, prefix, name string, fc *errors.Collector) (map[string]int, bool) {
	positions := make(map[string]int, len(entries))
	ok := true
	for _, c := range entries {
		path := indexedPath(prefix, name, strconv.Itoa(c.pos))
		if !c.ok {
			fc.Add(path, errors.NewFieldAccessError(
				"current element has no iterator id; assign ids before extracting"))
			ok = false
			continue
		}
		if first, dup := positions[c.id]; dup {
			fc.Add(path, errors.NewFieldAccessError(fmt.Sprintf(
				"iterator id %q is shared with element %d", c.id, first)))
			ok = false
			continue
		}
		positions[c.id] = c.pos
	}
	return positions, ok
}

// listChanged decides between positional comparison and reconciliation by
// iterator id.
func listChanged(cur, upd []listEntry) bool {
	if len(cur) != len(upd) {
		return true
	}
	present := make(map[string]bool, len(upd))
	for _, u := range upd {
		if !u.ok {
			return true
		}
		present[u.id] = true
	}
	for i, c := range cur {
		if !c.ok || !present[c.id] || c.id != upd[i].id {
			return true
		}
	}
	return false
}

func (e *StateExtractor) diffSet(f *fieldSpec, cur, upd reflect.Value, prefix string, cs *changeSet, fc *errors.Collector) {
	path := fieldPath(prefix, f.name)
	es, err := schemaFor(recordType(f.elem))
	if err != nil {
		fc.Add(path, err)
		return
	}
	id, err := es.requireIdentity()
	if err != nil {
		fc.Add(path, err)
		return
	}

	curEntries, updEntries := listEntries(cur, id), listEntries(upd, id)
	curPos, ok := e.positionsByID(curEntries, prefix, f.name, fc)
	if !ok {
		return
	}

	seen := make(map[string]bool, len(updEntries))
	for _, u := range updEntries {
		c, found := curPos[u.id]
		if !u.ok || !found || seen[u.id] {
			e.recordAddition(upd.Index(u.pos), addPath(prefix, f.name, strconv.Itoa(u.pos)), cs, fc)
			continue
		}
		seen[u.id] = true
		e.diffElement(cur.Index(c), upd.Index(u.pos), indexedPath(prefix, f.name, u.id), cs, fc)
	}

	for _, c := range curEntries {
		if !seen[c.id] {
			e.recordRemoval(cur.Index(c.pos), removePath(prefix, f.name, c.id), cs, fc)
		}
	}
}

func (e *StateExtractor) diffMap(f *fieldSpec, cf, uf reflect.Value, prefix string, cs *changeSet, fc *errors.Collector) {
	for _, k := range uf.MapKeys() {
		index, ok := e.mapIndex(k, prefix, f, fc)
		if !ok {
			continue
		}
		uv := uf.MapIndex(k)
		cv := cf.MapIndex(k)

		if !cv.IsValid() {
			e.diffEntry(f, reflect.Value{}, uv, addPath(prefix, f.name, index), cs, fc)
			continue
		}
		if reflect.DeepEqual(cv.Interface(), uv.Interface()) {
			continue
		}

		entryPath := indexedPath(prefix, f.name, index)
		if f.elemRecord {
			cr, curOK := recordValue(cv)
			ur, updOK := recordValue(uv)
			if curOK && updOK {
				e.diffRecord(cr, ur, nestedPrefix(entryPath), cs, fc, false)
				continue
			}
		}
		e.diffEntry(f, cv, uv, entryPath, cs, fc)
	}

	for _, k := range cf.MapKeys() {
		if uf.MapIndex(k).IsValid() {
			continue
		}
		index, ok := e.mapIndex(k, prefix, f, fc)
		if !ok {
			continue
		}
		oldValue, err := entryValue(f.elemKind, cf.MapIndex(k), e.opts.codec)
		if err != nil {
			fc.Add(removePath(prefix, f.name, index), err)
			continue
		}
		cs.put(removePath(prefix, f.name, index), Modification(oldValue, Absent()))
	}
}

func (e *StateExtractor) mapIndex(k reflect.Value, prefix string, f *fieldSpec, fc *errors.Collector) (string, bool) {
	index, err := keyText(k)
	if err != nil {
		fc.Add(fieldPath(prefix, f.name), err)
		return "", false
	}
	if strings.Contains(index, CollectionEnd) {
		fc.Add(fieldPath(prefix, f.name), errors.NewValidationError(
			fmt.Sprintf("map key %q contains %q and cannot be addressed", index, CollectionEnd)))
		return "", false
	}
	return index, true
}

// diffEntry records a flat map entry change. An invalid cv marks a new key.
func (e *StateExtractor) diffEntry(f *fieldSpec, cv, uv reflect.Value, path string, cs *changeSet, fc *errors.Collector) {
	oldValue := Absent()
	if cv.IsValid() {
		var err error
		if oldValue, err = entryValue(f.elemKind, cv, e.opts.codec); err != nil {
			fc.Add(path, err)
			return
		}
	}
	newValue, err := entryValue(f.elemKind, uv, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	if oldValue != newValue || !cv.IsValid() {
		cs.put(path, Modification(oldValue, newValue))
	}
}

func (e *StateExtractor) recordAddition(elem reflect.Value, path string, cs *changeSet, fc *errors.Collector) {
	newValue, err := entryValue(kindRecord, elem, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	cs.put(path, Modification(Absent(), newValue))
}

func (e *StateExtractor) recordRemoval(elem reflect.Value, path string, cs *changeSet, fc *errors.Collector) {
	oldValue, err := entryValue(kindRecord, elem, e.opts.codec)
	if err != nil {
		fc.Add(path, err)
		return
	}
	cs.put(path, Modification(oldValue, Absent()))
}

// longestIncreasing returns the indexes of one longest strictly increasing
// subsequence of seq, in order.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	// tails[k] is the index in seq of the smallest tail of an increasing
	// run of length k+1.
	tails := make([]int, 0, len(seq))
	prev := make([]int, len(seq))
	for i, v := range seq {
		k := sort.Search(len(tails), func(j int) bool { return seq[tails[j]] >= v })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}

	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		out[i] = k
	}
	return out
}
