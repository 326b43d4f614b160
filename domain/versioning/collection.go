package versioning

import "reflect"

// slot holds one element of a collection under reconstruction. Removed
// elements stay in place as tombstones until compact.
type slot struct {
	value     reflect.Value
	tombstone bool
}

type workingList struct {
	slots []slot
}

func newWorkingList(items reflect.Value) *workingList {
	w := &workingList{slots: make([]slot, 0, items.Len())}
	for i := 0; i < items.Len(); i++ {
		w.slots = append(w.slots, slot{value: items.Index(i)})
	}
	return w
}

// remove tombstones the element at raw position pos.
func (w *workingList) remove(pos int) {
	w.slots[pos].tombstone = true
}

func (w *workingList) removed(pos int) bool {
	return w.slots[pos].tombstone
}

// live counts the elements that are not tombstoned.
func (w *workingList) live() int {
	n := 0
	for _, s := range w.slots {
		if !s.tombstone {
			n++
		}
	}
	return n
}

// insert places v so that it becomes the live element at position pos.
// Positions at or past the live count append.
func (w *workingList) insert(pos int, v reflect.Value) {
	seen := 0
	for i, s := range w.slots {
		if s.tombstone {
			continue
		}
		if seen == pos {
			w.slots = append(w.slots, slot{})
			copy(w.slots[i+1:], w.slots[i:])
			w.slots[i] = slot{value: v}
			return
		}
		seen++
	}
	w.slots = append(w.slots, slot{value: v})
}

func (w *workingList) append(v reflect.Value) {
	w.slots = append(w.slots, slot{value: v})
}

// compact drops tombstones and returns a fresh slice of type sliceType.
func (w *workingList) compact(sliceType reflect.Type) reflect.Value {
	out := reflect.MakeSlice(sliceType, 0, w.live())
	for _, s := range w.slots {
		if !s.tombstone {
			out = reflect.Append(out, s.value)
		}
	}
	return out
}
