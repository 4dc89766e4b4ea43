package crdt

import "sort"

// element is one sequence slot. Ordering is by fractional position with the
// element id as tiebreak, so concurrent inserts at the same spot converge.
type element struct {
	ID      string `cbor:"i"`
	Pos     string `cbor:"p"`
	Val     []byte `cbor:"v"`
	Clock   Clock  `cbor:"c"`
	Deleted bool   `cbor:"d,omitempty"`
}

// Element is the read view of a live sequence slot.
type Element struct {
	ID  string
	Val []byte
}

// Sequence is an ordered list of identified elements. Removed elements stay
// as tombstones so a remote edit to a removed element cannot resurrect it
// out of order.
type Sequence struct {
	doc   *Doc
	name  string
	elems []*element
}

// live returns the visible elements in order.
func (s *Sequence) live() []*element {
	out := make([]*element, 0, len(s.elems))
	for _, e := range s.elems {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of visible elements.
func (s *Sequence) Len() int {
	return len(s.live())
}

// Slice returns the visible elements in order.
func (s *Sequence) Slice() []Element {
	live := s.live()
	out := make([]Element, len(live))
	for i, e := range live {
		out[i] = Element{ID: e.ID, Val: e.Val}
	}
	return out
}

// Get returns the value of the element with the given id.
func (s *Sequence) Get(id string) ([]byte, bool) {
	for _, e := range s.elems {
		if e.ID == id && !e.Deleted {
			return e.Val, true
		}
	}
	return nil, false
}

// Insert places a new element with the given id at index within the visible
// order. index may equal Len to append.
func (s *Sequence) Insert(tx *Txn, index int, id string, val []byte) {
	live := s.live()
	if index < 0 {
		index = 0
	}
	if index > len(live) {
		index = len(live)
	}
	var before, after string
	if index > 0 {
		before = live[index-1].Pos
	}
	if index < len(live) {
		after = live[index].Pos
	}
	c := tx.tick()
	e := &element{ID: id, Pos: posBetween(before, after), Val: val, Clock: c}
	s.elems = append(s.elems, e)
	s.sortElems()
	tx.record(op{Kind: opSeqInsert, Struct: s.name, Key: id, Pos: e.Pos, Val: val, Clock: c})
}

// Append places a new element at the end of the sequence.
func (s *Sequence) Append(tx *Txn, id string, val []byte) {
	s.Insert(tx, s.Len(), id, val)
}

// Set replaces the value of an existing element in place.
func (s *Sequence) Set(tx *Txn, id string, val []byte) bool {
	for _, e := range s.elems {
		if e.ID == id && !e.Deleted {
			c := tx.tick()
			e.Val = val
			e.Clock = c
			tx.record(op{Kind: opSeqSet, Struct: s.name, Key: id, Pos: e.Pos, Val: val, Clock: c})
			return true
		}
	}
	return false
}

// Delete tombstones the element with the given id.
func (s *Sequence) Delete(tx *Txn, id string) bool {
	for _, e := range s.elems {
		if e.ID == id && !e.Deleted {
			c := tx.tick()
			e.Deleted = true
			e.Val = nil
			e.Clock = c
			tx.record(op{Kind: opSeqDelete, Struct: s.name, Key: id, Clock: c})
			return true
		}
	}
	return false
}

// Clear tombstones every visible element.
func (s *Sequence) Clear(tx *Txn) {
	for _, e := range s.live() {
		s.Delete(tx, e.ID)
	}
}

func (s *Sequence) sortElems() {
	sort.SliceStable(s.elems, func(i, j int) bool {
		if s.elems[i].Pos != s.elems[j].Pos {
			return s.elems[i].Pos < s.elems[j].Pos
		}
		return s.elems[i].ID < s.elems[j].ID
	})
}

func (s *Sequence) find(id string) *element {
	for _, e := range s.elems {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// merge applies a remote element state, keeping the newer clock per element.
func (s *Sequence) merge(e element) {
	cur := s.find(e.ID)
	if cur == nil {
		cp := e
		s.elems = append(s.elems, &cp)
		s.sortElems()
	} else if !e.Clock.Less(cur.Clock) {
		pos := cur.Pos
		*cur = e
		if e.Pos == "" {
			// set/delete ops carry no position; keep the slot stable
			cur.Pos = pos
		}
		s.sortElems()
	}
	s.doc.observeClock(e.Clock)
}

// posBetween returns a string strictly between a and b in lexicographic
// order. Empty strings act as the open ends of the range. The result only
// grows when the gap is exhausted, keeping positions short in practice.
// Digits stay within the ASCII range so positions survive text-string
// encodings, which reject arbitrary bytes.
func posBetween(a, b string) string {
	const lo, hi = byte(0x01), byte(0x7F)
	var out []byte
	for i := 0; ; i++ {
		av, bv := lo, hi
		if i < len(a) {
			av = a[i]
		}
		if b != "" && i < len(b) {
			bv = b[i]
		}
		if av == bv {
			out = append(out, av)
			continue
		}
		if bv-av > 1 {
			return string(append(out, av+(bv-av)/2))
		}
		// adjacent digits: fix the lower digit and bisect the tail of a
		// against the open upper end
		out = append(out, av)
		b = ""
	}
}
