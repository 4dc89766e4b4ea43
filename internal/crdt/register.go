package crdt

// Register is a single last-writer-wins cell, used for wholesale-replaced
// values such as a document's title fragment.
type Register struct {
	doc  *Doc
	name string
	val  *entry
}

// Get returns the current value, or nil if the register was never written.
func (r *Register) Get() []byte {
	if r.val == nil || r.val.Deleted {
		return nil
	}
	return r.val.Val
}

// Set replaces the register value within the transaction.
func (r *Register) Set(tx *Txn, val []byte) {
	c := tx.tick()
	r.val = &entry{Val: val, Clock: c}
	tx.record(op{Kind: opRegSet, Struct: r.name, Val: val, Clock: c})
}

// merge applies a remote write, keeping the newer clock.
func (r *Register) merge(e entry) {
	if r.val == nil || !e.Clock.Less(r.val.Clock) {
		cp := e
		r.val = &cp
	}
	r.doc.observeClock(e.Clock)
}
