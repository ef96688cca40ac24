// Package journal records undo steps for a single settlement transaction so a
// failed operation can be rolled back to the exact state it started from.
package journal

// Journal is an ordered list of undo steps. The zero value is ready to use.
// A nil *Journal is valid and records nothing, which lets read paths and
// setup code call the same mutators without paying for rollback.
type Journal struct {
	undo []func()
}

// Append registers fn to run if the transaction is reverted.
func (j *Journal) Append(fn func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// Revert runs every recorded undo step, newest first, and clears the journal.
func (j *Journal) Revert() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:0]
}

// Commit discards the recorded undo steps.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	j.undo = j.undo[:0]
}

// Len returns the number of pending undo steps.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}
