package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRevert_RunsNewestFirst(t *testing.T) {
	var j Journal
	var order []int
	j.Append(func() { order = append(order, 1) })
	j.Append(func() { order = append(order, 2) })
	j.Append(func() { order = append(order, 3) })

	j.Revert()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Zero(t, j.Len())
}

func TestCommit_DropsUndoSteps(t *testing.T) {
	var j Journal
	x := 1
	prev := x
	x = 2
	j.Append(func() { x = prev })

	j.Commit()
	j.Revert()

	assert.Equal(t, 2, x)
}

func TestNilJournal_IsNoop(t *testing.T) {
	var j *Journal
	j.Append(func() { t.Fatal("nil journal must not record") })
	j.Revert()
	j.Commit()
	assert.Zero(t, j.Len())
}
