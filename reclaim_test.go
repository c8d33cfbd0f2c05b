package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReclaimerDrainOrder(t *testing.T) {
	r := newReclaimer()
	assert.Zero(t, r.drain(func(uint32) { t.Fatal("empty buffer released a slot") }))

	for _, s := range []uint32{3, 1, 2} {
		r.hold(s)
	}
	assert.Equal(t, 3, r.pending())

	var got []uint32
	assert.Equal(t, 3, r.drain(func(s uint32) { got = append(got, s) }))
	assert.Equal(t, []uint32{3, 1, 2}, got)
	assert.Zero(t, r.pending())
}

func TestReclaimerGrowsPastInitialCapacity(t *testing.T) {
	r := newReclaimer()
	for i := uint32(0); i < 100; i++ {
		r.hold(i)
	}
	var sum uint32
	assert.Equal(t, 100, r.drain(func(s uint32) { sum += s }))
	assert.EqualValues(t, 4950, sum)
}
