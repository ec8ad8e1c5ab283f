package mscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-mscan/internal/can"
)

func TestQueueFIFOAndBounds(t *testing.T) {
	q := queue{buf: make([]entry, 4)}
	q.clear()

	next, want := 0, 0
	// interleave pushes and pops so the cursors wrap several times
	for round := 0; round < 10; round++ {
		for !q.full() {
			q.push(entry{frame: can.NewFrame(uint32(next), false)})
			next++
			require.LessOrEqual(t, q.filled, q.capacity())
		}
		for i := 0; i < 1+round%4 && q.filled > 0; i++ {
			e := q.pop()
			assert.Equal(t, uint32(want), e.frame.ID)
			want++
			require.GreaterOrEqual(t, q.filled, 0)
		}
	}
	for q.filled > 0 {
		assert.Equal(t, uint32(want), q.pop().frame.ID)
		want++
	}
	assert.Equal(t, next, want)
}

func TestQueueClearAndRelease(t *testing.T) {
	q := queue{buf: make([]entry, 2)}
	q.clear()
	q.push(entry{})
	q.errSent = true
	q.clear()
	assert.Zero(t, q.filled)
	assert.False(t, q.errSent)
	assert.True(t, q.ready)
	assert.Equal(t, 2, q.free())

	q.release()
	assert.False(t, q.ready)
	assert.Zero(t, q.capacity())
	assert.True(t, q.full())
}
