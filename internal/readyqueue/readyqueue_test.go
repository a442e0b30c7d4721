package readyqueue

import (
	"sync"
	"testing"

	"github.com/ChuLiYu/isp-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffer struct{ idx int }

func (b *fakeBuffer) Index() int                               { return b.idx }
func (b *fakeBuffer) NumPlanes() int                           { return 1 }
func (b *fakeBuffer) PlaneAddr(int) uint64                     { return uint64(0x1000 * (b.idx + 1)) }
func (b *fakeBuffer) Done(types.BufferState, types.Completion) {}

func TestTracker_EmptyPeekAndTake(t *testing.T) {
	tr := New()

	assert.Nil(t, tr.Peek())
	assert.Nil(t, tr.TakeFront())
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_FIFOOrder(t *testing.T) {
	tr := New()
	for i := 0; i < 4; i++ {
		tr.Enqueue(&fakeBuffer{idx: i})
	}

	for i := 0; i < 4; i++ {
		require.Equal(t, i, tr.Peek().Index())
		require.Equal(t, i, tr.TakeFront().Index())
	}
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_PeekDoesNotRemove(t *testing.T) {
	tr := New()
	tr.Enqueue(&fakeBuffer{idx: 7})

	first := tr.Peek()
	second := tr.Peek()

	assert.Same(t, first, second)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_Drain(t *testing.T) {
	tr := New()
	tr.Enqueue(&fakeBuffer{idx: 0})
	tr.Enqueue(&fakeBuffer{idx: 1})

	drained := tr.Drain()

	require.Len(t, drained, 2)
	assert.Equal(t, 0, drained[0].Index())
	assert.Equal(t, 1, drained[1].Index())
	assert.Equal(t, 0, tr.Len())

	tr.Enqueue(&fakeBuffer{idx: 2})
	assert.Equal(t, 2, tr.Peek().Index())
}

func TestTracker_ConcurrentEnqueue(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Enqueue(&fakeBuffer{idx: g*100 + i})
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 800, tr.Len())
}
