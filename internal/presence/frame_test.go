package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSlot_KeepsLatest(t *testing.T) {
	s := NewFrameSlot()

	_, seq, ok := s.Latest(0)
	assert.False(t, ok)
	assert.Zero(t, seq)

	assert.False(t, s.Put(&Frame{FrameID: 1}))
	assert.True(t, s.Put(&Frame{FrameID: 2}), "unread frame 1 is dropped")

	f, seq, ok := s.Latest(0)
	require.True(t, ok)
	assert.Equal(t, int64(2), f.FrameID)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, uint64(1), s.Replaced())

	_, _, ok = s.Latest(seq)
	assert.False(t, ok, "nothing newer than what was read")

	assert.False(t, s.Put(&Frame{FrameID: 3}), "frame 2 was read before being replaced")
	f, _, ok = s.Latest(seq)
	require.True(t, ok)
	assert.Equal(t, int64(3), f.FrameID)
}

func TestFrameSlot_ConcurrentWriters(t *testing.T) {
	s := NewFrameSlot()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Put(&Frame{FrameID: int64(w*1000 + i)})
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last uint64
		for i := 0; i < 200; i++ {
			if _, seq, ok := s.Latest(last); ok {
				assert.Greater(t, seq, last)
				last = seq
			}
		}
	}()
	wg.Wait()
	<-done

	_, seq, ok := s.Latest(0)
	require.True(t, ok)
	assert.Equal(t, uint64(400), seq)
}
