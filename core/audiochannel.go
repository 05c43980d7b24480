package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slidekick/slidekick-core/core/audio"
)

var errAudioChannelClosed = errors.New("audio channel closed")

// defaultMaxBufferedAudio caps how much audio sits between the transport and
// the forwarding loop when no explicit limit is configured.
const defaultMaxBufferedAudio = 5 * time.Second

// audioChunk is one captured PCM frame. Seq is assigned on push and strictly
// increases, so a consumer can detect a gap left by a drop.
type audioChunk struct {
	Seq  uint64
	Data []byte
}

// boundedAudioChannel buffers inbound audio between the transport loop and
// the upstream forwarding loop. Push never blocks: when the channel is full
// the oldest chunk is discarded, because a live voice session has no use for
// stale audio. Drops leave a sequence gap, never a reorder.
type boundedAudioChannel struct {
	mu sync.Mutex

	chunks   []audioChunk
	capacity int
	nextSeq  uint64
	closed   bool

	dropped atomic.Uint64

	updateSignal chan struct{}
}

// newBoundedAudioChannel sizes the channel to hold maxBuffered worth of
// audio at the default chunk duration.
func newBoundedAudioChannel(maxBuffered time.Duration) *boundedAudioChannel {
	capacity := int(maxBuffered / audio.DefaultChunkDuration)
	if capacity <= 0 {
		capacity = int(defaultMaxBufferedAudio / audio.DefaultChunkDuration)
	}
	return &boundedAudioChannel{
		capacity:     capacity,
		updateSignal: make(chan struct{}, 1),
	}
}

// Push enqueues a chunk, discarding the oldest buffered chunk if the channel
// is at capacity. It never blocks and never fails on overflow; pushes after
// Close are silently ignored.
func (c *boundedAudioChannel) Push(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if len(c.chunks) >= c.capacity {
		c.chunks = c.chunks[1:]
		c.dropped.Add(1)
	}
	c.nextSeq++
	c.chunks = append(c.chunks, audioChunk{Seq: c.nextSeq, Data: data})
	c.mu.Unlock()

	c.signalUpdate()
}

// Pop dequeues the oldest buffered chunk without blocking.
func (c *boundedAudioChannel) Pop() (audioChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.chunks) == 0 {
		return audioChunk{}, false
	}

	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	return chunk, true
}

// WaitPop blocks until a chunk is available, the channel is closed, or ctx
// expires.
func (c *boundedAudioChannel) WaitPop(ctx context.Context) (audioChunk, error) {
	for {
		c.mu.Lock()
		if len(c.chunks) > 0 {
			chunk := c.chunks[0]
			c.chunks = c.chunks[1:]
			c.mu.Unlock()
			return chunk, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return audioChunk{}, errAudioChannelClosed
		}

		select {
		case <-c.updateSignal:
		case <-ctx.Done():
			return audioChunk{}, ctx.Err()
		}
	}
}

// Dropped reports how many chunks were discarded to make room for newer
// audio.
func (c *boundedAudioChannel) Dropped() uint64 {
	return c.dropped.Load()
}

// Len reports the number of currently buffered chunks.
func (c *boundedAudioChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.chunks)
}

func (c *boundedAudioChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.signalUpdate()
}

func (c *boundedAudioChannel) signalUpdate() {
	select {
	case c.updateSignal <- struct{}{}:
	default:
	}
}
