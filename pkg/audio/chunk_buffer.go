// Package audio provides audio processing utilities.
//
// ChunkBuffer re-chunks a stream of normalized samples into fixed-size chunks
// for detectors that only accept whole chunks (200ms at 16kHz for the segment
// detector).
//
// Main features:
//   - FIFO order: chunks leave the buffer in arrival order
//   - Partial chunks stay queued until enough samples arrive
//   - Storage is reused across chunks, so steady-state writes do not allocate
//
// Usage:
//
//	cb := NewChunkBuffer(3200)
//	cb.Write(samples)
//	for cb.Ready() {
//	    chunk := cb.Next()
//	    ...
//	}
package audio

// ChunkBuffer is a FIFO queue of float32 samples that yields fixed-size chunks.
// It is owned by a single session and is not safe for concurrent use.
type ChunkBuffer struct {
	data      []float32
	head      int // index of the oldest queued sample
	chunkSize int
}

// NewChunkBuffer creates a buffer that yields chunks of chunkSize samples.
// chunkSize must be positive.
func NewChunkBuffer(chunkSize int) *ChunkBuffer {
	if chunkSize <= 0 {
		panic("audio: chunk size must be positive")
	}
	return &ChunkBuffer{
		data:      make([]float32, 0, chunkSize*2),
		chunkSize: chunkSize,
	}
}

// Write appends samples to the tail of the buffer.
func (cb *ChunkBuffer) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}

	// Reclaim the consumed prefix before growing.
	if cb.head > 0 && len(cb.data)+len(samples) > cap(cb.data) {
		n := copy(cb.data, cb.data[cb.head:])
		cb.data = cb.data[:n]
		cb.head = 0
	}

	cb.data = append(cb.data, samples...)
}

// Ready reports whether at least one full chunk is queued.
func (cb *ChunkBuffer) Ready() bool {
	return cb.Len() >= cb.chunkSize
}

// Next removes exactly one chunk from the front of the buffer and returns a
// copy of it. It returns nil when fewer than ChunkSize samples are queued.
func (cb *ChunkBuffer) Next() []float32 {
	if !cb.Ready() {
		return nil
	}

	chunk := make([]float32, cb.chunkSize)
	copy(chunk, cb.data[cb.head:cb.head+cb.chunkSize])
	cb.head += cb.chunkSize

	if cb.head == len(cb.data) {
		cb.data = cb.data[:0]
		cb.head = 0
	}

	return chunk
}

// Len returns the number of queued samples.
func (cb *ChunkBuffer) Len() int {
	return len(cb.data) - cb.head
}

// ChunkSize returns the chunk size in samples.
func (cb *ChunkBuffer) ChunkSize() int {
	return cb.chunkSize
}

// Clear drops all queued samples.
func (cb *ChunkBuffer) Clear() {
	cb.data = cb.data[:0]
	cb.head = 0
}
