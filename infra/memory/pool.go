package memory

import "sync"

// Pool is a typed sync.Pool. Values are reset before they go back in, so Get
// always hands out a clean value.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// Buffer is a reusable byte slice.
type Buffer struct {
	B []byte
}

// maxPooledBuffer keeps one oversized payload from pinning memory forever.
const maxPooledBuffer = 64 << 10

// NewBufferPool returns a pool of buffers with at least size bytes of capacity.
func NewBufferPool(size int) *Pool[Buffer] {
	return NewPool(
		func() *Buffer { return &Buffer{B: make([]byte, 0, size)} },
		func(b *Buffer) {
			if cap(b.B) > maxPooledBuffer {
				b.B = make([]byte, 0, size)
				return
			}
			b.B = b.B[:0]
		},
	)
}
