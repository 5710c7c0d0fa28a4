package optimize

import (
	"sync"
)

// MTU is the buffer size used for RTP/RTCP reads.
const MTU = 1500

// BytePool is a pool of fixed-size byte slices to reduce allocations
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size is the length of every slice returned by Get.
func (p *BytePool) Size() int { return p.size }

// Get gets a byte slice from the pool
func (p *BytePool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a byte slice to the pool. Slices smaller than the pool size
// are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// With runs fn with a pooled buffer and returns it afterwards. fn must not
// retain the slice.
func (p *BytePool) With(fn func(buf []byte)) {
	buf := p.Get()
	defer p.Put(buf)
	fn(buf)
}
