// Package optimize holds allocation helpers for hot paths.
package optimize

import (
	"sync"
)

// BytePool hands out fixed-size byte slices. The delivery engine takes one
// per stream as its chunk read buffer.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size is the length of every slice returned by Get.
func (p *BytePool) Size() int {
	return p.size
}

// Get returns a slice of exactly Size bytes. Its contents are unspecified.
func (p *BytePool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put returns b to the pool. Slices smaller than Size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
