package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64*1024)
		return &b
	},
}

func getFrameBuffer(size int) *[]byte {
	buf := framePool.Get().(*[]byte)
	if cap(*buf) < size {
		b := make([]byte, size)
		buf = &b
	}
	*buf = (*buf)[:size]
	return buf
}

func putFrameBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	framePool.Put(buf)
}

// Frame is one JPEG image from the camera stream. Frames are reference
// counted so that the latest-frame slot and any watchers can share the
// decode buffer; when the last reference is released the buffer goes back
// into the pool.
type Frame struct {
	Time time.Time
	buf  *[]byte
	size int
	refs int32
}

func newFrame(buf *[]byte, size int) *Frame {
	return &Frame{
		Time: time.Now(),
		buf:  buf,
		size: size,
		refs: 1,
	}
}

// JPEG returns the image bytes. Only valid until Release.
func (f *Frame) JPEG() []byte {
	return (*f.buf)[:f.size]
}

func (f *Frame) Retain() {
	atomic.AddInt32(&f.refs, 1)
}

func (f *Frame) Release() {
	if atomic.AddInt32(&f.refs, -1) == 0 {
		putFrameBuffer(f.buf)
	}
}
