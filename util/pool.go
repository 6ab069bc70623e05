package util

import "sync"

// DefaultBufSize bounds one job read: a full credit window of eight
// 512-byte fragments.
const DefaultBufSize = 8 * 512

// BufPool provides reusable job-chunk buffers so a long print job does
// not allocate a fresh window for every credit grant.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.  Buffers whose
// capacity does not match [DefaultBufSize] are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) != DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	BufPool.Put(buf)
}
