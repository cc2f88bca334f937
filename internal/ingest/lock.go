package ingest

import "sync/atomic"

// importLock is a non-blocking mutex; a second import fails fast instead of queueing
type importLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

func (l *importLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called by the holder
func (l *importLock) Release() {
	l.state.Store(0)
}
