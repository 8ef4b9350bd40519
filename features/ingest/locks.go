package ingest

import "sync"

// fileLocks serializes work on the same file id. Entries are dropped once
// no goroutine holds or waits for them.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*fileLock)}
}

func (l *fileLocks) Lock(fileID string) func() {
	l.mu.Lock()
	fl, ok := l.locks[fileID]
	if !ok {
		fl = &fileLock{}
		l.locks[fileID] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		l.mu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(l.locks, fileID)
		}
		l.mu.Unlock()
	}
}

func (l *fileLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
