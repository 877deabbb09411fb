package storage

import (
	"os"
	"sync"
	"syscall"
)

// snapshotLock serializes writers of one snapshot file. The mutex covers
// goroutines inside this process; the flock covers other processes
// sharing the storage directory.
type snapshotLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newSnapshotLock(path string) *snapshotLock {
	return &snapshotLock{path: path}
}

// Lock blocks until this snapshot file is exclusively held.
func (l *snapshotLock) Lock() error {
	l.mu.Lock()

	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.mu.Unlock()
		return err
	}

	return nil
}

// Unlock releases the snapshot file and removes the lock file.
func (l *snapshotLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)

	l.file.Close()
	os.Remove(l.path + ".lock")

	l.file = nil
	l.mu.Unlock()

	return nil
}
