package storage

import (
	"os"
	"sync"
)

// FileLock serializes writers of one session across goroutines and,
// where the platform supports it, across processes.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock backed by path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the lock, creating the lock file if needed.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := lockFile(file); err != nil {
		file.Close()
		l.mu.Unlock()
		return err
	}

	l.file = file
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := unlockFile(l.file)
	l.file.Close()
	l.file = nil
	l.mu.Unlock()
	return err
}

type lockSet struct {
	mu    sync.Mutex
	locks map[string]*FileLock
}

func (s *lockSet) get(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks == nil {
		s.locks = make(map[string]*FileLock)
	}
	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
