package action

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Session log rotation limits.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 30
)

// sessionLog is the per-attempt file that receives everything the host
// sends.  The file is opened on first write so an action that never
// connects leaves nothing behind.  Writes after Close are dropped.
type sessionLog struct {
	path string

	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func newSessionLog(dir, name string) *sessionLog {
	return &sessionLog{path: filepath.Join(dir, name)}
}

func (s *sessionLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}
	if s.w == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return 0, err
		}
		s.w = &lumberjack.Logger{
			Filename:   s.path,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
	}
	return s.w.Write(p)
}

func (s *sessionLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
