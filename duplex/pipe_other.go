//go:build !linux

package duplex

import (
	"os"
	"sync"
)

// Open on platforms without a devpts interface falls back to a long-lived
// pipe pair with explicit half-close discipline: the parent holds the
// write end open for the whole run and closes it exactly once when the
// run ends. Pipes carry bytes unmodified, so no raw-mode step is needed;
// the PTY's deadlock-avoidance property is traded for portability here.
func Open() (ByteStream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &pipeStream{r: r, w: w}, nil
}

type pipeStream struct {
	r *os.File
	w *os.File

	mu      sync.Mutex
	rClosed bool
}

func (s *pipeStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *pipeStream) ChildFile() *os.File {
	return s.r
}

func (s *pipeStream) ReleaseChild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rClosed {
		return nil
	}
	s.rClosed = true
	return s.r.Close()
}

func (s *pipeStream) Close() error {
	err := s.w.Close()
	if relErr := s.ReleaseChild(); err == nil {
		err = relErr
	}
	return err
}
