//go:build linux

package duplex

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Open allocates a PTY pair via the devpts interface with the master in
// raw/no-echo mode. The slave is the child's stdin; the master is the
// parent's write side.
func Open() (ByteStream, error) {
	master, slavePath, err := openPTY()
	if err != nil {
		return nil, err
	}
	if err := makeRaw(int(master.Fd())); err != nil {
		master.Close()
		return nil, fmt.Errorf("set PTY raw mode: %w", err)
	}
	slave, err := os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("open PTY slave %s: %w", slavePath, err)
	}
	return &ptyStream{master: master, slave: slave}, nil
}

type ptyStream struct {
	master *os.File
	slave  *os.File

	mu          sync.Mutex
	slaveClosed bool
}

func (s *ptyStream) Write(p []byte) (int, error) {
	return s.master.Write(p)
}

func (s *ptyStream) ChildFile() *os.File {
	return s.slave
}

func (s *ptyStream) ReleaseChild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slaveClosed {
		return nil
	}
	s.slaveClosed = true
	return s.slave.Close()
}

func (s *ptyStream) Close() error {
	err := s.master.Close()
	if relErr := s.ReleaseChild(); err == nil {
		err = relErr
	}
	return err
}

// openPTY allocates a PTY master/slave pair using the Linux devpts
// interface. Returns the master as an *os.File and the filesystem path to
// the slave.
func openPTY() (master *os.File, slavePath string, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}

	fd := int(master.Fd())

	ptyNumber, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, "", fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, "", fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
	}

	slavePath = fmt.Sprintf("/dev/pts/%d", ptyNumber)
	return master, slavePath, nil
}

// makeRaw puts the terminal into immediate mode: no line buffering, no
// echo, no signal generation, no output post-processing.
func makeRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
