// Package duplex provides the raw bidirectional byte stream that backs an
// interactive agent's standard input. The stream must stay open for the
// whole run because control responses are written to it asynchronously,
// potentially minutes after spawn; some platforms' pipe implementations
// deadlock under long-lived half-open writers, so on Linux the stream is
// a pseudo-terminal pair in immediate mode (no line buffering, no echo)
// so protocol bytes pass through unmodified.
package duplex

import (
	"io"
	"os"
)

// ByteStream is a duplex channel paired with a subprocess's standard
// input. The parent writes protocol bytes through the io.Writer side;
// ChildFile is installed as the subprocess's stdin.
type ByteStream interface {
	io.WriteCloser

	// ChildFile returns the file to install as the subprocess's stdin.
	ChildFile() *os.File

	// ReleaseChild closes the parent's handle on the child side. Call it
	// after the subprocess has started so the child holds the only
	// reference.
	ReleaseChild() error
}
