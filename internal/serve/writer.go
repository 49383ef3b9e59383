package serve

import (
	"bytes"
	"io"
	"sync"
)

// Writes complete lines to a shared writer, each prefixed with a label.
//
// Writers sharing a mutex never interleave within a line. Partial lines are
// held until their newline arrives or [prefixWriter.Flush] is called.
type prefixWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix []byte
	buf    []byte
}

// Creates a writer prefixing lines with "[name] ".
func newPrefixWriter(w io.Writer, mu *sync.Mutex, name string) *prefixWriter {
	return &prefixWriter{mu: mu, w: w, prefix: []byte("[" + name + "] ")}
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if err := p.writeLine(p.buf[:i+1]); err != nil {
			return 0, err
		}
		p.buf = p.buf[i+1:]
	}
	return len(b), nil
}

// Writes out a pending partial line.
func (p *prefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return nil
	}
	line := append(p.buf, '\n')
	p.buf = nil
	return p.writeLine(line)
}

func (p *prefixWriter) writeLine(line []byte) error {
	if _, err := p.w.Write(p.prefix); err != nil {
		return err
	}
	_, err := p.w.Write(line)
	return err
}
