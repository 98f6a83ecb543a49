package serial

import (
	"bytes"
	"strings"
)

// LineBuffer reassembles newline-delimited messages from arbitrary read chunks.
// Bytes after the last newline stay buffered until a later Write completes them.
type LineBuffer struct {
	buf []byte
}

// Write appends a chunk.
func (b *LineBuffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// Lines removes and returns every complete line, whitespace-trimmed,
// skipping lines that are empty after trimming.
func (b *LineBuffer) Lines() []string {
	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(b.buf[:i]))
		b.buf = b.buf[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	// Reclaim the consumed prefix once the buffer is drained.
	if len(b.buf) == 0 {
		b.buf = b.buf[:0:0]
	}
	return lines
}

// Len returns the number of buffered bytes not yet terminated by a newline.
func (b *LineBuffer) Len() int {
	return len(b.buf)
}
