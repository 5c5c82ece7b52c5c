// Package vt100 wraps github.com/vito/midterm to maintain the virtual
// screen a Session feeds PTY bytes into, and to render that screen back
// into a self-contained ANSI byte sequence for the Welcome/Snapshot
// handshake (spec component F).
package vt100

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/vito/midterm"
)

// Screen owns a midterm.Terminal and tracks alternate-screen mode across
// chunk boundaries. All methods are safe for concurrent use; callers
// feeding PTY bytes and callers snapshotting both take the same lock, so
// a snapshot taken mid-write always reflects a consistent parser state.
type Screen struct {
	mu   sync.Mutex
	term *midterm.Terminal

	rows, cols int
	altActive  bool
	altTail    []byte // lookbehind tail for sequences split across reads
}

// New allocates a virtual screen of the given size.
func New(rows, cols int) *Screen {
	return &Screen{
		term: midterm.NewTerminal(rows, cols),
		rows: rows,
		cols: cols,
	}
}

// Write feeds raw PTY output bytes into the virtual screen, updating alt-
// screen tracking as it goes. It never returns an error: midterm treats
// malformed escape sequences as best-effort no-ops, matching terminal
// emulator behavior generally.
func (s *Screen) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Write(p)
	s.altActive, s.altTail = scanAltScreen(s.altActive, s.altTail, p)
}

// Resize changes the virtual screen's dimensions.
func (s *Screen) Resize(rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows, s.cols = rows, cols
	s.term.Resize(rows, cols)
}

// Size returns the current (rows, cols).
func (s *Screen) Size() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// AltScreenActive reports whether the terminal is currently in the
// alternate-screen mode entered by CSI ?1049h (and siblings 1047, 47).
func (s *Screen) AltScreenActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.altActive
}

// Snapshot renders the current visible screen as a self-contained ANSI
// byte sequence: clearing the screen, redrawing every row's content and
// formatting, and repositioning the cursor. Rendering this into a blank
// terminal of the same (rows, cols) reproduces the visible screen.
func (s *Screen) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SnapshotAndSize is Snapshot plus the (rows, cols) at capture time, taken
// under one lock acquisition so the two never disagree.
func (s *Screen) SnapshotAndSize() ([]byte, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.rows, s.cols
}

func (s *Screen) snapshotLocked() []byte {
	var buf bytes.Buffer
	buf.WriteString("\x1b[2J\x1b[H")
	for row := 0; row < s.rows; row++ {
		fmt.Fprintf(&buf, "\x1b[%d;1H\x1b[2K", row+1)
		renderRow(&buf, s.term, row)
	}
	cur := s.term.Cursor
	fmt.Fprintf(&buf, "\x1b[%d;%dH", cur.Y+1, cur.X+1)
	return buf.Bytes()
}

// renderRow writes one row of t's content, re-serialized with its format
// regions, to buf. Grounded on the per-row ANSI re-serialization used by
// terminal-rendering clients in the retrieval pack (iterating
// Format.Regions and re-emitting each region's escape sequence followed
// by its content, padding short lines with spaces).
func renderRow(buf *bytes.Buffer, t *midterm.Terminal, row int) {
	if row >= len(t.Content) {
		return
	}
	line := t.Content[row]
	var pos int
	var lastFormat midterm.Format
	first := true
	for region := range t.Format.Regions(row) {
		f := region.F
		if first || f != lastFormat {
			buf.WriteString("\x1b[0m")
			buf.WriteString(f.Render())
			lastFormat = f
			first = false
		}
		end := pos + region.Size
		if pos < len(line) {
			contentEnd := end
			if contentEnd > len(line) {
				contentEnd = len(line)
			}
			buf.WriteString(string(line[pos:contentEnd]))
		}
		padStart := len(line)
		if padStart < pos {
			padStart = pos
		}
		if padStart < end {
			buf.Write(bytes.Repeat([]byte(" "), end-padStart))
		}
		pos = end
	}
	buf.WriteString("\x1b[0m")
}
