// Package transcript merges partial and final speech-to-text updates
// into a single growing transcript.
//
// A Buffer is a list of committed lines plus at most one open trailing
// line holding the latest partial guess. Reconcile is a pure function:
// it never mutates its input and never consults external state, so the
// merge policy is a single auditable place.
package transcript

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// Buffer is an ordered list of transcript lines. The zero value is an
// empty transcript. Buffers are immutable; Reconcile returns a new one.
type Buffer struct {
	lines []string
	open  bool // last line is an uncommitted partial
}

// Reconcile produces the next buffer for an incoming update.
//
// A final update commits its text: it supersedes the open trailing line
// if there is one, otherwise it is appended as a new committed line.
//
// A partial update supersedes the open trailing line as long as that
// line does not already look sentence-final; otherwise it starts a new
// open line. A previous partial that ended with sentence-terminal
// punctuation is thereby committed.
//
// Empty text is recorded like any other update; suppression is the
// caller's policy.
func Reconcile(b Buffer, text string, isFinal bool) Buffer {
	lines := slices.Clone(b.lines)

	if isFinal {
		if b.open && len(lines) > 0 {
			lines[len(lines)-1] = text
		} else {
			lines = append(lines, text)
		}
		return Buffer{lines: lines}
	}

	if b.open && len(lines) > 0 && !sentenceFinal(lines[len(lines)-1]) {
		lines[len(lines)-1] = text
	} else {
		lines = append(lines, text)
	}
	return Buffer{lines: lines, open: true}
}

// Lines returns a copy of all lines, including an open trailing line.
func (b Buffer) Lines() []string {
	return slices.Clone(b.lines)
}

// Len returns the number of lines.
func (b Buffer) Len() int {
	return len(b.lines)
}

// HasOpenLine reports whether the last line is an uncommitted partial.
func (b Buffer) HasOpenLine() bool {
	return b.open
}

// Text returns all lines joined with a single space.
func (b Buffer) Text() string {
	return strings.Join(b.lines, " ")
}

func (b Buffer) String() string {
	return b.Text()
}

// sentenceFinal reports whether a line ends in sentence-terminal
// punctuation. This is a heuristic: abbreviations and mid-sentence
// pauses can misclassify, which matches the recognizer's behavior.
func sentenceFinal(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == '.' || r == '!' || r == '?'
}
