// Package textedit is the line model shared by the merge transforms. A file is
// read into an ordered slice of lines, edited as a slice, and written back.
// Transforms never share backing arrays with their inputs.
package textedit

import (
	"fmt"
	"os"
	"strings"
)

// Lines is an ordered sequence of text lines without line terminators.
type Lines []string

// Split breaks text into lines. A single trailing newline does not produce an
// empty final line, and CRLF terminators are normalized to LF.
func Split(text string) Lines {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text == "" {
		return Lines{}
	}
	text = strings.TrimSuffix(text, "\n")
	return Lines(strings.Split(text, "\n"))
}

// String joins the lines with LF and terminates the last line.
func (l Lines) String() string {
	if len(l) == 0 {
		return ""
	}
	return strings.Join(l, "\n") + "\n"
}

// Clone returns a copy that does not alias l.
func (l Lines) Clone() Lines {
	out := make(Lines, len(l))
	copy(out, l)
	return out
}

// Index returns the index of the first line containing substr at or after
// from, or -1.
func (l Lines) Index(substr string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(l); i++ {
		if strings.Contains(l[i], substr) {
			return i
		}
	}
	return -1
}

// LastIndex returns the index of the last line containing substr, or -1.
func (l Lines) LastIndex(substr string) int {
	for i := len(l) - 1; i >= 0; i-- {
		if strings.Contains(l[i], substr) {
			return i
		}
	}
	return -1
}

// IndexExact returns the index of the first line equal to line, or -1.
func (l Lines) IndexExact(line string) int {
	for i, s := range l {
		if s == line {
			return i
		}
	}
	return -1
}

// Insert returns a copy of l with ins placed before index at. An index equal
// to len(l) appends.
func (l Lines) Insert(at int, ins ...string) Lines {
	if at < 0 || at > len(l) {
		panic(fmt.Sprintf("textedit: insert index %d out of range [0,%d]", at, len(l)))
	}
	out := make(Lines, 0, len(l)+len(ins))
	out = append(out, l[:at]...)
	out = append(out, ins...)
	out = append(out, l[at:]...)
	return out
}

// RemoveContaining drops every line containing substr and reports how many
// were removed.
func (l Lines) RemoveContaining(substr string) (Lines, int) {
	out := make(Lines, 0, len(l))
	removed := 0
	for _, s := range l {
		if strings.Contains(s, substr) {
			removed++
			continue
		}
		out = append(out, s)
	}
	return out, removed
}

// ReplaceContaining replaces every line containing substr with replacement.
func (l Lines) ReplaceContaining(substr, replacement string) (Lines, int) {
	out := l.Clone()
	n := 0
	for i, s := range out {
		if strings.Contains(s, substr) {
			out[i] = replacement
			n++
		}
	}
	return out, n
}

// InsertAfterFirst inserts ins directly below the first line containing
// substr. It returns false when no line matches.
func (l Lines) InsertAfterFirst(substr string, ins ...string) (Lines, bool) {
	idx := l.Index(substr, 0)
	if idx < 0 {
		return l.Clone(), false
	}
	return l.Insert(idx+1, ins...), true
}

// ReadFile reads path into Lines.
func ReadFile(path string) (Lines, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Split(string(data)), nil
}

// WriteFile writes l to path, preserving the mode of an existing file.
func WriteFile(path string, l Lines) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(l.String()), mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// EditFile applies fn to the lines of path and writes the result back.
func EditFile(path string, fn func(Lines) (Lines, error)) error {
	l, err := ReadFile(path)
	if err != nil {
		return err
	}
	out, err := fn(l)
	if err != nil {
		return err
	}
	return WriteFile(path, out)
}
