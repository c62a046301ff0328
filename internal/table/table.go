// Package table renders rows of text as an ASCII table. Cells may contain
// ANSI color sequences; they do not count towards the column widths.
package table

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Alignment positions text within a cell.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

var ansi = regexp.MustCompile("\x1b\\[[0-9;]*m")

func stripAnsi(s string) string {
	return ansi.ReplaceAllString(s, "")
}

func width(s string) int {
	return utf8.RuneCountInString(stripAnsi(s))
}

// Table accumulates rows and writes them on Render.
type Table struct {
	w           io.Writer
	header      []string
	rows        [][]string
	columnAlign []Alignment
	headerAlign []Alignment
}

// NewTable returns an empty table writing to w.
func NewTable(w io.Writer) *Table {
	return &Table{w: w}
}

// WithHeader sets the header row.
func (t *Table) WithHeader(header []string) *Table {
	t.header = header
	return t
}

// WithColumnAlignment sets the alignment of the body cells per column.
func (t *Table) WithColumnAlignment(align []Alignment) *Table {
	t.columnAlign = align
	return t
}

// WithHeaderAlignment sets the alignment of the header cells per column.
func (t *Table) WithHeaderAlignment(align []Alignment) *Table {
	t.headerAlign = align
	return t
}

// Append adds a row.
func (t *Table) Append(row []string) *Table {
	t.rows = append(t.rows, row)
	return t
}

// Render writes the table.
func (t *Table) Render() {
	columns := len(t.header)
	for _, row := range t.rows {
		columns = max(columns, len(row))
	}
	widths := make([]int, columns)
	for i, h := range t.header {
		widths[i] = width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], width(cell))
		}
	}

	var sep strings.Builder
	sep.WriteByte('+')
	for _, n := range widths {
		sep.WriteString(strings.Repeat("-", n+2))
		sep.WriteByte('+')
	}
	line := sep.String()

	fmt.Fprintln(t.w, line)
	if len(t.header) > 0 {
		fmt.Fprintln(t.w, t.format(t.header, widths, t.headerAlign))
		fmt.Fprintln(t.w, line)
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.w, t.format(row, widths, t.columnAlign))
	}
	fmt.Fprintln(t.w, line)
}

func (t *Table) format(row []string, widths []int, align []Alignment) string {
	var b strings.Builder
	b.WriteByte('|')
	for i, n := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		a := AlignLeft
		if i < len(align) {
			a = align[i]
		}
		b.WriteByte(' ')
		b.WriteString(pad(cell, n, a))
		b.WriteString(" |")
	}
	return b.String()
}

func pad(s string, n int, a Alignment) string {
	gap := n - width(s)
	if gap <= 0 {
		return s
	}
	switch a {
	case AlignRight:
		return strings.Repeat(" ", gap) + s
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	}
	return s + strings.Repeat(" ", gap)
}
