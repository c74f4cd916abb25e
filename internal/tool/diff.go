package tool

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is the number of unchanged lines kept around each change.
const diffContext = 3

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// fileChange summarizes a file rewrite for ToolOutput details.
type fileChange struct {
	Diff      string
	Additions int
	Deletions int
}

// describeChange compares before and after line by line. The bool is false
// when nothing changed.
func describeChange(name, before, after string) (fileChange, bool) {
	if before == after {
		return fileChange{}, false
	}

	lines := lineDiff(before, after)
	var change fileChange
	for _, l := range lines {
		switch l.op {
		case diffmatchpatch.DiffInsert:
			change.Additions++
		case diffmatchpatch.DiffDelete:
			change.Deletions++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", name, name)
	writeHunks(&b, lines)
	change.Diff = b.String()
	return change, true
}

// record stores the change under the diff, additions and deletions keys.
func (c fileChange) record(details map[string]any) {
	details["diff"] = c.Diff
	details["additions"] = c.Additions
	details["deletions"] = c.Deletions
}

// recordFileChange adds the change between before and after to details,
// naming the file relative to base when possible.
func recordFileChange(details map[string]any, path, base, before, after string) {
	name := path
	if base != "" {
		if rel, err := filepath.Rel(base, path); err == nil {
			name = rel
		}
	}
	if change, ok := describeChange(filepath.ToSlash(name), before, after); ok {
		change.record(details)
	}
}

func lineDiff(before, after string) []diffLine {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var lines []diffLine
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			lines = append(lines, diffLine{op: d.Type, text: strings.TrimSuffix(text, "\n")})
		}
	}
	return lines
}

// writeHunks renders lines as unified hunks, merging changes whose context
// windows overlap.
func writeHunks(b *strings.Builder, lines []diffLine) {
	oldAt := make([]int, len(lines)+1)
	newAt := make([]int, len(lines)+1)
	for i, l := range lines {
		oldAt[i+1], newAt[i+1] = oldAt[i], newAt[i]
		if l.op != diffmatchpatch.DiffInsert {
			oldAt[i+1]++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newAt[i+1]++
		}
	}

	for i := 0; i < len(lines); {
		if lines[i].op == diffmatchpatch.DiffEqual {
			i++
			continue
		}
		start := max(i-diffContext, 0)
		end := i
		for j := i; j < len(lines); j++ {
			if lines[j].op == diffmatchpatch.DiffEqual {
				continue
			}
			if j-end > 2*diffContext {
				break
			}
			end = j
		}
		end = min(end+diffContext, len(lines)-1)

		fmt.Fprintf(b, "@@ -%s +%s @@\n",
			hunkRange(oldAt[start], oldAt[end+1]-oldAt[start]),
			hunkRange(newAt[start], newAt[end+1]-newAt[start]))
		for _, l := range lines[start : end+1] {
			switch l.op {
			case diffmatchpatch.DiffInsert:
				b.WriteByte('+')
			case diffmatchpatch.DiffDelete:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.text)
			b.WriteByte('\n')
		}
		i = end + 1
	}
}

func hunkRange(before, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", before)
	}
	return fmt.Sprintf("%d,%d", before+1, count)
}
