package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// TextDiff produces a line-level diff between two versions of a file.
func TextDiff(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, diff := range diffs {
		chunkLines := strings.Split(diff.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, line := range chunkLines {
			switch diff.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: line, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: line, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

const maxRenderLines = 400

// Render formats a diff the way it is shown back to the model after an edit:
// unified-style +/- prefixes, changed regions plus two lines of surrounding
// context, truncated past maxRenderLines.
func Render(lines []Line) string {
	var out strings.Builder
	shown := 0
	for i, line := range lines {
		if line.Type == LineContext && !nearChange(lines, i) {
			continue
		}
		switch line.Type {
		case LineAdded:
			out.WriteString("+ ")
		case LineRemoved:
			out.WriteString("- ")
		default:
			out.WriteString("  ")
		}
		out.WriteString(line.Text)
		out.WriteByte('\n')
		shown++
		if shown >= maxRenderLines {
			out.WriteString("... (diff truncated)\n")
			break
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func nearChange(lines []Line, i int) bool {
	const window = 2
	lo := i - window
	if lo < 0 {
		lo = 0
	}
	hi := i + window
	if hi >= len(lines) {
		hi = len(lines) - 1
	}
	for j := lo; j <= hi; j++ {
		if lines[j].Type != LineContext {
			return true
		}
	}
	return false
}
