// Package transcript reads teammate transcripts and polls them for output
// the hook events did not deliver.
package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// maxLineSize bounds a single transcript line. Tool results can be large.
const maxLineSize = 16 * 1024 * 1024

// Entry is one parsed transcript line.
type Entry struct {
	Type       string
	Role       string
	Text       string
	StopReason string
}

// Transcript is the parsed content of a transcript file.
type Transcript struct {
	Entries []Entry
	// FinalText is the text of the last assistant message that had any.
	FinalText string
	// Finished reports that the last assistant message ended its turn.
	Finished bool
}

// Read parses a JSONL transcript. Malformed lines are skipped; a missing
// or unreadable file is an error the caller treats as "no output yet".
func Read(fsys afero.Fs, path string) (Transcript, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(data), nil
}

// Parse parses JSONL transcript content.
func Parse(data []byte) Transcript {
	var t Transcript

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		e := parseEntry(gjson.ParseBytes(line))
		t.Entries = append(t.Entries, e)

		if e.Role != "assistant" {
			continue
		}
		if e.Text != "" {
			t.FinalText = e.Text
		}
		t.Finished = e.StopReason == "end_turn"
	}
	return t
}

func parseEntry(line gjson.Result) Entry {
	e := Entry{
		Type:       line.Get("type").String(),
		Role:       line.Get("message.role").String(),
		StopReason: line.Get("message.stop_reason").String(),
	}
	if e.Role == "" && e.Type == "assistant" {
		e.Role = "assistant"
	}

	content := line.Get("message.content")
	if content.Type == gjson.String {
		e.Text = strings.TrimSpace(content.String())
		return e
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if text := strings.TrimSpace(block.Get("text").String()); text != "" {
				parts = append(parts, text)
			}
		}
		return true
	})
	e.Text = strings.Join(parts, "\n\n")
	return e
}

// Locator computes default transcript locations under the Claude directory.
type Locator struct {
	ClaudeDir string
}

// Path returns the transcript of a sub-agent of a runtime session.
func (l Locator) Path(workDir, runtimeSessionID, agentID string) string {
	return filepath.Join(l.ClaudeDir, "projects", ProjectSlug(workDir),
		runtimeSessionID, "subagents", "agent-"+agentID+".jsonl")
}

// ProjectSlug maps a working directory onto its projects directory name:
// every character outside [A-Za-z0-9-] becomes a dash.
func ProjectSlug(workDir string) string {
	var b strings.Builder
	b.Grow(len(workDir))
	for _, r := range workDir {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
