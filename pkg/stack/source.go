package stack

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/text/encoding/charmap"
)

// SourcePlaceholder is the single context line substituted when a frame's
// source file cannot be opened.
const SourcePlaceholder = "<source not available>"

// ContextWindow is the number of lines captured on each side of the
// current line.
const ContextWindow = 3

// WideWindow is the number of lines re-read on each side for longlist.
const WideWindow = 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ContextReader reads source files and extracts context windows. Files are
// held in an LRU cache since the same file recurs across frames of one walk
// and across re-reads during a replay session.
type ContextReader struct {
	cache *lru.Cache
}

// NewContextReader returns a reader caching up to size files.
func NewContextReader(size int) *ContextReader {
	c, err := lru.New(size)
	if err != nil {
		// only reachable with a non-positive size
		panic(fmt.Sprintf("stack: bad cache size %d: %v", size, err))
	}
	return &ContextReader{cache: c}
}

// Lines returns the file's lines, right-trimmed, decoding with the fallback
// ladder. The error is non-nil only when the file cannot be opened at all.
func (r *ContextReader) Lines(path string) ([]string, error) {
	if cached, ok := r.cache.Get(path); ok {
		return cached.([]string), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := splitLines(decodeSource(raw))
	r.cache.Add(path, lines)
	return lines, nil
}

// Window returns the context lines around line (1-based) together with the
// 1-based line number of the first returned line. The window spans
// line-ContextWindow..line+ContextWindow clipped to file bounds.
func Window(lines []string, line int) (ctx []string, start int) {
	return clip(lines, line, ContextWindow)
}

// Wide returns the longlist window around line.
func Wide(lines []string, line int) (ctx []string, start int) {
	return clip(lines, line, WideWindow)
}

func clip(lines []string, line, span int) ([]string, int) {
	first := line - 1 - span
	if first < 0 {
		first = 0
	}
	last := line + span
	if last > len(lines) {
		last = len(lines)
	}
	if first >= last {
		return nil, line
	}
	out := make([]string, last-first)
	copy(out, lines[first:last])
	return out, first + 1
}

// decodeSource applies the encoding ladder: UTF-8 (BOM stripped), then
// Windows-1252, then Latin-1, and finally a best-effort UTF-8 decode with
// replacement runes.
func decodeSource(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw)
	}
	if s, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
		return string(s)
	}
	if s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw); err == nil {
		return string(s)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return lines
}
