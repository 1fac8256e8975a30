// Package sseutil holds the SSE plumbing shared by provider adapters: line
// scanning, event parsing, and OpenAI-format chunk builders.
package sseutil

import (
	"bufio"
	"io"
	"strings"
)

// Upstream SSE lines are capped at 64KB; anything longer aborts the scan.
const maxLineSize = 64 * 1024

// NewScanner wraps r in a line scanner sized for SSE payloads. Each Scan
// yields one line without its trailing newline.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// ParseSSELine splits one SSE line into its event name or data payload.
// Blank lines, comment lines (leading colon), and lines without a field
// separator report ok=false. A single optional space after the colon is
// stripped per the SSE format.
func ParseSSELine(line string) (event, data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", "", false
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	}
	return "", "", false
}
