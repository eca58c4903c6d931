// Package parser implements @BATCHCTL.<key> token substitution and the
// @BATCHCTL.FINISHED/SUCCESS status-label marker rewrite. It is a small
// token-walker over the script text, not a general template engine.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
)

const tokenPrefix = "@BATCHCTL."

// Replace substitutes every "@BATCHCTL.<key>" occurrence in text with
// attrs[key]. Any "@BATCHCTL." token whose key is not in attrs is left in
// place and reported back so the caller can log a warning; a leftover
// token is never an error.
func Replace(text string, attrs map[string]string) (string, []string) {
	var out strings.Builder
	var unresolved []string

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], tokenPrefix)
		if idx < 0 {
			out.WriteString(text[i:])
			break
		}
		start := i + idx
		out.WriteString(text[i:start])

		keyStart := start + len(tokenPrefix)
		keyEnd := keyStart
		for keyEnd < len(text) && isTokenChar(text[keyEnd]) {
			keyEnd++
		}
		key := text[keyStart:keyEnd]

		if val, ok := attrs[key]; ok {
			out.WriteString(val)
		} else {
			out.WriteString(tokenPrefix)
			out.WriteString(key)
			unresolved = append(unresolved, key)
		}
		i = keyEnd
	}

	return out.String(), unresolved
}

func isTokenChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// Marker names the two recognized status-label tokens.
type Marker string

const (
	MarkerFinished Marker = "FINISHED"
	MarkerSuccess  Marker = "SUCCESS"
)

// SetStatusLabel replaces "@BATCHCTL.<marker>" in text with a shell touch
// command against a per-job marker file under tmpDir, returning the
// rewritten text and the marker path a default Finished/SuccessTrigger
// predicate should watch for. found is false if the marker did not
// appear in text.
func SetStatusLabel(text, jobName, tmpDir string, marker Marker) (rewritten, markerPath string, found bool) {
	token := tokenPrefix + string(marker)
	if !strings.Contains(text, token) {
		return text, "", false
	}
	markerPath = filepath.Join(tmpDir, fmt.Sprintf("%s.%s", jobName, marker))
	cmd := fmt.Sprintf("touch %s", markerPath)
	return strings.ReplaceAll(text, token, cmd), markerPath, true
}
