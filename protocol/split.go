package protocol

import "strings"

// SplitStatements splits raw statement text on semicolons into trimmed,
// non-empty sub-statements with comment-only lines removed. The split is
// lexical only - a semicolon inside a string literal splits too. That is
// acceptable for the fallback path this feeds: a mangled sub-statement fails
// individually and is reported at its index.
func SplitStatements(raw string) []string {
	parts := strings.Split(raw, ";")
	statements := make([]string, 0, len(parts))

	for _, part := range parts {
		lines := strings.Split(part, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if commentOnly(line) {
				continue
			}
			kept = append(kept, line)
		}
		stmt := strings.TrimSpace(strings.Join(kept, "\n"))
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt+";")
	}

	return statements
}
