package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnsafeSQL = errors.New("unsafe sql")

// RejectionError explains why a statement was refused. It matches
// ErrUnsafeSQL under errors.Is.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("unsafe sql: %s", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return ErrUnsafeSQL
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// BannedKeywords are refused anywhere in a statement when they appear as a
// standalone word, regardless of case.
var BannedKeywords = []string{"delete", "update", "insert", "drop", "alter", "truncate"}

var bannedPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(BannedKeywords, "|") + `)\b`)

// ValidateKeywords is deterministic: the same text always yields the same
// verdict. It looks at raw text, so a banned word inside a string literal or
// comment is still rejected.
func ValidateKeywords(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return reject("statement is empty")
	}
	if match := bannedPattern.FindString(sql); match != "" {
		return reject("forbidden keyword %q", strings.ToUpper(match))
	}
	return nil
}

// StripTrailingSemicolons removes terminators and surrounding whitespace.
func StripTrailingSemicolons(sql string) string {
	trimmed := strings.TrimSpace(sql)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// CountStatements counts semicolon-separated statements, ignoring
// separators inside quotes and comments. Empty statements are not counted.
func CountStatements(sql string) int {
	count := 0
	pending := false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '\'' || ch == '"':
			i = skipQuoted(runes, i, ch)
			pending = true
		case ch == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		case ch == ';':
			if pending {
				count++
			}
			pending = false
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
		default:
			pending = true
		}
	}
	if pending {
		count++
	}
	return count
}

func skipQuoted(runes []rune, start int, quote rune) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(runes)
}
