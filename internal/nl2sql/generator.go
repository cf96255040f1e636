package nl2sql

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var ErrGeneration = errors.New("sql generation failed")

//go:embed prompt/generate.tmpl
var generatePromptRaw string

var generatePromptTmpl = template.Must(template.New("generate").Funcs(template.FuncMap{
	"quote": quoteIdent,
}).Parse(generatePromptRaw))

type Column struct {
	Name string
	Type string
}

type Request struct {
	TableName string
	Columns   []Column
	Question  string
}

// Generator turns a question about one table into candidate SQL with a
// single model call. The output is unvalidated.
type Generator struct {
	Completer TextCompleter
	Timeout   time.Duration
}

func NewGenerator(completer TextCompleter, timeout time.Duration) *Generator {
	return &Generator{Completer: completer, Timeout: timeout}
}

func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if g.Completer == nil {
		return "", fmt.Errorf("%w: no model configured", ErrGeneration)
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	text, err := g.Completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	sql := StripCodeFences(text)
	if sql == "" {
		return "", fmt.Errorf("%w: model returned empty SQL", ErrGeneration)
	}
	return sql, nil
}

// BuildPrompt is deterministic for a given request.
func BuildPrompt(req Request) (string, error) {
	if strings.TrimSpace(req.TableName) == "" {
		return "", fmt.Errorf("table name is required")
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("question is required")
	}
	req.Question = strings.TrimSpace(req.Question)

	var buf bytes.Buffer
	if err := generatePromptTmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// StripCodeFences removes markdown fences, surrounding whitespace and
// trailing semicolons from model output.
func StripCodeFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			if isFenceTag(trimmed[:newline]) {
				trimmed = trimmed[newline+1:]
			}
		} else {
			trimmed = strings.TrimPrefix(trimmed, "sql")
		}
	}
	trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "sql", "duckdb", "postgres", "postgresql", "pgsql":
		return true
	default:
		return false
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
