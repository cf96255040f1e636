package sqlguard

import "context"

// Statement is the parsed form of candidate SQL. It is either a Select that
// may be executed after policy checks, or Rejected.
type Statement interface {
	isStatement()
}

// Select lists what a single SELECT statement touches. Tables holds only
// references that do not resolve to a CTE in scope; CTEs lists the declared
// names.
type Select struct {
	Tables         []TableRef
	CTEs           []string
	TableFunctions []string
	Functions      []string
}

type Rejected struct {
	Reason string
}

func (Select) isStatement()   {}
func (Rejected) isStatement() {}

type TableRef struct {
	Catalog string
	Schema  string
	Name    string
}

func (r TableRef) String() string {
	name := r.Name
	if r.Schema != "" {
		name = r.Schema + "." + name
	}
	if r.Catalog != "" {
		name = r.Catalog + "." + name
	}
	return name
}

// Parser turns SQL text into a Statement. An error means the parser itself
// could not run, not that the SQL is bad.
type Parser interface {
	Parse(ctx context.Context, sql string) (Statement, error)
}
