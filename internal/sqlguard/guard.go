package sqlguard

import (
	"context"
	"strings"
)

var systemSchemas = map[string]struct{}{
	"information_schema": {},
	"pg_catalog":         {},
}

var systemTablePrefixes = []string{"duckdb_", "sqlite_", "pg_"}

var deniedFunctionPrefixes = []string{"read_", "parquet_", "duckdb_", "pragma_"}

var deniedFunctions = map[string]struct{}{
	"glob":            {},
	"getenv":          {},
	"query":           {},
	"query_table":     {},
	"sniff_csv":       {},
	"current_setting": {},
}

// Guard decides whether generated SQL may run against a dataset. The keyword
// blocklist and the single-statement rule always apply; when a Parser is
// set, the statement must also parse as one SELECT that reads only the
// allowed tables.
type Guard struct {
	Parser Parser
}

func NewGuard(parser Parser) *Guard {
	return &Guard{Parser: parser}
}

func (g *Guard) Check(ctx context.Context, sql string, allowedTables ...string) error {
	if err := ValidateKeywords(sql); err != nil {
		return err
	}
	text := StripTrailingSemicolons(sql)
	if n := CountStatements(text); n != 1 {
		return reject("expected exactly one statement, found %d", n)
	}
	if g == nil || g.Parser == nil {
		return nil
	}

	statement, err := g.Parser.Parse(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return reject("statement could not be analyzed: %v", err)
	}
	switch stmt := statement.(type) {
	case Rejected:
		return reject("%s", stmt.Reason)
	case Select:
		return checkSelect(stmt, allowedTables)
	default:
		return reject("unsupported statement")
	}
}

func checkSelect(stmt Select, allowedTables []string) error {
	if len(stmt.TableFunctions) > 0 {
		return reject("table function %q is not allowed", stmt.TableFunctions[0])
	}
	for _, fn := range stmt.Functions {
		if isDeniedFunction(fn) {
			return reject("function %q is not allowed", fn)
		}
	}

	allowed := make(map[string]struct{}, len(allowedTables))
	for _, name := range allowedTables {
		allowed[strings.ToLower(name)] = struct{}{}
	}

	for _, table := range stmt.Tables {
		name := strings.ToLower(table.Name)
		schema := strings.ToLower(table.Schema)
		if _, ok := systemSchemas[schema]; ok || isSystemTable(name) {
			return reject("system catalog %q is not allowed", table.String())
		}
		if table.Catalog != "" || (schema != "" && schema != "main") {
			return reject("table %q is outside the dataset", table.String())
		}
		if _, ok := allowed[name]; !ok {
			return reject("table %q is outside the dataset", table.String())
		}
	}
	return nil
}

func isSystemTable(name string) bool {
	for _, prefix := range systemTablePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isDeniedFunction(name string) bool {
	name = strings.ToLower(name)
	if _, ok := deniedFunctions[name]; ok {
		return true
	}
	for _, prefix := range deniedFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
