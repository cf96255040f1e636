package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/sqlguard"
)

type serializedSQL struct {
	Error        bool              `json:"error"`
	ErrorType    string            `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Statements   []json.RawMessage `json:"statements"`
}

// Parse asks DuckDB for its own parse tree through json_serialize_sql and
// extracts every table, table function, scalar function and CTE the statement
// refers to. A table reference only resolves to a CTE declared in an
// enclosing WITH clause. DuckDB only serializes SELECT statements, so anything else comes
// back as Rejected.
func (w *Warehouse) Parse(ctx context.Context, sqlText string) (sqlguard.Statement, error) {
	var raw string
	if err := w.db.QueryRowContext(ctx, `SELECT CAST(json_serialize_sql(CAST(? AS VARCHAR)) AS VARCHAR)`, sqlText).Scan(&raw); err != nil {
		return nil, fmt.Errorf("serialize sql: %w", err)
	}

	var serialized serializedSQL
	if err := json.Unmarshal([]byte(raw), &serialized); err != nil {
		return nil, fmt.Errorf("decode serialized sql: %w", err)
	}
	if serialized.Error {
		return sqlguard.Rejected{Reason: fmt.Sprintf("only a single SELECT statement is allowed (%s)", serialized.ErrorMessage)}, nil
	}
	if len(serialized.Statements) != 1 {
		return sqlguard.Rejected{Reason: fmt.Sprintf("expected exactly one statement, found %d", len(serialized.Statements))}, nil
	}

	var tree any
	if err := json.Unmarshal(serialized.Statements[0], &tree); err != nil {
		return nil, fmt.Errorf("decode statement tree: %w", err)
	}
	var stmt sqlguard.Select
	collectReferences(tree, &stmt, nil)
	return stmt, nil
}

func collectReferences(node any, stmt *sqlguard.Select, scope map[string]struct{}) {
	switch typed := node.(type) {
	case []any:
		for _, item := range typed {
			collectReferences(item, stmt, scope)
		}
	case map[string]any:
		outer := scope
		entries := cteEntries(typed)
		if len(entries) > 0 {
			scope = withCTEs(scope, entries)
		}
		switch stringField(typed, "type") {
		case "BASE_TABLE":
			ref := sqlguard.TableRef{
				Catalog: stringField(typed, "catalog_name"),
				Schema:  stringField(typed, "schema_name"),
				Name:    stringField(typed, "table_name"),
			}
			if _, ok := scope[strings.ToLower(ref.Name)]; !ok || ref.Catalog != "" || ref.Schema != "" {
				stmt.Tables = append(stmt.Tables, ref)
			}
		case "TABLE_FUNCTION":
			name := "table function"
			if function, ok := typed["function"].(map[string]any); ok {
				if fn := stringField(function, "function_name"); fn != "" {
					name = fn
				}
			}
			stmt.TableFunctions = append(stmt.TableFunctions, name)
		}
		if name := stringField(typed, "function_name"); name != "" {
			stmt.Functions = append(stmt.Functions, name)
		}
		for key, value := range typed {
			if key == "cte_map" && len(entries) > 0 {
				continue
			}
			collectReferences(value, stmt, scope)
		}
		// A CTE body only sees the CTEs declared before it. Self and forward
		// references are checked as real tables.
		for i, entry := range entries {
			stmt.CTEs = append(stmt.CTEs, entry.name)
			collectReferences(entry.body, stmt, withCTEs(outer, entries[:i]))
		}
	}
}

type cteEntry struct {
	name string
	body any
}

func cteEntries(node map[string]any) []cteEntry {
	cteMap, ok := node["cte_map"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := cteMap["map"].([]any)
	if !ok {
		return nil
	}
	var entries []cteEntry
	for _, item := range items {
		pair, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if key := stringField(pair, "key"); key != "" {
			entries = append(entries, cteEntry{name: key, body: pair["value"]})
		}
	}
	return entries
}

func withCTEs(scope map[string]struct{}, entries []cteEntry) map[string]struct{} {
	out := make(map[string]struct{}, len(scope)+len(entries))
	for name := range scope {
		out[name] = struct{}{}
	}
	for _, entry := range entries {
		out[strings.ToLower(entry.name)] = struct{}{}
	}
	return out
}

func stringField(node map[string]any, key string) string {
	value, _ := node[key].(string)
	return value
}
