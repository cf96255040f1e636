package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/warehouse"
)

// Warehouse keeps one DuckDB table per dataset. A single *sql.DB is shared by
// all requests; DuckDB handles concurrent readers itself.
type Warehouse struct {
	db *sql.DB
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

func Open(ctx context.Context, cfg config.WarehouseConfig) (*Warehouse, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if cfg.TempDir != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET temp_directory = %s", quoteLiteral(cfg.TempDir))); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set duckdb temp directory: %w", err)
		}
	}
	return New(db), nil
}

func New(db *sql.DB) *Warehouse {
	return &Warehouse{db: db}
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) HealthCheck(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

func (w *Warehouse) CreateTableFromFile(ctx context.Context, request warehouse.LoadRequest) (warehouse.LoadResult, error) {
	if strings.TrimSpace(request.TableName) == "" {
		return warehouse.LoadResult{}, fmt.Errorf("table name is required")
	}
	if request.Path == "" {
		return warehouse.LoadResult{}, fmt.Errorf("source path is required")
	}

	exists, err := w.tableExists(ctx, request.TableName)
	if err != nil {
		return warehouse.LoadResult{}, err
	}
	if exists {
		return warehouse.LoadResult{}, fmt.Errorf("create table %q: %w", request.TableName, warehouse.ErrTableExists)
	}

	var source string
	switch request.Format {
	case warehouse.FormatCSV:
		source = fmt.Sprintf("read_csv(%s, header = true, auto_detect = true, sample_size = -1)", quoteLiteral(request.Path))
	case warehouse.FormatParquet:
		source = fmt.Sprintf("read_parquet(%s)", quoteLiteral(request.Path))
	default:
		return warehouse.LoadResult{}, fmt.Errorf("unsupported source format %q", request.Format)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quoteIdent(request.TableName), source)
	if _, err := w.db.ExecContext(ctx, createSQL); err != nil {
		if isAlreadyExists(err) {
			return warehouse.LoadResult{}, fmt.Errorf("create table %q: %w", request.TableName, warehouse.ErrTableExists)
		}
		if ctx.Err() != nil {
			return warehouse.LoadResult{}, ctx.Err()
		}
		return warehouse.LoadResult{}, fmt.Errorf("%w: %v", warehouse.ErrInvalidSource, err)
	}

	schema, err := w.SampleSchema(ctx, request.TableName, 0)
	if err != nil {
		return warehouse.LoadResult{}, err
	}
	if len(schema.Columns) == 0 {
		_ = w.DropTable(ctx, request.TableName)
		return warehouse.LoadResult{}, fmt.Errorf("%w: source has no columns", warehouse.ErrInvalidSource)
	}

	var rowCount int64
	if err := w.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(request.TableName))).Scan(&rowCount); err != nil {
		return warehouse.LoadResult{}, fmt.Errorf("count rows of %q: %w", request.TableName, err)
	}
	return warehouse.LoadResult{RowCount: rowCount, ColumnCount: len(schema.Columns)}, nil
}

func (w *Warehouse) DropTable(ctx context.Context, tableName string) error {
	if _, err := w.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tableName))); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// SampleSchema reads column names and driver type labels from at most
// sampleRows rows. It never writes.
func (w *Warehouse) SampleSchema(ctx context.Context, tableName string, sampleRows int) (warehouse.Schema, error) {
	if sampleRows < 0 {
		sampleRows = 0
	}
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(tableName), sampleRows))
	if err != nil {
		return warehouse.Schema{}, classifyTableError(tableName, err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return warehouse.Schema{}, fmt.Errorf("column types of %q: %w", tableName, err)
	}
	columns := make([]warehouse.Column, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		columns = append(columns, warehouse.Column{
			Name: columnType.Name(),
			Type: columnType.DatabaseTypeName(),
		})
	}

	sample, err := scanRows(rows, columnTypes)
	if err != nil {
		return warehouse.Schema{}, err
	}
	return warehouse.Schema{Columns: columns, Sample: sample}, nil
}

// Query runs SQL inside a transaction that is always rolled back, so nothing
// a statement does can persist.
func (w *Warehouse) Query(ctx context.Context, request warehouse.QueryRequest) (warehouse.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return warehouse.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		// The statement keeps its own lines so a trailing line comment cannot
		// swallow the wrapper.
		sqlText = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("begin query tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("query columns: %w", err)
	}
	resultRows, err := scanRows(rows, columnTypes)
	if err != nil {
		return warehouse.Result{}, err
	}

	columns := make([]string, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		columns = append(columns, columnType.Name())
	}
	return warehouse.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// ListTables returns the main-schema tables whose names start with prefix.
func (w *Warehouse) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main' AND starts_with(table_name, ?)
ORDER BY table_name`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

func (w *Warehouse) tableExists(ctx context.Context, tableName string) (bool, error) {
	var count int
	err := w.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = 'main' AND lower(table_name) = lower(?)`, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", tableName, err)
	}
	return count > 0, nil
}

func scanRows(rows *sql.Rows, columnTypes []*sql.ColumnType) ([]map[string]any, error) {
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnTypes))
		scanTargets := make([]any, len(columnTypes))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columnTypes))
		for i, columnType := range columnTypes {
			row[columnType.Name()] = normalizeValue(columnType.DatabaseTypeName(), values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func classifyTableError(tableName string, err error) error {
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) && duckErr.Type == duckdb.ErrorTypeCatalog {
		return fmt.Errorf("table %q: %w", tableName, warehouse.ErrTableNotFound)
	}
	if strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("table %q: %w", tableName, warehouse.ErrTableNotFound)
	}
	return fmt.Errorf("sample table %q: %w", tableName, err)
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
