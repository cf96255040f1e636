package warehouse

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTableExists   = errors.New("warehouse: table already exists")
	ErrTableNotFound = errors.New("warehouse: table not found")
	ErrInvalidSource = errors.New("warehouse: source file could not be loaded")
)

// Warehouse owns the physical tables that back datasets. Implementations
// never overwrite an existing table and run every query read-only.
type Warehouse interface {
	HealthCheck(ctx context.Context) error
	CreateTableFromFile(ctx context.Context, request LoadRequest) (LoadResult, error)
	DropTable(ctx context.Context, tableName string) error
	SampleSchema(ctx context.Context, tableName string, sampleRows int) (Schema, error)
	Query(ctx context.Context, request QueryRequest) (Result, error)
}

type LoadRequest struct {
	TableName string
	Path      string
	Format    Format
}

type LoadResult struct {
	RowCount    int64
	ColumnCount int
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Schema struct {
	Columns []Column
	Sample  []map[string]any
}

type QueryRequest struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     []map[string]any
	Duration time.Duration
}
