package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository stores datasets, query records and reports. Every read is scoped
// to a user; records owned by someone else behave as if they do not exist.
type Repository interface {
	HealthCheck(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetDataset(ctx context.Context, userID string, datasetID int64) (Dataset, error)
	ListDatasets(ctx context.Context, userID string) ([]Dataset, error)
	InsertQueryRecord(ctx context.Context, in InsertQueryRecordInput) (QueryRecord, error)
	GetQueryRecord(ctx context.Context, userID string, queryID int64) (QueryRecord, error)
	ListQueryRecordsByDataset(ctx context.Context, userID string, datasetID int64) ([]QueryRecord, error)
	ListQueryRecordsByUser(ctx context.Context, in ListQueryRecordsInput) ([]QueryRecord, error)
	CreateReport(ctx context.Context, in CreateReportInput) (Report, error)
	ListReports(ctx context.Context, userID string) ([]Report, error)
}

// Tx is the transactional subset used while provisioning or removing a
// dataset, so metadata changes commit or roll back with the warehouse work.
type Tx interface {
	CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error)
	DeleteDataset(ctx context.Context, userID string, datasetID int64) (Dataset, error)
}

type Dataset struct {
	DatasetID    int64
	UserID       string
	Name         string
	TableName    string
	SourceFormat string
	ArchiveKey   string
	RowCount     int64
	ColumnCount  int
	CreatedAt    time.Time
}

// QueryRecord is immutable once stored. A nil DurationMs marks an execution
// that failed.
type QueryRecord struct {
	QueryID      int64
	DatasetID    int64
	UserID       string
	Question     string
	SQL          string
	Columns      []string
	Rows         []map[string]any
	DurationMs   *float64
	ErrorMessage *string
	CreatedAt    time.Time
}

func (r QueryRecord) Succeeded() bool {
	return r.DurationMs != nil
}

const (
	ReportStatusSuccess = "success"
	ReportStatusFailed  = "failed"
)

type Report struct {
	ReportID   int64
	UserID     string
	SQL        string
	DurationMs *float64
	Status     string
	CreatedAt  time.Time
}

type CreateDatasetInput struct {
	UserID       string
	Name         string
	TableName    string
	SourceFormat string
	ArchiveKey   string
	RowCount     int64
	ColumnCount  int
}

type InsertQueryRecordInput struct {
	DatasetID    int64
	UserID       string
	Question     string
	SQL          string
	Columns      []string
	Rows         []map[string]any
	DurationMs   *float64
	ErrorMessage *string
}

// ListQueryRecordsInput selects a user's records newest first. A zero Since
// disables the time filter; a zero Limit returns everything. IncludeRows
// loads stored result rows, which analytics never needs.
type ListQueryRecordsInput struct {
	UserID      string
	Since       time.Time
	Limit       int
	IncludeRows bool
}

type CreateReportInput struct {
	UserID     string
	SQL        string
	DurationMs *float64
	Status     string
}
