package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querylens/querylens/internal/catalog"
)

const foreignKeyViolation = "23503"

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

const datasetColumns = `dataset_id, user_id, name, table_name, source_format, archive_key, row_count, column_count, created_at`

func (r *Repository) GetDataset(ctx context.Context, userID string, datasetID int64) (catalog.Dataset, error) {
	query := `
SELECT ` + datasetColumns + `
FROM dataset
WHERE user_id = $1 AND dataset_id = $2`

	dataset, err := scanDataset(r.db.QueryRowContext(ctx, query, userID, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dataset{}, catalog.ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return dataset, nil
}

func (r *Repository) ListDatasets(ctx context.Context, userID string) ([]catalog.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+datasetColumns+`
FROM dataset
WHERE user_id = $1
ORDER BY created_at DESC, dataset_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	datasets := make([]catalog.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return datasets, nil
}

// ListTableNames returns the warehouse table of every dataset regardless of
// owner. Only maintenance should call it.
func (r *Repository) ListTableNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT table_name FROM dataset ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list dataset tables: %w", err)
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
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

func (r *Repository) InsertQueryRecord(ctx context.Context, in catalog.InsertQueryRecordInput) (catalog.QueryRecord, error) {
	columns := in.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := in.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return catalog.QueryRecord{}, fmt.Errorf("encode query record columns: %w", err)
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return catalog.QueryRecord{}, fmt.Errorf("encode query record rows: %w", err)
	}

	query := `
INSERT INTO query_record (dataset_id, user_id, question, sql_text, result_columns, result_rows, duration_ms, error_message)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
RETURNING query_id, created_at`

	record := catalog.QueryRecord{
		DatasetID:    in.DatasetID,
		UserID:       in.UserID,
		Question:     in.Question,
		SQL:          in.SQL,
		Columns:      columns,
		Rows:         rows,
		DurationMs:   in.DurationMs,
		ErrorMessage: in.ErrorMessage,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.DatasetID,
		in.UserID,
		in.Question,
		in.SQL,
		string(columnsJSON),
		string(rowsJSON),
		in.DurationMs,
		in.ErrorMessage,
	).Scan(&record.QueryID, &record.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return catalog.QueryRecord{}, fmt.Errorf("insert query record: dataset %d: %w", in.DatasetID, catalog.ErrNotFound)
		}
		return catalog.QueryRecord{}, fmt.Errorf("insert query record: %w", err)
	}
	return record, nil
}

const queryRecordColumns = `query_id, dataset_id, user_id, question, sql_text, result_columns, result_rows, duration_ms, error_message, created_at`

func (r *Repository) GetQueryRecord(ctx context.Context, userID string, queryID int64) (catalog.QueryRecord, error) {
	query := `
SELECT ` + queryRecordColumns + `
FROM query_record
WHERE user_id = $1 AND query_id = $2`

	record, err := scanQueryRecord(r.db.QueryRowContext(ctx, query, userID, queryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.QueryRecord{}, catalog.ErrNotFound
		}
		return catalog.QueryRecord{}, fmt.Errorf("get query record: %w", err)
	}
	return record, nil
}

func (r *Repository) ListQueryRecordsByDataset(ctx context.Context, userID string, datasetID int64) ([]catalog.QueryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, dataset_id, user_id, question, sql_text, result_columns, '[]'::jsonb, duration_ms, error_message, created_at
FROM query_record
WHERE user_id = $1 AND dataset_id = $2
ORDER BY created_at DESC, query_id DESC`, userID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list dataset query records: %w", err)
	}
	return collectQueryRecords(rows)
}

func (r *Repository) ListQueryRecordsByUser(ctx context.Context, in catalog.ListQueryRecordsInput) ([]catalog.QueryRecord, error) {
	var since *time.Time
	if !in.Since.IsZero() {
		value := in.Since.UTC()
		since = &value
	}
	var limit *int
	if in.Limit > 0 {
		value := in.Limit
		limit = &value
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, dataset_id, user_id, question, sql_text, result_columns,
       CASE WHEN $4 THEN result_rows ELSE '[]'::jsonb END,
       duration_ms, error_message, created_at
FROM query_record
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
ORDER BY created_at DESC, query_id DESC
LIMIT $3`, in.UserID, since, limit, in.IncludeRows)
	if err != nil {
		return nil, fmt.Errorf("list user query records: %w", err)
	}
	return collectQueryRecords(rows)
}

func (r *Repository) CreateReport(ctx context.Context, in catalog.CreateReportInput) (catalog.Report, error) {
	status := in.Status
	if status == "" {
		status = catalog.ReportStatusSuccess
	}

	query := `
INSERT INTO report (user_id, sql_text, duration_ms, status)
VALUES ($1, $2, $3, $4)
RETURNING report_id, created_at`

	report := catalog.Report{
		UserID:     in.UserID,
		SQL:        in.SQL,
		DurationMs: in.DurationMs,
		Status:     status,
	}
	if err := r.db.QueryRowContext(ctx, query, in.UserID, in.SQL, in.DurationMs, status).Scan(&report.ReportID, &report.CreatedAt); err != nil {
		return catalog.Report{}, fmt.Errorf("create report: %w", err)
	}
	return report, nil
}

func (r *Repository) ListReports(ctx context.Context, userID string) ([]catalog.Report, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT report_id, user_id, sql_text, duration_ms, status, created_at
FROM report
WHERE user_id = $1
ORDER BY created_at DESC, report_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reports := make([]catalog.Report, 0)
	for rows.Next() {
		var (
			report   catalog.Report
			duration sql.NullFloat64
		)
		if err := rows.Scan(&report.ReportID, &report.UserID, &report.SQL, &duration, &report.Status, &report.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		report.DurationMs = nullFloatPtr(duration)
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return reports, nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&TxRepository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type TxRepository struct {
	q dbTX
}

var _ catalog.Tx = (*TxRepository)(nil)

func (r *TxRepository) CreateDataset(ctx context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error) {
	query := `
INSERT INTO dataset (user_id, name, table_name, source_format, archive_key, row_count, column_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING dataset_id, created_at`

	dataset := catalog.Dataset{
		UserID:       in.UserID,
		Name:         in.Name,
		TableName:    in.TableName,
		SourceFormat: in.SourceFormat,
		ArchiveKey:   in.ArchiveKey,
		RowCount:     in.RowCount,
		ColumnCount:  in.ColumnCount,
	}
	if err := r.q.QueryRowContext(ctx, query,
		in.UserID,
		in.Name,
		in.TableName,
		in.SourceFormat,
		in.ArchiveKey,
		in.RowCount,
		in.ColumnCount,
	).Scan(&dataset.DatasetID, &dataset.CreatedAt); err != nil {
		return catalog.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return dataset, nil
}

func (r *TxRepository) DeleteDataset(ctx context.Context, userID string, datasetID int64) (catalog.Dataset, error) {
	query := `
DELETE FROM dataset
WHERE user_id = $1 AND dataset_id = $2
RETURNING ` + datasetColumns

	dataset, err := scanDataset(r.q.QueryRowContext(ctx, query, userID, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dataset{}, catalog.ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("delete dataset: %w", err)
	}
	return dataset, nil
}

func scanDataset(row rowScanner) (catalog.Dataset, error) {
	var dataset catalog.Dataset
	if err := row.Scan(
		&dataset.DatasetID,
		&dataset.UserID,
		&dataset.Name,
		&dataset.TableName,
		&dataset.SourceFormat,
		&dataset.ArchiveKey,
		&dataset.RowCount,
		&dataset.ColumnCount,
		&dataset.CreatedAt,
	); err != nil {
		return catalog.Dataset{}, err
	}
	return dataset, nil
}

func scanQueryRecord(row rowScanner) (catalog.QueryRecord, error) {
	var (
		record      catalog.QueryRecord
		columnsJSON []byte
		rowsJSON    []byte
		duration    sql.NullFloat64
		errorText   sql.NullString
	)
	if err := row.Scan(
		&record.QueryID,
		&record.DatasetID,
		&record.UserID,
		&record.Question,
		&record.SQL,
		&columnsJSON,
		&rowsJSON,
		&duration,
		&errorText,
		&record.CreatedAt,
	); err != nil {
		return catalog.QueryRecord{}, err
	}
	if err := decodeJSON(columnsJSON, &record.Columns); err != nil {
		return catalog.QueryRecord{}, fmt.Errorf("decode result columns: %w", err)
	}
	if err := decodeJSON(rowsJSON, &record.Rows); err != nil {
		return catalog.QueryRecord{}, fmt.Errorf("decode result rows: %w", err)
	}
	if record.Columns == nil {
		record.Columns = []string{}
	}
	if record.Rows == nil {
		record.Rows = []map[string]any{}
	}
	record.DurationMs = nullFloatPtr(duration)
	if errorText.Valid {
		value := errorText.String
		record.ErrorMessage = &value
	}
	return record, nil
}

func collectQueryRecords(rows *sql.Rows) ([]catalog.QueryRecord, error) {
	defer func() { _ = rows.Close() }()

	records := make([]catalog.QueryRecord, 0)
	for rows.Next() {
		record, err := scanQueryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query record row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query record rows: %w", err)
	}
	return records, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nullFloatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	out := value.Float64
	return &out
}
