package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querylens/querylens/internal/analytics"
	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/sqlguard"
	"github.com/querylens/querylens/internal/warehouse"
)

type AskInput struct {
	UserID    string
	DatasetID int64
	Question  string
}

type AskResult struct {
	QueryID    int64
	SQL        string
	Columns    []string
	Rows       []map[string]any
	DurationMs float64
}

type ReplayResult struct {
	QueryID    int64
	SQL        string
	Columns    []string
	Rows       []map[string]any
	DurationMs float64
}

type QuerySummary struct {
	QueryID      int64
	DatasetID    int64
	Question     string
	SQL          string
	DurationMs   *float64
	ErrorMessage *string
	Status       string
	CreatedAt    time.Time
}

// Ask answers a question about one dataset: introspect, generate, validate,
// execute, record. SQL that fails validation never runs and is not
// recorded.
func (s *Service) Ask(ctx context.Context, in AskInput) (AskResult, error) {
	s.ensureDefaults()
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskResult{}, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}

	dataset, err := s.GetDataset(ctx, in.UserID, in.DatasetID)
	if err != nil {
		return AskResult{}, err
	}
	schema, err := s.introspect(ctx, dataset)
	if err != nil {
		observability.ObserveAsk(observability.AskOutcomeExecutionError)
		return AskResult{}, err
	}

	sqlText, err := s.generate(ctx, dataset, schema, question)
	if err != nil {
		observability.ObserveAsk(observability.AskOutcomeGenerationError)
		return AskResult{}, err
	}

	if err := s.Validator.Check(ctx, sqlText, dataset.TableName); err != nil {
		if errors.Is(err, sqlguard.ErrUnsafeSQL) {
			observability.ObserveAsk(observability.AskOutcomeUnsafe)
			s.Logger.WarnContext(ctx, "generated sql rejected",
				slog.Int64("dataset_id", dataset.DatasetID),
				slog.String("sql", sqlText),
				slog.Any("error", err),
			)
		}
		return AskResult{}, err
	}

	result, err := s.Warehouse.Query(ctx, warehouse.QueryRequest{SQL: sqlText, RowLimit: s.Config.MaxResultRows})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AskResult{}, ctxErr
		}
		observability.ObserveAsk(observability.AskOutcomeExecutionError)
		s.recordFailure(ctx, dataset, question, sqlText, err)
		return AskResult{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	durationMs := toMillis(result.Duration)
	observability.ObserveExecutionLatency("ask", result.Duration)
	record, err := s.Catalog.InsertQueryRecord(ctx, catalog.InsertQueryRecordInput{
		DatasetID:  dataset.DatasetID,
		UserID:     in.UserID,
		Question:   question,
		SQL:        sqlText,
		Columns:    result.Columns,
		Rows:       result.Rows,
		DurationMs: &durationMs,
	})
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			observability.ObserveAsk(observability.AskOutcomeExecutionError)
			return AskResult{}, fmt.Errorf("%w: dataset %d was deleted during the query", ErrExecution, dataset.DatasetID)
		}
		return AskResult{}, fmt.Errorf("record query: %w", err)
	}
	observability.ObserveAsk(observability.AskOutcomeSuccess)

	return AskResult{
		QueryID:    record.QueryID,
		SQL:        sqlText,
		Columns:    result.Columns,
		Rows:       result.Rows,
		DurationMs: durationMs,
	}, nil
}

// Replay re-runs a stored statement verbatim. Nothing is generated or
// recorded, so replaying twice over unchanged data yields the same rows.
func (s *Service) Replay(ctx context.Context, userID string, queryID int64) (ReplayResult, error) {
	s.ensureDefaults()
	record, err := s.Catalog.GetQueryRecord(ctx, userID, queryID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("get query record: %w", err)
	}

	result, err := s.Warehouse.Query(ctx, warehouse.QueryRequest{SQL: record.SQL, RowLimit: s.Config.MaxResultRows})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ReplayResult{}, ctxErr
		}
		return ReplayResult{}, fmt.Errorf("%w: replay query %d: %w", ErrExecution, queryID, err)
	}
	observability.ObserveExecutionLatency("replay", result.Duration)

	return ReplayResult{
		QueryID:    record.QueryID,
		SQL:        record.SQL,
		Columns:    result.Columns,
		Rows:       result.Rows,
		DurationMs: toMillis(result.Duration),
	}, nil
}

// QueryHistory lists a dataset's records newest first.
func (s *Service) QueryHistory(ctx context.Context, userID string, datasetID int64) ([]QuerySummary, error) {
	if _, err := s.GetDataset(ctx, userID, datasetID); err != nil {
		return nil, err
	}
	records, err := s.Catalog.ListQueryRecordsByDataset(ctx, userID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list query records: %w", err)
	}
	out := make([]QuerySummary, 0, len(records))
	for _, record := range records {
		out = append(out, QuerySummary{
			QueryID:      record.QueryID,
			DatasetID:    record.DatasetID,
			Question:     record.Question,
			SQL:          record.SQL,
			DurationMs:   record.DurationMs,
			ErrorMessage: record.ErrorMessage,
			Status:       analytics.StatusOf(record),
			CreatedAt:    record.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) generate(ctx context.Context, dataset catalog.Dataset, schema warehouse.Schema, question string) (string, error) {
	if s.Generator == nil {
		return "", fmt.Errorf("%w: no generator configured", nl2sql.ErrGeneration)
	}
	columns := make([]nl2sql.Column, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		columns = append(columns, nl2sql.Column{Name: column.Name, Type: column.Type})
	}

	start := s.Clock()
	sqlText, err := s.Generator.Generate(ctx, nl2sql.Request{
		TableName: dataset.TableName,
		Columns:   columns,
		Question:  question,
	})
	observability.ObserveGenerationLatency(s.Clock().Sub(start))
	if err != nil {
		s.Logger.WarnContext(ctx, "sql generation failed",
			slog.Int64("dataset_id", dataset.DatasetID),
			slog.Any("error", err),
		)
		return "", err
	}
	return sqlText, nil
}

// recordFailure stores an attempt whose SQL failed at execution time. The
// insert may itself fail, for example when the dataset was deleted
// concurrently; that is logged and the caller still sees ErrExecution.
func (s *Service) recordFailure(ctx context.Context, dataset catalog.Dataset, question, sqlText string, execErr error) {
	if !s.Config.RecordFailures {
		return
	}
	message := execErr.Error()
	_, err := s.Catalog.InsertQueryRecord(context.WithoutCancel(ctx), catalog.InsertQueryRecordInput{
		DatasetID:    dataset.DatasetID,
		UserID:       dataset.UserID,
		Question:     question,
		SQL:          sqlText,
		Columns:      []string{},
		Rows:         []map[string]any{},
		ErrorMessage: &message,
	})
	if err != nil {
		s.Logger.ErrorContext(ctx, "record failed query",
			slog.Int64("dataset_id", dataset.DatasetID),
			slog.Any("error", err),
		)
	}
}

func toMillis(d time.Duration) float64 {
	return analytics.RoundMs(float64(d) / float64(time.Millisecond))
}
