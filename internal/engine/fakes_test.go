package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/storage"
)

// memoryCatalog is an in-process catalog.Repository. WithTx snapshots state
// and restores it when fn fails.
type memoryCatalog struct {
	mu            sync.Mutex
	now           func() time.Time
	nextID        int64
	datasets      map[int64]catalog.Dataset
	records       map[int64]catalog.QueryRecord
	reports       []catalog.Report
	createErr     error
	insertErr     error
	insertCalls   int
	listUserCalls []catalog.ListQueryRecordsInput
}

func newMemoryCatalog(now func() time.Time) *memoryCatalog {
	return &memoryCatalog{
		now:      now,
		datasets: map[int64]catalog.Dataset{},
		records:  map[int64]catalog.QueryRecord{},
	}
}

func (m *memoryCatalog) HealthCheck(context.Context) error { return nil }

func (m *memoryCatalog) WithTx(_ context.Context, fn func(tx catalog.Tx) error) error {
	m.mu.Lock()
	datasets := make(map[int64]catalog.Dataset, len(m.datasets))
	for id, dataset := range m.datasets {
		datasets[id] = dataset
	}
	m.mu.Unlock()

	if err := fn(memoryTx{m}); err != nil {
		m.mu.Lock()
		m.datasets = datasets
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTx struct{ m *memoryCatalog }

func (tx memoryTx) CreateDataset(_ context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error) {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return catalog.Dataset{}, m.createErr
	}
	m.nextID++
	dataset := catalog.Dataset{
		DatasetID:    m.nextID,
		UserID:       in.UserID,
		Name:         in.Name,
		TableName:    in.TableName,
		SourceFormat: in.SourceFormat,
		ArchiveKey:   in.ArchiveKey,
		RowCount:     in.RowCount,
		ColumnCount:  in.ColumnCount,
		CreatedAt:    m.now(),
	}
	m.datasets[dataset.DatasetID] = dataset
	return dataset, nil
}

func (tx memoryTx) DeleteDataset(_ context.Context, userID string, datasetID int64) (catalog.Dataset, error) {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	dataset, ok := m.datasets[datasetID]
	if !ok || dataset.UserID != userID {
		return catalog.Dataset{}, catalog.ErrNotFound
	}
	delete(m.datasets, datasetID)
	return dataset, nil
}

func (m *memoryCatalog) GetDataset(_ context.Context, userID string, datasetID int64) (catalog.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dataset, ok := m.datasets[datasetID]
	if !ok || dataset.UserID != userID {
		return catalog.Dataset{}, catalog.ErrNotFound
	}
	return dataset, nil
}

func (m *memoryCatalog) ListDatasets(_ context.Context, userID string) ([]catalog.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Dataset
	for _, dataset := range m.datasets {
		if dataset.UserID == userID {
			out = append(out, dataset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID > out[j].DatasetID })
	return out, nil
}

func (m *memoryCatalog) InsertQueryRecord(_ context.Context, in catalog.InsertQueryRecordInput) (catalog.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertErr != nil {
		return catalog.QueryRecord{}, m.insertErr
	}
	if _, ok := m.datasets[in.DatasetID]; !ok {
		return catalog.QueryRecord{}, fmt.Errorf("insert query record: dataset %d: %w", in.DatasetID, catalog.ErrNotFound)
	}
	m.nextID++
	record := catalog.QueryRecord{
		QueryID:      m.nextID,
		DatasetID:    in.DatasetID,
		UserID:       in.UserID,
		Question:     in.Question,
		SQL:          in.SQL,
		Columns:      in.Columns,
		Rows:         in.Rows,
		DurationMs:   in.DurationMs,
		ErrorMessage: in.ErrorMessage,
		CreatedAt:    m.now(),
	}
	m.records[record.QueryID] = record
	return record, nil
}

func (m *memoryCatalog) GetQueryRecord(_ context.Context, userID string, queryID int64) (catalog.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[queryID]
	if !ok || record.UserID != userID {
		return catalog.QueryRecord{}, catalog.ErrNotFound
	}
	return record, nil
}

func (m *memoryCatalog) ListQueryRecordsByDataset(_ context.Context, userID string, datasetID int64) ([]catalog.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.QueryRecord
	for _, record := range m.records {
		if record.UserID == userID && record.DatasetID == datasetID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID > out[j].QueryID })
	return out, nil
}

func (m *memoryCatalog) ListQueryRecordsByUser(_ context.Context, in catalog.ListQueryRecordsInput) ([]catalog.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listUserCalls = append(m.listUserCalls, in)
	var out []catalog.QueryRecord
	for _, record := range m.records {
		if record.UserID != in.UserID {
			continue
		}
		if !in.Since.IsZero() && record.CreatedAt.Before(in.Since) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID > out[j].QueryID })
	if in.Limit > 0 && len(out) > in.Limit {
		out = out[:in.Limit]
	}
	return out, nil
}

func (m *memoryCatalog) CreateReport(_ context.Context, in catalog.CreateReportInput) (catalog.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	report := catalog.Report{
		ReportID:   m.nextID,
		UserID:     in.UserID,
		SQL:        in.SQL,
		DurationMs: in.DurationMs,
		Status:     in.Status,
		CreatedAt:  m.now(),
	}
	m.reports = append(m.reports, report)
	return report, nil
}

func (m *memoryCatalog) ListReports(_ context.Context, userID string) ([]catalog.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Report
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].UserID == userID {
			out = append(out, m.reports[i])
		}
	}
	return out, nil
}

func (m *memoryCatalog) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// scriptedCompleter returns canned completions and remembers prompts.
type scriptedCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	hook    func()
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

var _ nl2sql.TextCompleter = (*scriptedCompleter)(nil)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) HealthCheck(context.Context) error { return nil }

func (s *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if s.putErr != nil {
		return storage.ObjectInfo{}, s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

var errBoom = errors.New("boom")
