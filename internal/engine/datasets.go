package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/warehouse"
)

const formatSniffBytes = 8

type IngestInput struct {
	UserID   string
	Name     string
	FileName string
	Body     io.Reader
}

// DatasetSchema is the introspected shape of a dataset's table.
type DatasetSchema struct {
	Dataset catalog.Dataset
	Columns []warehouse.Column
	Sample  []map[string]any
}

// IngestDataset loads an upload into a new table and records it. The table is
// created first; if archiving or the catalog insert fails, the table and any
// archived object are removed again.
func (s *Service) IngestDataset(ctx context.Context, in IngestInput) (dataset catalog.Dataset, err error) {
	s.ensureDefaults()
	if strings.TrimSpace(in.UserID) == "" {
		return catalog.Dataset{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if in.Body == nil {
		return catalog.Dataset{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = DefaultDatasetName
	}

	format := warehouse.FormatCSV
	var rowCount int64
	defer func() {
		observability.ObserveDatasetIngest(string(format), rowCount, err)
	}()

	spool, err := s.spoolUpload(in.Body)
	if err != nil {
		return catalog.Dataset{}, err
	}
	defer spool.remove()
	if spool.size == 0 {
		return catalog.Dataset{}, fmt.Errorf("%w: file is empty", ErrIngestion)
	}

	format = warehouse.DetectFormat(in.FileName, spool.head)
	if format == warehouse.FormatParquet {
		if _, err := warehouse.InspectParquet(spool.path); err != nil {
			return catalog.Dataset{}, fmt.Errorf("%w: %w", ErrIngestion, err)
		}
	}

	tableName := s.NewTableName()
	loaded, err := s.Warehouse.CreateTableFromFile(ctx, warehouse.LoadRequest{
		TableName: tableName,
		Path:      spool.path,
		Format:    format,
	})
	switch {
	case errors.Is(err, warehouse.ErrTableExists):
		return catalog.Dataset{}, fmt.Errorf("%w: table %q already exists", ErrStorageConflict, tableName)
	case errors.Is(err, warehouse.ErrInvalidSource):
		return catalog.Dataset{}, fmt.Errorf("%w: %w", ErrIngestion, err)
	case err != nil:
		return catalog.Dataset{}, fmt.Errorf("create dataset table: %w", err)
	}

	archiveKey, err := s.archiveSource(ctx, in.UserID, tableName, format, spool)
	if err != nil {
		s.compensate(ctx, tableName, "")
		return catalog.Dataset{}, err
	}

	err = s.Catalog.WithTx(ctx, func(tx catalog.Tx) error {
		created, err := tx.CreateDataset(ctx, catalog.CreateDatasetInput{
			UserID:       in.UserID,
			Name:         name,
			TableName:    tableName,
			SourceFormat: string(format),
			ArchiveKey:   archiveKey,
			RowCount:     loaded.RowCount,
			ColumnCount:  loaded.ColumnCount,
		})
		if err != nil {
			return err
		}
		dataset = created
		return nil
	})
	if err != nil {
		s.compensate(ctx, tableName, archiveKey)
		return catalog.Dataset{}, fmt.Errorf("record dataset: %w", err)
	}

	rowCount = loaded.RowCount
	s.Logger.InfoContext(ctx, "dataset ingested",
		slog.Int64("dataset_id", dataset.DatasetID),
		slog.String("table", tableName),
		slog.String("format", string(format)),
		slog.Int64("rows", loaded.RowCount),
		slog.Int("columns", loaded.ColumnCount),
	)
	return dataset, nil
}

func (s *Service) ListDatasets(ctx context.Context, userID string) ([]catalog.Dataset, error) {
	datasets, err := s.Catalog.ListDatasets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}

func (s *Service) GetDataset(ctx context.Context, userID string, datasetID int64) (catalog.Dataset, error) {
	dataset, err := s.Catalog.GetDataset(ctx, userID, datasetID)
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return dataset, nil
}

// DescribeDataset samples the dataset's table without modifying it.
func (s *Service) DescribeDataset(ctx context.Context, userID string, datasetID int64) (DatasetSchema, error) {
	s.ensureDefaults()
	dataset, err := s.GetDataset(ctx, userID, datasetID)
	if err != nil {
		return DatasetSchema{}, err
	}
	schema, err := s.introspect(ctx, dataset)
	if err != nil {
		return DatasetSchema{}, err
	}
	return DatasetSchema{Dataset: dataset, Columns: schema.Columns, Sample: schema.Sample}, nil
}

// DeleteDataset removes the catalog row and drops the table in one catalog
// transaction; a failed drop keeps the row. The archived source is removed
// after commit on a best-effort basis.
func (s *Service) DeleteDataset(ctx context.Context, userID string, datasetID int64) error {
	s.ensureDefaults()
	var deleted catalog.Dataset
	err := s.Catalog.WithTx(ctx, func(tx catalog.Tx) error {
		dataset, err := tx.DeleteDataset(ctx, userID, datasetID)
		if err != nil {
			return err
		}
		if err := s.Warehouse.DropTable(ctx, dataset.TableName); err != nil {
			return fmt.Errorf("drop dataset table: %w", err)
		}
		deleted = dataset
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}

	if s.Archive != nil && deleted.ArchiveKey != "" {
		if err := s.Archive.Delete(ctx, deleted.ArchiveKey); err != nil {
			s.Logger.WarnContext(ctx, "archived dataset source was not removed",
				slog.Int64("dataset_id", deleted.DatasetID),
				slog.String("key", deleted.ArchiveKey),
				slog.Any("error", err),
			)
		}
	}
	observability.IncrementDatasetDeleted()
	s.Logger.InfoContext(ctx, "dataset deleted",
		slog.Int64("dataset_id", deleted.DatasetID),
		slog.String("table", deleted.TableName),
	)
	return nil
}

// OpenDatasetSource streams the archived upload. Callers must close the
// reader.
func (s *Service) OpenDatasetSource(ctx context.Context, userID string, datasetID int64) (io.ReadCloser, catalog.Dataset, error) {
	dataset, err := s.GetDataset(ctx, userID, datasetID)
	if err != nil {
		return nil, catalog.Dataset{}, err
	}
	if s.Archive == nil || dataset.ArchiveKey == "" {
		return nil, catalog.Dataset{}, fmt.Errorf("%w: dataset %d has no archived source", ErrNotFound, datasetID)
	}
	reader, err := s.Archive.Get(ctx, dataset.ArchiveKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, catalog.Dataset{}, fmt.Errorf("%w: archived source for dataset %d is missing", ErrNotFound, datasetID)
	}
	if err != nil {
		return nil, catalog.Dataset{}, fmt.Errorf("open dataset source: %w", err)
	}
	return reader, dataset, nil
}

// introspect maps a vanished table to ErrExecution; the catalog still knows
// the dataset but its storage is gone.
func (s *Service) introspect(ctx context.Context, dataset catalog.Dataset) (warehouse.Schema, error) {
	schema, err := s.Warehouse.SampleSchema(ctx, dataset.TableName, s.Config.SchemaSampleRows)
	if errors.Is(err, warehouse.ErrTableNotFound) {
		return warehouse.Schema{}, fmt.Errorf("%w: table for dataset %d no longer exists", ErrExecution, dataset.DatasetID)
	}
	if err != nil {
		return warehouse.Schema{}, fmt.Errorf("%w: introspect dataset %d: %w", ErrExecution, dataset.DatasetID, err)
	}
	return schema, nil
}

func (s *Service) archiveSource(ctx context.Context, userID, tableName string, format warehouse.Format, spool *spooledUpload) (string, error) {
	if s.Archive == nil {
		return "", nil
	}
	key, err := storage.DatasetArchiveKey(userID, tableName, format.Extension())
	if err != nil {
		return "", fmt.Errorf("build archive key: %w", err)
	}
	file, err := os.Open(spool.path)
	if err != nil {
		return "", fmt.Errorf("reopen upload: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := s.Archive.Put(ctx, key, file, spool.size, storage.PutOptions{ContentType: storage.ContentTypeFor(format.Extension())}); err != nil {
		return "", fmt.Errorf("archive dataset source: %w", err)
	}
	return key, nil
}

// compensate undoes a partially provisioned dataset. It runs even when ctx
// has been canceled.
func (s *Service) compensate(ctx context.Context, tableName, archiveKey string) {
	cleanup := context.WithoutCancel(ctx)
	if err := s.Warehouse.DropTable(cleanup, tableName); err != nil {
		s.Logger.ErrorContext(ctx, "drop orphaned dataset table failed", slog.String("table", tableName), slog.Any("error", err))
	}
	if archiveKey == "" || s.Archive == nil {
		return
	}
	if err := s.Archive.Delete(cleanup, archiveKey); err != nil {
		s.Logger.ErrorContext(ctx, "delete orphaned dataset source failed", slog.String("key", archiveKey), slog.Any("error", err))
	}
}

type spooledUpload struct {
	path string
	size int64
	head []byte
}

func (u *spooledUpload) remove() {
	_ = os.Remove(u.path)
}

// spoolUpload copies the body to a temp file because DuckDB's readers take a
// path, not a stream.
func (s *Service) spoolUpload(body io.Reader) (*spooledUpload, error) {
	file, err := os.CreateTemp(s.SpoolDir, "querylens-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload spool: %w", err)
	}
	upload := &spooledUpload{path: file.Name()}

	size, err := io.Copy(file, body)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		upload.remove()
		return nil, fmt.Errorf("%w: read upload: %w", ErrIngestion, err)
	}
	upload.size = size

	head, err := readHead(upload.path, formatSniffBytes)
	if err != nil {
		upload.remove()
		return nil, fmt.Errorf("read upload header: %w", err)
	}
	upload.head = head
	return upload, nil
}

func readHead(path string, n int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}
