package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/warehouse"
)

const uploadFormField = "file"

type datasetResponse struct {
	DatasetID    int64     `json:"dataset_id"`
	Name         string    `json:"name"`
	TableName    string    `json:"table_name"`
	SourceFormat string    `json:"source_format"`
	RowCount     int64     `json:"row_count"`
	ColumnCount  int       `json:"column_count"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
}

type schemaResponse struct {
	Dataset datasetResponse    `json:"dataset"`
	Columns []warehouse.Column `json:"columns"`
	Sample  []map[string]any   `json:"sample"`
}

func toDatasetResponse(d catalog.Dataset) datasetResponse {
	return datasetResponse{
		DatasetID:    d.DatasetID,
		Name:         d.Name,
		TableName:    d.TableName,
		SourceFormat: d.SourceFormat,
		RowCount:     d.RowCount,
		ColumnCount:  d.ColumnCount,
		Archived:     d.ArchiveKey != "",
		CreatedAt:    d.CreatedAt,
	}
}

// handleIngestDataset accepts a multipart upload with the file in the "file"
// part and an optional "name" field.
func handleIngestDataset(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.HTTP.MaxUploadBytes))

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_INPUT", "request must be multipart/form-data", false, map[string]any{"details": err.Error()})
		return
	}

	// Parts may arrive in any order, so the file is spooled until the name
	// has been seen.
	var (
		name     string
		fileName string
		spool    *os.File
	)
	defer func() {
		if spool != nil {
			_ = spool.Close()
			_ = os.Remove(spool.Name())
		}
	}()
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeServiceError(deps, w, r, fmt.Errorf("%w: read multipart: %w", engine.ErrInvalidInput, err))
			return
		}
		switch part.FormName() {
		case "name":
			raw, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				writeServiceError(deps, w, r, fmt.Errorf("%w: read name: %w", engine.ErrInvalidInput, err))
				return
			}
			name = strings.TrimSpace(string(raw))
		case uploadFormField:
			if spool != nil {
				writeError(r.Context(), w, http.StatusBadRequest, "INVALID_INPUT", "only one file may be uploaded per request", false, nil)
				return
			}
			spool, err = os.CreateTemp(cfg.Warehouse.TempDir, "querylens-upload-*")
			if err != nil {
				writeServiceError(deps, w, r, fmt.Errorf("create upload spool: %w", err))
				return
			}
			fileName = path.Base(part.FileName())
			if _, err := io.Copy(spool, part); err != nil {
				writeServiceError(deps, w, r, fmt.Errorf("%w: read upload: %w", engine.ErrInvalidInput, err))
				return
			}
		}
		_ = part.Close()
	}

	if spool == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("multipart field %q is required", uploadFormField), false, nil)
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		writeServiceError(deps, w, r, fmt.Errorf("rewind upload spool: %w", err))
		return
	}
	dataset, err := deps.Engine.IngestDataset(r.Context(), engine.IngestInput{
		UserID:   userID,
		Name:     name,
		FileName: fileName,
		Body:     spool,
	})
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "dataset uploaded",
			slog.Int64("dataset_id", dataset.DatasetID),
			slog.String("table", dataset.TableName),
			slog.Int64("rows", dataset.RowCount),
		)
	}
	writeJSON(w, http.StatusCreated, toDatasetResponse(dataset))
}

func handleListDatasets(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	datasets, err := deps.Engine.ListDatasets(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	out := make([]datasetResponse, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, toDatasetResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func handleGetDataset(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	dataset, err := deps.Engine.GetDataset(r.Context(), userID, id)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(dataset))
}

func handleDescribeDataset(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	schema, err := deps.Engine.DescribeDataset(r.Context(), userID, id)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	columns := schema.Columns
	if columns == nil {
		columns = []warehouse.Column{}
	}
	sample := schema.Sample
	if sample == nil {
		sample = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Dataset: toDatasetResponse(schema.Dataset),
		Columns: columns,
		Sample:  sample,
	})
}

func handleDeleteDataset(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := deps.Engine.DeleteDataset(r.Context(), userID, id); err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDatasetSource streams the archived upload back to its owner.
func handleDatasetSource(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, dataset, err := deps.Engine.OpenDatasetSource(r.Context(), userID, id)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	format := warehouse.Format(dataset.SourceFormat)
	w.Header().Set("Content-Type", storage.ContentTypeFor(format.Extension()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dataset.TableName+format.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "stream dataset source failed", slog.Int64("dataset_id", id), slog.Any("error", err))
	}
}
