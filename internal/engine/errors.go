package engine

import (
	"errors"

	"github.com/querylens/querylens/internal/catalog"
)

var (
	ErrIngestion       = errors.New("dataset ingestion failed")
	ErrStorageConflict = errors.New("dataset storage conflict")
	ErrExecution       = errors.New("query execution failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = catalog.ErrNotFound
)
