// Package engine runs the dataset query pipeline: provisioning tables from
// uploads, turning questions into validated SQL, executing it and keeping an
// auditable record of every attempt.
package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/sqlguard"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/warehouse"
)

const (
	DefaultDatasetName      = "Untitled Dataset"
	defaultSchemaSampleRows = 5
	tableNamePrefix         = "dataset_"
	tableTokenLength        = 12
)

type SQLGenerator interface {
	Generate(ctx context.Context, req nl2sql.Request) (string, error)
}

type SQLValidator interface {
	Check(ctx context.Context, sql string, allowedTables ...string) error
}

// Service is safe for concurrent use once its fields are set. Archive is
// optional; without it uploads are not retained after loading.
type Service struct {
	Catalog      catalog.Repository
	Warehouse    warehouse.Warehouse
	Generator    SQLGenerator
	Validator    SQLValidator
	Archive      storage.ObjectStore
	Config       config.EngineConfig
	Location     *time.Location
	SpoolDir     string
	Logger       *slog.Logger
	Clock        func() time.Time
	NewTableName func() string

	defaultsOnce sync.Once
}

func (s *Service) ensureDefaults() {
	s.defaultsOnce.Do(s.applyDefaults)
}

func (s *Service) applyDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.Validator == nil {
		s.Validator = sqlguard.NewGuard(nil)
	}
	if s.NewTableName == nil {
		s.NewTableName = NewTableName
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Config.SchemaSampleRows <= 0 {
		s.Config.SchemaSampleRows = defaultSchemaSampleRows
	}
}

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.Catalog.HealthCheck(ctx); err != nil {
		return err
	}
	if err := s.Warehouse.HealthCheck(ctx); err != nil {
		return err
	}
	if s.Archive != nil {
		return s.Archive.HealthCheck(ctx)
	}
	return nil
}

// NewTableName returns dataset_ followed by 12 hex characters of a random
// UUID.
func NewTableName() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tableNamePrefix + token[:tableTokenLength]
}
