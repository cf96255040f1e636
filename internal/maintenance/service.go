package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTablePrefix matches the names the engine gives dataset tables.
const DefaultTablePrefix = "dataset_"

type Catalog interface {
	ListTableNames(ctx context.Context) ([]string, error)
}

type Warehouse interface {
	ListTables(ctx context.Context, prefix string) ([]string, error)
	DropTable(ctx context.Context, tableName string) error
}

type Config struct {
	Interval        time.Duration
	OrphanSafetyAge time.Duration
	TablePrefix     string
}

// Service reconciles the warehouse against the catalog. A table no dataset
// owns is dropped once it has stayed orphaned for OrphanSafetyAge, which
// leaves in-flight uploads alone until their catalog row commits.
type Service struct {
	Catalog   Catalog
	Warehouse Warehouse
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

type ReconcileSummary struct {
	WarehouseTables int      `json:"warehouse_tables"`
	CatalogTables   int      `json:"catalog_tables"`
	OrphansPending  int      `json:"orphans_pending"`
	OrphansDropped  int      `json:"orphans_dropped"`
	MissingTables   []string `json:"missing_tables,omitempty"`
	Failures        int      `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Config.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunReconcileOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "reconcile cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "reconcile cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunReconcileOnce performs a single pass. The warehouse is listed before the
// catalog so an upload that commits between the two reads is never mistaken
// for an orphan.
func (s *Service) RunReconcileOnce(ctx context.Context) (ReconcileSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return ReconcileSummary{}, fmt.Errorf("catalog is required")
	}
	if s.Warehouse == nil {
		return ReconcileSummary{}, fmt.Errorf("warehouse is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, err := s.Warehouse.ListTables(ctx, s.Config.TablePrefix)
	if err != nil {
		reconcileRunsTotal.WithLabelValues("failed").Inc()
		return ReconcileSummary{}, fmt.Errorf("list warehouse tables: %w", err)
	}
	owned, err := s.Catalog.ListTableNames(ctx)
	if err != nil {
		reconcileRunsTotal.WithLabelValues("failed").Inc()
		return ReconcileSummary{}, fmt.Errorf("list catalog tables: %w", err)
	}

	summary := ReconcileSummary{WarehouseTables: len(tables), CatalogTables: len(owned)}
	ownedSet := make(map[string]struct{}, len(owned))
	for _, name := range owned {
		ownedSet[strings.ToLower(name)] = struct{}{}
	}
	present := make(map[string]struct{}, len(tables))
	for _, name := range tables {
		present[strings.ToLower(name)] = struct{}{}
	}

	for _, name := range owned {
		if !strings.HasPrefix(name, s.Config.TablePrefix) {
			continue
		}
		if _, ok := present[strings.ToLower(name)]; !ok {
			summary.MissingTables = append(summary.MissingTables, name)
		}
	}
	sort.Strings(summary.MissingTables)
	missingTablesGauge.Set(float64(len(summary.MissingTables)))
	if len(summary.MissingTables) > 0 && s.Logger != nil {
		s.Logger.WarnContext(ctx, "datasets without warehouse tables", slog.Any("tables", summary.MissingTables))
	}

	now := s.Clock()
	stillOrphaned := make(map[string]time.Time)
	var issues []string
	for _, name := range tables {
		if _, ok := ownedSet[strings.ToLower(name)]; ok {
			continue
		}
		seen, ok := s.firstSeen[name]
		if !ok {
			seen = now
		}
		if now.Sub(seen) < s.Config.OrphanSafetyAge {
			stillOrphaned[name] = seen
			summary.OrphansPending++
			continue
		}
		if err := s.Warehouse.DropTable(ctx, name); err != nil {
			stillOrphaned[name] = seen
			summary.Failures++
			issues = append(issues, fmt.Sprintf("drop %s: %v", name, err))
			continue
		}
		summary.OrphansDropped++
		if s.Logger != nil {
			s.Logger.InfoContext(ctx, "dropped orphaned warehouse table",
				slog.String("table", name),
				slog.Time("first_seen", seen),
			)
		}
	}
	s.firstSeen = stillOrphaned

	if summary.OrphansDropped > 0 {
		orphanTablesDroppedTotal.Add(float64(summary.OrphansDropped))
	}
	if summary.Failures > 0 {
		reconcileRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("reconcile found %d failure(s): %s", summary.Failures, strings.Join(issues, "; "))
	}
	reconcileRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.TablePrefix == "" {
		s.Config.TablePrefix = DefaultTablePrefix
	}
	if s.Config.OrphanSafetyAge < 0 {
		s.Config.OrphanSafetyAge = 0
	}
	if s.firstSeen == nil {
		s.firstSeen = make(map[string]time.Time)
	}
}
