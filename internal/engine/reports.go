package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/catalog"
)

type SaveReportInput struct {
	UserID     string
	SQL        string
	DurationMs *float64
	Status     string
}

// SaveReport stores a statement the user wants to keep. Reports are never
// executed.
func (s *Service) SaveReport(ctx context.Context, in SaveReportInput) (catalog.Report, error) {
	if strings.TrimSpace(in.SQL) == "" {
		return catalog.Report{}, fmt.Errorf("%w: sql is required", ErrInvalidInput)
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = catalog.ReportStatusSuccess
	}
	if status != catalog.ReportStatusSuccess && status != catalog.ReportStatusFailed {
		return catalog.Report{}, fmt.Errorf("%w: status must be %q or %q", ErrInvalidInput, catalog.ReportStatusSuccess, catalog.ReportStatusFailed)
	}
	if in.DurationMs != nil && *in.DurationMs < 0 {
		return catalog.Report{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
	}

	report, err := s.Catalog.CreateReport(ctx, catalog.CreateReportInput{
		UserID:     in.UserID,
		SQL:        strings.TrimSpace(in.SQL),
		DurationMs: in.DurationMs,
		Status:     status,
	})
	if err != nil {
		return catalog.Report{}, fmt.Errorf("save report: %w", err)
	}
	return report, nil
}

func (s *Service) ListReports(ctx context.Context, userID string) ([]catalog.Report, error) {
	reports, err := s.Catalog.ListReports(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}
