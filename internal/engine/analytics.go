package engine

import (
	"context"
	"fmt"

	"github.com/querylens/querylens/internal/analytics"
	"github.com/querylens/querylens/internal/catalog"
)

func (s *Service) AnalyticsOverview(ctx context.Context, userID string) (analytics.Overview, error) {
	records, err := s.Catalog.ListQueryRecordsByUser(ctx, catalog.ListQueryRecordsInput{UserID: userID})
	if err != nil {
		return analytics.Overview{}, fmt.Errorf("load query records: %w", err)
	}
	return analytics.ComputeOverview(records), nil
}

func (s *Service) QueryVolume(ctx context.Context, userID string) ([]analytics.VolumePoint, error) {
	s.ensureDefaults()
	now := s.Clock()
	records, err := s.Catalog.ListQueryRecordsByUser(ctx, catalog.ListQueryRecordsInput{
		UserID: userID,
		Since:  analytics.SeriesStart(now, s.Location),
	})
	if err != nil {
		return nil, fmt.Errorf("load query records: %w", err)
	}
	return analytics.VolumeSeries(records, now, s.Location), nil
}

func (s *Service) PerformanceHistogram(ctx context.Context, userID string) ([]analytics.Bucket, error) {
	records, err := s.Catalog.ListQueryRecordsByUser(ctx, catalog.ListQueryRecordsInput{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("load query records: %w", err)
	}
	return analytics.PerformanceHistogram(records), nil
}

func (s *Service) RecentQueries(ctx context.Context, userID string) ([]analytics.RecentQuery, error) {
	records, err := s.Catalog.ListQueryRecordsByUser(ctx, catalog.ListQueryRecordsInput{
		UserID: userID,
		Limit:  analytics.DefaultRecent,
	})
	if err != nil {
		return nil, fmt.Errorf("load query records: %w", err)
	}
	return analytics.RecentQueries(records, analytics.DefaultRecent), nil
}
