// Package analytics derives per-user summaries from stored query records.
// Every function is pure; callers pass one user's records.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/querylens/querylens/internal/catalog"
)

const (
	VolumeDays       = 7
	DefaultRecent    = 5
	fastThresholdMs  = 100
	slowThresholdMs  = 300
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	BucketFast       = "<100ms"
	BucketModerate   = "100-300ms"
	BucketSlow       = ">300ms"
	isoDateLayout    = "2006-01-02"
	weekdayLabelSize = 3
)

type Overview struct {
	TotalQueries  int     `json:"total_queries"`
	FailedQueries int     `json:"failed_queries"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

type VolumePoint struct {
	Date    string `json:"date"`
	Day     string `json:"day"`
	Queries int    `json:"queries"`
}

type Bucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

type RecentQuery struct {
	QueryID    int64     `json:"query_id"`
	DatasetID  int64     `json:"dataset_id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	DurationMs *float64  `json:"duration_ms"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ComputeOverview counts records with no duration as failed and averages the
// rest.
func ComputeOverview(records []catalog.QueryRecord) Overview {
	out := Overview{TotalQueries: len(records)}
	var sum float64
	var timed int
	for _, record := range records {
		if record.DurationMs == nil {
			out.FailedQueries++
			continue
		}
		sum += *record.DurationMs
		timed++
	}
	if timed > 0 {
		out.AvgDurationMs = RoundMs(sum / float64(timed))
	}
	return out
}

// VolumeSeries returns one point per calendar day in loc, ending with the day
// containing now. Days without records are present with a zero count.
func VolumeSeries(records []catalog.QueryRecord, now time.Time, loc *time.Location) []VolumePoint {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	points := make([]VolumePoint, VolumeDays)
	index := make(map[string]int, VolumeDays)
	for i := 0; i < VolumeDays; i++ {
		day := today.AddDate(0, 0, i-(VolumeDays-1))
		key := day.Format(isoDateLayout)
		points[i] = VolumePoint{Date: key, Day: day.Weekday().String()[:weekdayLabelSize]}
		index[key] = i
	}
	for _, record := range records {
		key := record.CreatedAt.In(loc).Format(isoDateLayout)
		if i, ok := index[key]; ok {
			points[i].Queries++
		}
	}
	return points
}

// SeriesStart is the earliest instant VolumeSeries can count, so callers can
// bound the records they load.
func SeriesStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -(VolumeDays - 1))
}

// PerformanceHistogram partitions every timed record into exactly one of
// three buckets; the middle bucket includes both bounds.
func PerformanceHistogram(records []catalog.QueryRecord) []Bucket {
	buckets := []Bucket{{Bucket: BucketFast}, {Bucket: BucketModerate}, {Bucket: BucketSlow}}
	for _, record := range records {
		if record.DurationMs == nil {
			continue
		}
		buckets[bucketIndex(*record.DurationMs)].Count++
	}
	return buckets
}

func bucketIndex(ms float64) int {
	switch {
	case ms < fastThresholdMs:
		return 0
	case ms <= slowThresholdMs:
		return 1
	default:
		return 2
	}
}

// RecentQueries returns the n newest records, newest first.
func RecentQueries(records []catalog.QueryRecord, n int) []RecentQuery {
	if n <= 0 {
		n = DefaultRecent
	}
	sorted := make([]catalog.QueryRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].QueryID > sorted[j].QueryID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]RecentQuery, 0, len(sorted))
	for _, record := range sorted {
		out = append(out, RecentQuery{
			QueryID:    record.QueryID,
			DatasetID:  record.DatasetID,
			Question:   record.Question,
			SQL:        record.SQL,
			DurationMs: record.DurationMs,
			Status:     StatusOf(record),
			CreatedAt:  record.CreatedAt,
		})
	}
	return out
}

func StatusOf(record catalog.QueryRecord) string {
	if record.Succeeded() {
		return StatusSuccess
	}
	return StatusFailed
}

// RoundMs rounds a millisecond value to two decimals.
func RoundMs(ms float64) float64 {
	return math.Round(ms*100) / 100
}
