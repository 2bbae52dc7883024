package phrasetrie

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// See package metrics/prom for a Prometheus implementation.
type MetricsCollector interface {
	// RecordInsert is called after each insert.
	// err is nil if the phrase was inserted.
	RecordInsert(duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordQuery is called after each query with the number of traversals
	// started and the number of distinct phrases reported.
	RecordQuery(duration time.Duration, offsets, matches int)

	// RecordMalformed is called for every protocol line that is not a command.
	RecordMalformed()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)   {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)   {}
func (NoopMetricsCollector) RecordQuery(time.Duration, int, int) {}
func (NoopMetricsCollector) RecordMalformed()                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryTotalNanos  atomic.Int64
	QueryOffsets     atomic.Int64
	QueryMatches     atomic.Int64
	MalformedCount   atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, offsets, matches int) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.QueryOffsets.Add(int64(offsets))
	b.QueryMatches.Add(int64(matches))
}

// RecordMalformed implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMalformed() {
	b.MalformedCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		QueryCount:     b.QueryCount.Load(),
		QueryAvgNanos:  avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		QueryOffsets:   b.QueryOffsets.Load(),
		QueryMatches:   b.QueryMatches.Load(),
		MalformedCount: b.MalformedCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	DeleteCount    int64
	DeleteErrors   int64
	QueryCount     int64
	QueryAvgNanos  int64
	QueryOffsets   int64
	QueryMatches   int64
	MalformedCount int64
}
