package observability

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
)

// ContentCounts is a point-in-time census of stored entities, mirrored into
// the business gauges.
type ContentCounts struct {
	ContentTypes     int64
	DraftEntries     int64
	PublishedEntries int64
	ArchivedEntries  int64
	Users            int64
	APIKeys          int64
}

// StatsFunc fetches the current entity counts from storage.
type StatsFunc func(ctx context.Context) (ContentCounts, error)

// StatsRefresher periodically refreshes the business and connection pool
// gauges on a cron schedule.
type StatsRefresher struct {
	cron    *cron.Cron
	metrics *Metrics
	logger  *Logger
	fetch   StatsFunc
	db      *sql.DB
}

// NewStatsRefresher creates a refresher. db may be nil; its pool gauges are
// then skipped.
func NewStatsRefresher(metrics *Metrics, logger *Logger, fetch StatsFunc, db *sql.DB) *StatsRefresher {
	return &StatsRefresher{
		cron:    cron.New(),
		metrics: metrics,
		logger:  logger,
		fetch:   fetch,
		db:      db,
	}
}

// Start registers the refresh job under the given cron schedule (for example
// "@every 1m") and starts the scheduler. An empty schedule disables the
// refresher.
func (r *StatsRefresher) Start(schedule string) error {
	if schedule == "" {
		r.logger.Info("Stats refresher disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(schedule, r.refresh); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Infof("Stats refresher started with schedule %q", schedule)

	// Prime the gauges so scrapes before the first tick see real values.
	go r.refresh()
	return nil
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (r *StatsRefresher) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *StatsRefresher) refresh() {
	defer RecoverPanic(r.logger, "stats refresher")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := r.fetch(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to refresh content stats")
		return
	}

	r.metrics.ContentTypesTotal.Set(float64(counts.ContentTypes))
	r.metrics.EntriesTotal.WithLabelValues("DRAFT").Set(float64(counts.DraftEntries))
	r.metrics.EntriesTotal.WithLabelValues("PUBLISHED").Set(float64(counts.PublishedEntries))
	r.metrics.EntriesTotal.WithLabelValues("ARCHIVED").Set(float64(counts.ArchivedEntries))
	r.metrics.UsersTotal.Set(float64(counts.Users))
	r.metrics.APIKeysTotal.Set(float64(counts.APIKeys))

	if r.db != nil {
		stats := r.db.Stats()
		r.metrics.DBConnectionsActive.Set(float64(stats.InUse))
		r.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		r.metrics.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
		r.metrics.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
	}
}
