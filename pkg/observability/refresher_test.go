package observability

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRefresher_Refresh(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := NewLogger(ErrorLevel, io.Discard)

	fetch := func(ctx context.Context) (ContentCounts, error) {
		return ContentCounts{
			ContentTypes:     2,
			DraftEntries:     5,
			PublishedEntries: 3,
			ArchivedEntries:  1,
			Users:            4,
			APIKeys:          2,
		}, nil
	}

	refresher := NewStatsRefresher(metrics, logger, fetch, nil)
	refresher.refresh()

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ContentTypesTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.EntriesTotal.WithLabelValues("DRAFT")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.EntriesTotal.WithLabelValues("PUBLISHED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EntriesTotal.WithLabelValues("ARCHIVED")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.UsersTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.APIKeysTotal))
}

func TestStatsRefresher_FetchErrorLeavesGauges(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := NewLogger(ErrorLevel, io.Discard)
	metrics.ContentTypesTotal.Set(9)

	fetch := func(ctx context.Context) (ContentCounts, error) {
		return ContentCounts{}, errors.New("storage down")
	}

	refresher := NewStatsRefresher(metrics, logger, fetch, nil)
	refresher.refresh()

	assert.Equal(t, float64(9), testutil.ToFloat64(metrics.ContentTypesTotal))
}

func TestStatsRefresher_EmptyScheduleDisabled(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := NewLogger(ErrorLevel, io.Discard)
	refresher := NewStatsRefresher(metrics, logger, nil, nil)

	require.NoError(t, refresher.Start(""))
	require.NoError(t, refresher.Stop(context.Background()))
}

func TestStatsRefresher_BadSchedule(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := NewLogger(ErrorLevel, io.Discard)
	refresher := NewStatsRefresher(metrics, logger, nil, nil)

	assert.Error(t, refresher.Start("not a schedule"))
}
