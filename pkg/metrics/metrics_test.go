package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordUnreadPollHasNoPerUserSeries(t *testing.T) {
	ok := testutil.ToFloat64(UnreadPollsTotal.WithLabelValues("ok"))
	failed := testutil.ToFloat64(UnreadPollsTotal.WithLabelValues("error"))

	RecordUnreadPoll(3, nil)
	RecordUnreadPoll(7, nil)
	RecordUnreadPoll(0, errors.New("down"))

	require.Equal(t, ok+2, testutil.ToFloat64(UnreadPollsTotal.WithLabelValues("ok")))
	require.Equal(t, failed+1, testutil.ToFloat64(UnreadPollsTotal.WithLabelValues("error")))
	// One histogram, whatever the number of users polling.
	require.Equal(t, 1, testutil.CollectAndCount(UnreadCounts))
}
