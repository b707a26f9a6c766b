package activity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanzelcast/internal/types"
)

func TestAppendOrdering(t *testing.T) {
	l := NewLog()
	l.Append(types.ActivitySessionPreparing, "")
	l.Append(types.ActivitySessionStarted, "stream confirmed")
	l.Append(types.ActivityRecordStopped, "")

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, types.ActivitySessionPreparing, all[0].Type)
	assert.Equal(t, types.ActivityRecordStopped, all[2].Type)

	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp),
			"timestamps must be non-decreasing")
	}
}

func TestAppendClampsBackwardsClock(t *testing.T) {
	l := NewLog()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	l.Append(types.ActivitySessionStarted, "")
	clock = base.Add(-time.Minute) // clock jumps backwards
	second := l.Append(types.ActivityStreamStopped, "")

	assert.Equal(t, base, second.Timestamp, "backwards clock must not invert ordering")
}

func TestQueryHelpers(t *testing.T) {
	l := NewLog()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	l.Append(types.ActivitySessionStarted, "")
	clock = base.Add(time.Minute)
	l.Append(types.ActivitySessionError, "connection lost")
	clock = base.Add(2 * time.Minute)
	l.Append(types.ActivitySessionError, "still down")

	assert.Equal(t, 3, l.Len())

	errs := l.ByType(types.ActivitySessionError)
	require.Len(t, errs, 2)
	assert.Equal(t, "connection lost", errs[0].Message)

	recent := l.Since(base.Add(90 * time.Second))
	require.Len(t, recent, 1)
	assert.Equal(t, "still down", recent[0].Message)

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "still down", last.Message)
}

func TestAllReturnsCopy(t *testing.T) {
	l := NewLog()
	l.Append(types.ActivitySessionStarted, "")

	all := l.All()
	all[0].Message = "mutated"

	fresh := l.All()
	assert.Empty(t, fresh[0].Message, "mutating the returned slice must not affect the log")
}

func TestExport(t *testing.T) {
	l := NewLog()
	l.Append(types.ActivitySessionStarted, "")
	l.Append(types.ActivityUploadCompleted, "video attached")

	path := filepath.Join(t.TempDir(), "activities.json")
	require.NoError(t, l.Export(context.Background(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []Activity
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, types.ActivityUploadCompleted, decoded[1].Type)
}
