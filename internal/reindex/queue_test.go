package reindex

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "reindex.db")}
	cfg.ApplyDefaults()
	database, err := db.Open(cfg, logger.NewNopLogger(), Migrations)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return New(database, nil, nil)
}

func request(family, id, event string) reduce.ReindexRequest {
	return reduce.ReindexRequest{
		Family:   family,
		EntityID: id,
		EventID:  reduce.EventID(event),
		Ordinal:  reduce.Ordinal{BlockNumber: 42, LogIndex: 3},
		Reason:   "revert beyond window",
	}
}

func TestQueue_ScheduleAndPending(t *testing.T) {
	ctx := t.Context()
	q := newTestQueue(t)

	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e1")))
	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e1")))
	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e2")))
	require.NoError(t, q.ScheduleReindex(ctx, request("order", "o", "e1")))

	tasks, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "a", tasks[0].EntityID)
	require.Equal(t, reduce.EventID("e1"), tasks[0].EventID)
	require.Equal(t, uint64(42), tasks[0].Ordinal.BlockNumber)
	require.False(t, tasks[0].CreatedAt.IsZero())

	limited, err := q.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	require.NoError(t, q.MarkDone(ctx, tasks[0]))
	tasks, err = q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// a finished request raised again is reopened
	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e1")))
	tasks, err = q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
}

func TestQueue_Drain(t *testing.T) {
	ctx := t.Context()
	q := newTestQueue(t)

	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e1")))
	require.NoError(t, q.ScheduleReindex(ctx, request("item", "a", "e2")))
	require.NoError(t, q.ScheduleReindex(ctx, request("item", "b", "e3")))
	require.NoError(t, q.ScheduleReindex(ctx, request("order", "o", "e1")))

	rebuilt := make(map[string][]string)
	done, err := q.Drain(ctx, 0, func(_ context.Context, family string, ids []string) error {
		rebuilt[family] = ids
		if family == "order" {
			return errors.New("order store down")
		}
		return nil
	})
	require.ErrorContains(t, err, "order store down")
	require.Equal(t, 3, done)
	require.Equal(t, []string{"a", "b"}, rebuilt["item"])
	require.Equal(t, []string{"o"}, rebuilt["order"])

	tasks, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "order", tasks[0].Family)
}
