package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories enumerates every backend the shared conformance suite runs
// against. Redis and gorm are added by their own files via init-style
// helpers so their dependencies stay in one place.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": newTestRedisStore,
		"sql":   newTestGormStore,
	}
}

func cp(threadID string, version int) *Checkpoint {
	return &Checkpoint{
		ThreadID:      threadID,
		Version:       version,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
		ChannelValues: map[string]any{"topic": "t", "step": float64(version)},
		Metadata:      map[string]any{"source": "test"},
	}
}

func TestStoreConformance(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get latest", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				require.NoError(t, store.Put(ctx, cp("th-1", 0)))
				require.NoError(t, store.Put(ctx, cp("th-1", 1)))

				got, err := store.GetLatest(ctx, "th-1")
				require.NoError(t, err)
				assert.Equal(t, 1, got.Version)
				assert.Equal(t, "t", got.ChannelValues["topic"])
			})

			t.Run("duplicate version conflicts", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				require.NoError(t, store.Put(ctx, cp("th-1", 0)))
				err := store.Put(ctx, cp("th-1", 0))
				assert.ErrorIs(t, err, ErrVersionConflict)
			})

			t.Run("gap rejected", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				require.NoError(t, store.Put(ctx, cp("th-1", 0)))
				err := store.Put(ctx, cp("th-1", 2))
				assert.ErrorIs(t, err, ErrVersionConflict)
			})

			t.Run("chain must start at zero", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				err := store.Put(context.Background(), cp("th-1", 1))
				assert.ErrorIs(t, err, ErrVersionConflict)
			})

			t.Run("get latest on unknown thread", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				_, err := store.GetLatest(context.Background(), "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("get by version", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				for v := 0; v < 3; v++ {
					require.NoError(t, store.Put(ctx, cp("th-1", v)))
				}

				got, err := store.GetByVersion(ctx, "th-1", 1)
				require.NoError(t, err)
				assert.Equal(t, 1, got.Version)

				_, err = store.GetByVersion(ctx, "th-1", 9)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list newest first with limit", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				for v := 0; v < 5; v++ {
					require.NoError(t, store.Put(ctx, cp("th-1", v)))
				}

				var versions []int
				for got, err := range store.List(ctx, "th-1", 3) {
					require.NoError(t, err)
					versions = append(versions, got.Version)
				}
				assert.Equal(t, []int{4, 3, 2}, versions)

				versions = versions[:0]
				for got, err := range store.List(ctx, "th-1", 0) {
					require.NoError(t, err)
					versions = append(versions, got.Version)
				}
				assert.Equal(t, []int{4, 3, 2, 1, 0}, versions)
			})

			t.Run("pending writes round trip", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				in := cp("th-1", 0)
				in.PendingWrites = []PendingWrite{{
					Channel: "__interrupt__",
					Value:   map[string]any{"interrupt_id": "i-1", "action": "research"},
				}}
				require.NoError(t, store.Put(ctx, in))

				got, err := store.GetLatest(ctx, "th-1")
				require.NoError(t, err)
				require.Len(t, got.PendingWrites, 1)
				assert.Equal(t, "__interrupt__", got.PendingWrites[0].Channel)
				assert.Equal(t, "i-1", got.PendingWrites[0].Value["interrupt_id"])
			})

			t.Run("invalid input rejected", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				assert.ErrorIs(t, store.Put(ctx, nil), ErrInvalidInput)
				assert.ErrorIs(t, store.Put(ctx, &Checkpoint{Version: 0}), ErrInvalidInput)
				assert.ErrorIs(t, store.Put(ctx, &Checkpoint{ThreadID: "x", Version: -1}), ErrInvalidInput)
			})

			t.Run("thread info lifecycle", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				info := &ThreadInfo{
					ThreadID: "th-1",
					UserID:   "user-1",
					Topic:    "topic",
					Status:   StatusRunning,
				}
				require.NoError(t, store.PutThreadInfo(ctx, info))

				got, err := store.GetThreadInfo(ctx, "th-1")
				require.NoError(t, err)
				assert.Equal(t, StatusRunning, got.Status)
				assert.Equal(t, "user-1", got.UserID)

				require.NoError(t, store.SetThreadStatus(ctx, "th-1", StatusPaused))
				got, err = store.GetThreadInfo(ctx, "th-1")
				require.NoError(t, err)
				assert.Equal(t, StatusPaused, got.Status)

				_, err = store.GetThreadInfo(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list threads by user", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				for _, ti := range []*ThreadInfo{
					{ThreadID: "a", UserID: "u1", Status: StatusRunning},
					{ThreadID: "b", UserID: "u1", Status: StatusCompleted},
					{ThreadID: "c", UserID: "u2", Status: StatusRunning},
				} {
					require.NoError(t, store.PutThreadInfo(ctx, ti))
				}

				infos, err := store.ListThreadsByUser(ctx, "u1")
				require.NoError(t, err)
				require.Len(t, infos, 2)
				ids := []string{infos[0].ThreadID, infos[1].ThreadID}
				assert.ElementsMatch(t, []string{"a", "b"}, ids)

				infos, err = store.ListThreadsByUser(ctx, "nobody")
				require.NoError(t, err)
				assert.Empty(t, infos)
			})

			t.Run("delete thread", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				require.NoError(t, store.Put(ctx, cp("th-1", 0)))
				require.NoError(t, store.PutThreadInfo(ctx, &ThreadInfo{ThreadID: "th-1", Status: StatusRunning}))

				require.NoError(t, store.DeleteThread(ctx, "th-1"))

				_, err := store.GetLatest(ctx, "th-1")
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = store.GetThreadInfo(ctx, "th-1")
				assert.ErrorIs(t, err, ErrNotFound)

				// The chain restarts from zero after deletion.
				require.NoError(t, store.Put(ctx, cp("th-1", 0)))
			})
		})
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Put(context.Background(), cp("th", 0)), ErrStoreClosed)
	_, err := store.GetLatest(context.Background(), "th")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	in := cp("th", 0)
	require.NoError(t, store.Put(ctx, in))
	in.ChannelValues["topic"] = "mutated after put"

	got, err := store.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, "t", got.ChannelValues["topic"])

	got.ChannelValues["topic"] = "mutated after get"
	again, err := store.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, "t", again.ChannelValues["topic"])
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, cp("th", 0)))
	require.NoError(t, store.Put(ctx, cp("th", 1)))
	require.NoError(t, store.PutThreadInfo(ctx, &ThreadInfo{ThreadID: "th", Status: StatusPaused}))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	info, err := reopened.GetThreadInfo(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, info.Status)

	// Version continuity holds across the reopen.
	assert.ErrorIs(t, reopened.Put(ctx, cp("th", 1)), ErrVersionConflict)
	require.NoError(t, reopened.Put(ctx, cp("th", 2)))
}

func TestConcurrentPutSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, cp("th", 0)))

	const writers = 16
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			errs <- store.Put(ctx, cp("th", 1))
		}()
	}

	var wins, conflicts int
	for i := 0; i < writers; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}
