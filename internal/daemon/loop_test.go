package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/ampa/internal/scheduler"
	"github.com/metalagman/ampa/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostAuditPassHonorsInFlightClaim(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "scheduler_store.json"))
	_, err := st.Mutate(func(doc *store.Document) error {
		doc.Commands["delegation"] = store.Command{
			CommandID: "delegation",
			Type:      store.TypeDelegation,
			Interval:  store.Duration(15 * time.Minute),
		}
		require.True(t, doc.Claim("delegation", os.Getpid(), time.Now()))
		return nil
	})
	require.NoError(t, err)

	calls := 0
	sched := scheduler.New(st, scheduler.WithHandler(store.TypeDelegation,
		scheduler.HandlerFunc(func(ctx context.Context, cmd store.Command) store.CommandRun {
			calls++
			return store.CommandRun{CommandID: cmd.CommandID}
		})))

	// Another process holds the delegation slot: the pass must not dispatch.
	postAuditPass(context.Background(), sched, "delegation")
	assert.Zero(t, calls)

	_, err = st.Mutate(func(doc *store.Document) error {
		doc.Release("delegation")
		return nil
	})
	require.NoError(t, err)

	postAuditPass(context.Background(), sched, "delegation")
	assert.Equal(t, 1, calls)

	// The pass releases its own claim when done.
	doc, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.State.InFlight)
}

func TestPostAuditPassSkipsUnknownCommand(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "scheduler_store.json"))
	calls := 0
	sched := scheduler.New(st, scheduler.WithHandler(store.TypeDelegation,
		scheduler.HandlerFunc(func(ctx context.Context, cmd store.Command) store.CommandRun {
			calls++
			return store.CommandRun{CommandID: cmd.CommandID}
		})))

	postAuditPass(context.Background(), sched, "delegation")
	assert.Zero(t, calls)
}
