package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/remote"
	"github.com/lojahub/lojasync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testRig struct {
	engine *Engine
	local  *store.Local
	remote *remote.Client
	cache  cache.Cache
	bus    *bus.Bus
}

func newTestRig(t *testing.T, feedURL string) *testRig {
	t.Helper()
	logger := zap.NewNop()

	local, err := store.NewLocal(logger, filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	rc, err := remote.New(logger, &config.RemoteConfig{
		Type:    "sqlite",
		DSN:     filepath.Join(t.TempDir(), "cloud.db"),
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	c := cache.NewMemoryCache(logger)
	b := bus.New(logger, nil)

	cfg := config.SyncConfig{
		Interval: time.Minute,
		Lojas:    []string{"loja-1"},
		Feed:     config.FeedConfig{URL: feedURL, Timeout: 2 * time.Second},
	}

	return &testRig{
		engine: NewEngine(logger, cfg, local, rc, c, b, nil),
		local:  local,
		remote: rc,
		cache:  c,
		bus:    b,
	}
}

func collectEvents(b *bus.Bus) *[]bus.Event {
	var events []bus.Event
	b.Subscribe(func(evt bus.Event) { events = append(events, evt) })
	return &events
}

func refreshedTables(events []bus.Event) []string {
	var tables []string
	for _, evt := range events {
		if evt.Name == cnst.EventRefreshData {
			tables = append(tables, evt.Table)
		}
	}
	return tables
}

func TestPullAll_MergesRemoteRowsAndPublishes(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	// Two visits live only in the cloud.
	for _, v := range []store.Visita{
		{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: 100},
		{ID: "v2", LojaID: "loja-1", Cliente: "Bia", VendedorSDR: "sdr_maria", UpdatedAtMs: 100},
	} {
		row := v
		require.NoError(t, store.Upsert(ctx, rig.remote.Store(), &row))
	}

	events := collectEvents(rig.bus)
	require.NoError(t, rig.engine.PullAll(ctx, "loja-1"))

	rows, err := rig.local.ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Equal(t, []string{cnst.TableVisitas}, refreshedTables(*events))

	last := (*events)[len(*events)-1]
	assert.Equal(t, cnst.EventSyncStatus, last.Name)
	assert.Contains(t, string(last.Payload), `"success":true`)
}

func TestPullAll_SecondRunPublishesNoRefresh(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	v := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.remote.Store(), &v))
	require.NoError(t, rig.engine.PullAll(ctx, "loja-1"))

	events := collectEvents(rig.bus)
	require.NoError(t, rig.engine.PullAll(ctx, "loja-1"))
	assert.Empty(t, refreshedTables(*events), "unchanged tables must not broadcast")
}

func TestPullAll_MissingLoja(t *testing.T) {
	rig := newTestRig(t, "")
	assert.ErrorIs(t, rig.engine.PullAll(context.Background(), ""), cnst.ErrMissingLoja)
}

func TestFlushPending_PushesQueuedWrites(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	v := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: store.NowVersion()}
	require.NoError(t, store.UpsertQueued(ctx, rig.local, cnst.TableVisitas, &v))

	require.NoError(t, rig.engine.FlushPending(ctx, "loja-1"))

	remoteRows, err := rig.remote.Store().ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, remoteRows, 1)

	ops, err := rig.local.PendingOps(ctx, "loja-1")
	require.NoError(t, err)
	assert.Empty(t, ops, "queue must drain after a successful push")
}

func TestFlushPending_RemoteDownKeepsQueue(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	v := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: store.NowVersion()}
	require.NoError(t, store.UpsertQueued(ctx, rig.local, cnst.TableVisitas, &v))

	// Kill the remote connection; the push must fail softly.
	require.NoError(t, rig.remote.Close())
	require.NoError(t, rig.engine.FlushPending(ctx, "loja-1"))

	ops, err := rig.local.PendingOps(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 1, ops[0].Attempts)

	// Local state is untouched: the writer's device keeps its edit.
	got, err := rig.local.GetVisita(ctx, "loja-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Cliente)
}

func TestPullAll_LocalWriteWinsOverStaleRemote(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	stale := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Versão remota antiga", VendedorSDR: "sdr_joao", UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.remote.Store(), &stale))

	edited := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Editado offline", VendedorSDR: "sdr_joao", UpdatedAtMs: 200}
	require.NoError(t, store.UpsertQueued(ctx, rig.local, cnst.TableVisitas, &edited))

	require.NoError(t, rig.engine.PullAll(ctx, "loja-1"))

	localRow, err := rig.local.GetVisita(ctx, "loja-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Editado offline", localRow.Cliente)

	remoteRow, err := rig.remote.Store().GetVisita(ctx, "loja-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Editado offline", remoteRow.Cliente)
}

func TestPullAll_PropagatesRemoteDeletion(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	// The same visit exists on this replica and in the cloud.
	v := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.local.Store, &v))
	require.NoError(t, store.Upsert(ctx, rig.remote.Store(), &v))

	// Another replica deletes it; its queued delete reaches the cloud.
	require.NoError(t, rig.remote.Apply(ctx, store.PendingOp{
		Table: cnst.TableVisitas, Op: store.OpDelete, Key: "v1", LojaID: "loja-1",
	}))

	events := collectEvents(rig.bus)
	require.NoError(t, rig.engine.PullAll(ctx, "loja-1"))

	rows, err := rig.local.ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Empty(t, rows, "a row deleted elsewhere must disappear here too")

	assert.Contains(t, refreshedTables(*events), cnst.TableVisitas)
}

func TestPullAll_RemoteDownKeepsLocalRows(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	v := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", UpdatedAtMs: store.NowVersion()}
	require.NoError(t, store.UpsertQueued(ctx, rig.local, cnst.TableVisitas, &v))

	// A dead link must never make an unpushed local row look like a
	// remote deletion.
	require.NoError(t, rig.remote.Close())
	assert.Error(t, rig.engine.PullAll(ctx, "loja-1"))

	rows, err := rig.local.ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	ops, err := rig.local.PendingOps(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestMigrateAll_IdempotentAcrossRuns(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()

	// History on both sides.
	localOnly := store.Nota{ID: "n1", LojaID: "loja-1", SDRUsername: "sdr_joao", Texto: "local", UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.local.Store, &localOnly))
	remoteOnly := store.Visita{ID: "v1", LojaID: "loja-1", Cliente: "remota", VendedorSDR: "sdr_maria", UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.remote.Store(), &remoteOnly))

	first := rig.engine.MigrateAll(ctx)
	require.True(t, first.Success, first.Message)

	localVisitas, err := rig.local.ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, localVisitas, 1)
	remoteNotas, err := rig.remote.Store().ListNotas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, remoteNotas, 1)

	second := rig.engine.MigrateAll(ctx)
	require.True(t, second.Success, second.Message)
	assert.Contains(t, second.Message, "0 registros enviados, 0 recebidos",
		"a second run must find nothing left to move")
}

func TestMigrateAll_NoLojas(t *testing.T) {
	rig := newTestRig(t, "")
	rig.engine.cfg.Lojas = nil
	res := rig.engine.MigrateAll(context.Background())
	assert.False(t, res.Success)
}
