package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/gateway"
	"github.com/lojahub/lojasync/internal/remote"
	"github.com/lojahub/lojasync/internal/store"
	syncer "github.com/lojahub/lojasync/internal/sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	sdrSession   = gateway.Session{Username: "sdr_joao", Role: cnst.RoleSDR, LojaID: "loja-1"}
	adminSession = gateway.Session{Username: "chefe", Role: cnst.RoleAdmin, LojaID: "loja-1"}
)

type testRig struct {
	svc    *Service
	local  *store.Local
	cache  cache.Cache
	bus    *bus.Bus
	events *[]bus.Event
}

func newTestRig(t *testing.T) *testRig {
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
	gw := gateway.New(logger, local)
	engine := syncer.NewEngine(logger, config.SyncConfig{
		Interval: time.Minute,
		Lojas:    []string{"loja-1"},
	}, local, rc, c, b, nil)
	loader := cache.NewLoader(logger, c, nil)

	var events []bus.Event
	b.Subscribe(func(evt bus.Event) { events = append(events, evt) })

	return &testRig{
		svc:    New(logger, local, gw, engine, loader, b),
		local:  local,
		cache:  c,
		bus:    b,
		events: &events,
	}
}

func (r *testRig) seedVisitas(t *testing.T) {
	t.Helper()
	for _, v := range []store.Visita{
		{ID: "v1", LojaID: "loja-1", Cliente: "Ana", VendedorSDR: "sdr_joao", StatusPipeline: cnst.PipelineAgendado, UpdatedAtMs: 100},
		{ID: "v2", LojaID: "loja-1", Cliente: "Bia", VendedorSDR: "sdr_joao", StatusPipeline: cnst.PipelineAgendado, UpdatedAtMs: 100},
		{ID: "v3", LojaID: "loja-1", Cliente: "Caio", VendedorSDR: "sdr_maria", StatusPipeline: cnst.PipelineAgendado, UpdatedAtMs: 100},
	} {
		row := v
		require.NoError(t, store.Upsert(context.Background(), r.local.Store, &row))
	}
}

func (r *testRig) refreshCount(table string) int {
	n := 0
	for _, evt := range *r.events {
		if evt.Name == cnst.EventRefreshData && evt.Table == table {
			n++
		}
	}
	return n
}

func TestGetList_VisitsAlwaysScoped(t *testing.T) {
	rig := newTestRig(t)
	rig.seedVisitas(t)
	ctx := context.Background()

	own, err := rig.svc.GetList(ctx, sdrSession, cnst.TableVisitas)
	require.NoError(t, err)
	assert.Len(t, own, 2, "an SDR sees only the visits it owns")

	all, err := rig.svc.GetList(ctx, adminSession, cnst.TableVisitas)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetList_GenericTable(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	p := store.Portal{Nome: "Webmotors", LojaID: "loja-1", Ativo: true, UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.local.Store, &p))

	rows, err := rig.svc.GetList(ctx, sdrSession, cnst.TablePortais)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoadList_CachedThenFresh(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Cache still holds yesterday's single vehicle; the store has two.
	stale, err := json.Marshal([]store.Estoque{{ID: "e1", LojaID: "loja-1", Nome: "Gol"}})
	require.NoError(t, err)
	require.NoError(t, rig.cache.Set(ctx, cache.Key(cnst.TableEstoque, "loja-1"), stale))

	for _, id := range []string{"e1", "e2"} {
		row := store.Estoque{ID: id, LojaID: "loja-1", Nome: "Gol", Ativo: true, UpdatedAtMs: 100}
		require.NoError(t, store.Upsert(ctx, rig.local.Store, &row))
	}

	res, err := rig.svc.LoadList(ctx, sdrSession, cnst.TableEstoque)
	require.NoError(t, err)
	require.True(t, res.CacheHit)

	var cached []store.Estoque
	require.NoError(t, json.Unmarshal(res.Cached, &cached))
	assert.Len(t, cached, 1, "the stale value is served instantly")

	freshRaw, ok := <-res.Fresh
	require.True(t, ok)
	var fresh []store.Estoque
	require.NoError(t, json.Unmarshal(freshRaw, &fresh))
	assert.Len(t, fresh, 2)

	// Next load starts from the revalidated value.
	data, hit, err := rig.cache.Get(ctx, cache.Key(cnst.TableEstoque, "loja-1"))
	require.NoError(t, err)
	require.True(t, hit)
	assert.JSONEq(t, string(freshRaw), string(data))
}

func TestLoadList_ScopedTableBypassesCache(t *testing.T) {
	rig := newTestRig(t)
	rig.seedVisitas(t)
	ctx := context.Background()

	res, err := rig.svc.LoadList(ctx, sdrSession, cnst.TableVisitas)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)

	freshRaw, ok := <-res.Fresh
	require.True(t, ok)
	var fresh []store.Visita
	require.NoError(t, json.Unmarshal(freshRaw, &fresh))
	assert.Len(t, fresh, 2)

	_, hit, err := rig.cache.Get(ctx, cache.Key(cnst.TableVisitas, "loja-1"))
	require.NoError(t, err)
	assert.False(t, hit, "per-loja cache must never hold a user-scoped list")
}

func TestLoadList_MissingLoja(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.LoadList(context.Background(), gateway.Session{Username: "x", Role: cnst.RoleSDR}, cnst.TableEstoque)
	assert.ErrorIs(t, err, cnst.ErrMissingLoja)
}

func TestAddItem_RequiresPrivilege(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	err := rig.svc.AddItem(ctx, sdrSession, cnst.TablePortais, "OLX")
	assert.ErrorIs(t, err, cnst.ErrNotPrivileged)

	require.NoError(t, rig.svc.AddItem(ctx, adminSession, cnst.TablePortais, "OLX"))

	rows, err := rig.local.ListPortais(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Ativo)

	ops, err := rig.local.PendingOps(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1, "the write must be queued for the remote push")
	assert.Equal(t, 1, rig.refreshCount(cnst.TablePortais))
}

func TestToggleItem_FlipsAtivo(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.svc.AddItem(ctx, adminSession, cnst.TableVendedores, "Carlos"))
	require.NoError(t, rig.svc.ToggleItem(ctx, adminSession, cnst.TableVendedores, "Carlos"))

	rows, err := rig.local.ListVendedores(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Ativo)

	err = rig.svc.ToggleItem(ctx, adminSession, cnst.TableVendedores, "ninguem")
	assert.ErrorIs(t, err, cnst.ErrMissingKey)
}

func TestUpdateItem_ReplacesRow(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	seed := store.Estoque{ID: "e1", LojaID: "loja-1", Nome: "Onix 2020", Valor: "R$ 62.900,00", Ativo: true, UpdatedAtMs: 100}
	require.NoError(t, store.Upsert(ctx, rig.local.Store, &seed))

	payload, err := json.Marshal(store.Estoque{ID: "e1", Nome: "Onix 2020", Valor: "R$ 59.900,00", Ativo: true})
	require.NoError(t, err)

	assert.ErrorIs(t, rig.svc.UpdateItem(ctx, sdrSession, cnst.TableEstoque, payload), cnst.ErrNotPrivileged)
	require.NoError(t, rig.svc.UpdateItem(ctx, adminSession, cnst.TableEstoque, payload))

	rows, err := rig.local.ListEstoque(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "R$ 59.900,00", rows[0].Valor)
	assert.Equal(t, "loja-1", rows[0].LojaID, "tenant comes from the session, not the payload")

	err = rig.svc.UpdateItem(ctx, adminSession, "pedidos", payload)
	assert.ErrorIs(t, err, cnst.ErrUnknownTable)
}

func TestDeleteItem_LookupOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.svc.AddItem(ctx, adminSession, cnst.TablePortais, "ICarros"))
	require.NoError(t, rig.svc.DeleteItem(ctx, adminSession, cnst.TablePortais, "ICarros"))

	rows, err := rig.local.ListPortais(ctx, "loja-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = rig.svc.DeleteItem(ctx, adminSession, cnst.TableEstoque, "e1")
	assert.ErrorIs(t, err, cnst.ErrUnknownTable, "vehicles are deactivated, never deleted")
}

func TestSaveScript_OwnershipForced(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	script := store.Script{Titulo: "Primeiro contato", Mensagem: "Olá {cliente}!", IsSystem: true, Owner: "outro"}
	require.NoError(t, rig.svc.SaveScript(ctx, sdrSession, &script))

	assert.NotEmpty(t, script.ID)
	assert.Equal(t, "sdr_joao", script.Owner, "a non-privileged save always lands on the caller")
	assert.False(t, script.IsSystem)

	system := store.Script{Titulo: "Padrão da loja", Mensagem: "Bem-vindo!", IsSystem: true}
	require.NoError(t, rig.svc.SaveScript(ctx, adminSession, &system))
	assert.True(t, system.IsSystem)
}

func TestDeleteScript_Scoped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	system := store.Script{Titulo: "Padrão", Mensagem: "Bem-vindo!", IsSystem: true}
	require.NoError(t, rig.svc.SaveScript(ctx, adminSession, &system))

	err := rig.svc.DeleteScript(ctx, sdrSession, system.ID)
	assert.ErrorIs(t, err, cnst.ErrNotOwner)

	own := store.Script{Titulo: "Meu script", Mensagem: "Oi!"}
	require.NoError(t, rig.svc.SaveScript(ctx, sdrSession, &own))
	require.NoError(t, rig.svc.DeleteScript(ctx, sdrSession, own.ID))

	scripts, err := rig.local.ListScripts(ctx, "loja-1")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, system.ID, scripts[0].ID)
}

func TestDeleteScript_UnknownID(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	assert.ErrorIs(t, rig.svc.DeleteScript(ctx, adminSession, "fantasma"), cnst.ErrMissingKey)
	assert.ErrorIs(t, rig.svc.DeleteScript(ctx, sdrSession, "fantasma"), cnst.ErrMissingKey)

	// Nothing may have been queued for a row that never existed.
	ops, err := rig.local.PendingOps(ctx, "loja-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestAddVisita_FillsDefaults(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	v := store.Visita{Cliente: "Ana", Telefone: "11 99999-0000"}
	require.NoError(t, rig.svc.AddVisita(ctx, sdrSession, &v))

	_, err := uuid.Parse(v.ID)
	assert.NoError(t, err, "a new visit gets a generated id")
	assert.Equal(t, "loja-1", v.LojaID)
	assert.Equal(t, "sdr_joao", v.VendedorSDR)
	assert.Equal(t, cnst.PipelineAgendado, v.StatusPipeline)
	assert.NotEmpty(t, v.DataHora)
	assert.Equal(t, 1, rig.refreshCount(cnst.TableVisitas))
}

func TestUpdateVisitaStatus_AppendsHistory(t *testing.T) {
	rig := newTestRig(t)
	rig.seedVisitas(t)
	ctx := context.Background()

	require.NoError(t, rig.svc.UpdateVisitaStatus(ctx, sdrSession, "v1", cnst.PipelineNegociacao))

	v, err := rig.local.GetVisita(ctx, "loja-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, cnst.PipelineNegociacao, v.StatusPipeline)
	assert.Contains(t, v.HistoricoLog, "sdr_joao")
	assert.Contains(t, v.HistoricoLog, cnst.PipelineNegociacao)
	assert.Greater(t, v.UpdatedAtMs, int64(100))
}

func TestUpdateVisitaStatus_NotOwner(t *testing.T) {
	rig := newTestRig(t)
	rig.seedVisitas(t)
	ctx := context.Background()

	// v3 belongs to sdr_maria.
	err := rig.svc.UpdateVisitaStatus(ctx, sdrSession, "v3", cnst.PipelineVendido)
	assert.ErrorIs(t, err, cnst.ErrNotOwner)

	require.NoError(t, rig.svc.UpdateVisitaStatus(ctx, adminSession, "v3", cnst.PipelineVendido))
}

func TestDeleteVisita_Scoped(t *testing.T) {
	rig := newTestRig(t)
	rig.seedVisitas(t)
	ctx := context.Background()

	assert.ErrorIs(t, rig.svc.DeleteVisita(ctx, sdrSession, "v3"), cnst.ErrNotOwner)
	require.NoError(t, rig.svc.DeleteVisita(ctx, sdrSession, "v1"))

	rows, err := rig.local.ListVisitas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNotas_OwnerLifecycle(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	nota, err := rig.svc.AddNota(ctx, sdrSession, "ligar amanhã")
	require.NoError(t, err)
	assert.Equal(t, "sdr_joao", nota.SDRUsername)
	assert.False(t, nota.Concluido)

	other := gateway.Session{Username: "sdr_maria", Role: cnst.RoleSDR, LojaID: "loja-1"}
	assert.ErrorIs(t, rig.svc.ToggleNota(ctx, other, nota.ID), cnst.ErrNotOwner)
	assert.ErrorIs(t, rig.svc.DeleteNota(ctx, other, nota.ID), cnst.ErrNotOwner)

	require.NoError(t, rig.svc.ToggleNota(ctx, sdrSession, nota.ID))
	got, err := rig.local.GetNota(ctx, "loja-1", nota.ID)
	require.NoError(t, err)
	assert.True(t, got.Concluido)

	require.NoError(t, rig.svc.DeleteNota(ctx, adminSession, nota.ID))
	notas, err := rig.local.ListNotas(ctx, "loja-1")
	require.NoError(t, err)
	assert.Empty(t, notas)
}

func TestSyncXML_RequiresPrivilege(t *testing.T) {
	rig := newTestRig(t)
	res := rig.svc.SyncXML(context.Background(), sdrSession)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "perfis administrativos")
}

func TestMigrateAll_Passthrough(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	res := rig.svc.MigrateAll(ctx, sdrSession)
	assert.False(t, res.Success)

	res = rig.svc.MigrateAll(ctx, adminSession)
	assert.True(t, res.Success, res.Message)
}
