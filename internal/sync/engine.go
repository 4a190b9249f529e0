package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/remote"
	"github.com/lojahub/lojasync/internal/store"
	"github.com/lojahub/lojasync/pkg/metrics"

	"go.uber.org/zap"
)

// Result is the structured outcome handed back to a caller that triggered
// a sync explicitly; periodic passes only log.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Engine keeps the local mirror eventually consistent with the remote
// store: periodic full pulls, pending-queue pushes, feed ingestion and
// refresh broadcasts.
type Engine struct {
	logger  *zap.Logger
	cfg     config.SyncConfig
	local   *store.Local
	remote  *remote.Client
	cache   cache.Cache
	bus     *bus.Bus
	feed    *FeedClient
	metrics *metrics.Metrics
}

// NewEngine wires the reconciler over its collaborators.
func NewEngine(logger *zap.Logger, cfg config.SyncConfig, local *store.Local, rc *remote.Client, c cache.Cache, b *bus.Bus, m *metrics.Metrics) *Engine {
	return &Engine{
		logger:  logger.Named("sync.engine"),
		cfg:     cfg,
		local:   local,
		remote:  rc,
		cache:   c,
		bus:     b,
		feed:    NewFeedClient(logger, cfg.Feed),
		metrics: m,
	}
}

// Run reconciles every configured loja on the fixed interval until ctx is
// done. Transient failures are logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("starting sync loop",
		zap.Duration("interval", e.cfg.Interval),
		zap.Strings("lojas", e.cfg.Lojas))

	e.reconcile(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			e.reconcile(ctx)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	for _, lojaID := range e.cfg.Lojas {
		if err := e.PullAll(ctx, lojaID); err != nil {
			e.logger.Warn("reconciliation pass failed, will retry next cycle",
				zap.String("loja", lojaID),
				zap.Error(err))
		}
	}
}

// PullAll drains the pending queue and then pulls every tracked table for
// one loja, merging with last-writer-wins. Each table that changed is
// announced with a refresh-data event; the pass always ends with a
// sync-status broadcast.
func (e *Engine) PullAll(ctx context.Context, lojaID string) error {
	if lojaID == "" {
		return cnst.ErrMissingLoja
	}

	// Local writes race the authoritative pull; push them first so the
	// writer's own device never loses its edits to an older remote copy.
	if err := e.FlushPending(ctx, lojaID); err != nil {
		return err
	}
	prune, err := e.queueDrained(ctx, lojaID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, table := range cnst.TrackedTables {
		start := time.Now()
		changed, err := e.syncTable(ctx, lojaID, table, pullDirection, prune)
		e.metrics.PullDone(table, time.Since(start), err)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pull %s: %w", table, err)
			}
			continue
		}
		if changed > 0 {
			e.logger.Debug("table changed during pull",
				zap.String("loja", lojaID),
				zap.String("table", table),
				zap.Int("rows", changed))
			e.bus.Publish(bus.RefreshData(table))
		}
	}

	status := Result{Success: firstErr == nil, Message: "sincronização concluída"}
	if firstErr != nil {
		status.Message = "sincronização parcial: " + firstErr.Error()
	}
	e.bus.Publish(bus.SyncStatus(status))
	return firstErr
}

// FlushPending pushes queued local operations to the remote store in
// submission order, stopping at the first failure so per-row ordering is
// preserved. A remote failure is transient: the queue keeps the tail and
// nil is returned. Only a broken local queue is an error.
func (e *Engine) FlushPending(ctx context.Context, lojaID string) error {
	ops, err := e.local.PendingOps(ctx, lojaID)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	var pushed []uint
	for _, op := range ops {
		if err := e.remote.Apply(ctx, op); err != nil {
			e.metrics.PushDone(err)
			e.logger.Debug("push failed, keeping operation queued",
				zap.String("table", op.Table),
				zap.String("key", op.Key),
				zap.Error(err))
			if bumpErr := e.local.BumpAttempts(ctx, []uint{op.ID}); bumpErr != nil {
				return bumpErr
			}
			break
		}
		e.metrics.PushDone(nil)
		pushed = append(pushed, op.ID)
	}

	if err := e.local.MarkPushed(ctx, pushed); err != nil {
		return err
	}
	if len(pushed) > 0 {
		e.logger.Info("pushed pending operations",
			zap.String("loja", lojaID),
			zap.Int("count", len(pushed)))
	}
	return nil
}

// SyncXML re-imports the inventory feed for one loja on demand. Vehicles
// missing from the feed are deactivated, never deleted, so old visitas
// keep a valid vehicle reference. The fresh list is forced into the read
// cache before the refresh broadcast goes out.
func (e *Engine) SyncXML(ctx context.Context, lojaID string) Result {
	if lojaID == "" {
		return Result{Success: false, Message: "loja não informada"}
	}

	items, err := e.feed.Fetch(ctx, lojaID)
	if err != nil {
		e.logger.Warn("inventory feed fetch failed",
			zap.String("loja", lojaID),
			zap.Error(err))
		return Result{Success: false, Message: "falha ao carregar o feed de estoque: " + err.Error()}
	}
	e.metrics.FeedItems(len(items))

	existing, err := e.local.ListEstoque(ctx, lojaID)
	if err != nil {
		return Result{Success: false, Message: "falha ao ler o estoque local: " + err.Error()}
	}

	seen := make(map[string]struct{}, len(items))
	for i := range items {
		seen[items[i].ID] = struct{}{}
		if err := store.UpsertQueued(ctx, e.local, cnst.TableEstoque, &items[i]); err != nil {
			return Result{Success: false, Message: "falha ao gravar o estoque local: " + err.Error()}
		}
	}

	deactivated := 0
	for i := range existing {
		if _, ok := seen[existing[i].ID]; ok || !existing[i].Ativo {
			continue
		}
		existing[i].Ativo = false
		existing[i].UpdatedAtMs = store.NowVersion()
		if err := store.UpsertQueued(ctx, e.local, cnst.TableEstoque, &existing[i]); err != nil {
			return Result{Success: false, Message: "falha ao desativar veículo: " + err.Error()}
		}
		deactivated++
	}

	e.refreshEstoqueCache(ctx, lojaID)
	e.bus.Publish(bus.RefreshData(cnst.TableEstoque))

	// Best effort: a dead link just leaves the ops queued.
	_ = e.FlushPending(ctx, lojaID)

	result := Result{
		Success: true,
		Message: fmt.Sprintf("%d veículos sincronizados, %d desativados", len(items), deactivated),
	}
	e.bus.Publish(bus.SyncStatus(result))
	return result
}

// refreshEstoqueCache forces the cache entry so the next load starts from
// the feed result even before its own revalidation.
func (e *Engine) refreshEstoqueCache(ctx context.Context, lojaID string) {
	fresh, err := e.local.ListEstoque(ctx, lojaID)
	if err != nil {
		e.logger.Warn("could not refresh estoque cache", zap.Error(err))
		return
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cache.Key(cnst.TableEstoque, lojaID), data); err != nil {
		e.logger.Warn("could not write estoque cache", zap.Error(err))
	}
}

type direction int

const (
	pullDirection direction = iota
	pushDirection
)

// queueDrained reports whether every pending local operation reached the
// remote store. Remote absence of a row is only authoritative then: with
// ops still queued, a not-yet-pushed local row would look like a remote
// deletion.
func (e *Engine) queueDrained(ctx context.Context, lojaID string) (bool, error) {
	ops, err := e.local.PendingOps(ctx, lojaID)
	if err != nil {
		return false, err
	}
	return len(ops) == 0, nil
}

// syncTable moves one table in one direction between the stores.
func (e *Engine) syncTable(ctx context.Context, lojaID, table string, dir direction, prune bool) (int, error) {
	switch table {
	case cnst.TableEstoque:
		return moveTable[store.Estoque](ctx, e, lojaID, dir, prune)
	case cnst.TablePortais:
		return moveTable[store.Portal](ctx, e, lojaID, dir, prune)
	case cnst.TableVendedores:
		return moveTable[store.Vendedor](ctx, e, lojaID, dir, prune)
	case cnst.TableUsuarios:
		return moveTable[store.User](ctx, e, lojaID, dir, prune)
	case cnst.TableVisitas:
		return moveTable[store.Visita](ctx, e, lojaID, dir, prune)
	case cnst.TableNotas:
		return moveTable[store.Nota](ctx, e, lojaID, dir, prune)
	case cnst.TableScripts:
		return moveTable[store.Script](ctx, e, lojaID, dir, prune)
	default:
		return 0, fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
}

func moveTable[T store.Row](ctx context.Context, e *Engine, lojaID string, dir direction, prune bool) (int, error) {
	if dir == pullDirection {
		rctx, cancel := e.remote.Context(ctx)
		rows, err := store.ListByLoja[T](rctx, e.remote.Store(), lojaID)
		cancel()
		if err != nil {
			return 0, err
		}
		changed, err := store.Merge(ctx, e.local.Store, lojaID, rows)
		if err != nil || !prune {
			return changed, err
		}
		// Rows the remote no longer has were deleted on another replica.
		removed, err := store.Prune(ctx, e.local.Store, lojaID, rows)
		return changed + removed, err
	}

	rows, err := store.ListByLoja[T](ctx, e.local.Store, lojaID)
	if err != nil {
		return 0, err
	}
	rctx, cancel := e.remote.Context(ctx)
	defer cancel()
	return store.Merge(rctx, e.remote.Store(), lojaID, rows)
}
