package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/gateway"
	"github.com/lojahub/lojasync/internal/store"
	syncer "github.com/lojahub/lojasync/internal/sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// timestamps shown to users follow the Brazilian convention
const timeLayout = "02/01/2006 15:04"

// Service is the application boundary: every read is scoped through the
// gateway, every write lands in the local mirror plus the pending queue
// and is announced on the bus. Callers hand in an explicit Session.
type Service struct {
	logger  *zap.Logger
	local   *store.Local
	gateway *gateway.Gateway
	engine  *syncer.Engine
	loader  *cache.Loader
	bus     *bus.Bus
}

// New wires the façade over its collaborators.
func New(logger *zap.Logger, local *store.Local, gw *gateway.Gateway, engine *syncer.Engine, loader *cache.Loader, b *bus.Bus) *Service {
	return &Service{
		logger:  logger.Named("service"),
		local:   local,
		gateway: gw,
		engine:  engine,
		loader:  loader,
		bus:     b,
	}
}

// GetList returns the rows of one table visible to sess. Visitas and
// notas always go through the gateway; there is no unscoped path to them.
func (s *Service) GetList(ctx context.Context, sess gateway.Session, table string) ([]any, error) {
	switch table {
	case cnst.TableVisitas:
		rows, err := s.gateway.ListVisits(ctx, sess)
		if err != nil {
			return nil, err
		}
		return toAny(rows), nil
	case cnst.TableNotas:
		rows, err := s.gateway.ListNotes(ctx, sess, "")
		if err != nil {
			return nil, err
		}
		return toAny(rows), nil
	default:
		return s.local.List(ctx, table, sess.LojaID)
	}
}

// GetVisitsSecure returns the visits sess may see.
func (s *Service) GetVisitsSecure(ctx context.Context, sess gateway.Session) ([]store.Visita, error) {
	return s.gateway.ListVisits(ctx, sess)
}

// GetNotes returns notes scoped to target (see gateway.ListNotes).
func (s *Service) GetNotes(ctx context.Context, sess gateway.Session, target string) ([]store.Nota, error) {
	return s.gateway.ListNotes(ctx, sess, target)
}

// LoadList is the stale-while-revalidate read: the last cached JSON list
// immediately plus a channel with the freshly fetched one. Scoped tables
// of a non-privileged session bypass the cache entirely, because the
// cache key is per loja and must never leak another user's rows.
func (s *Service) LoadList(ctx context.Context, sess gateway.Session, table string) (cache.LoadResult, error) {
	if sess.LojaID == "" {
		return cache.LoadResult{}, cnst.ErrMissingLoja
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		rows, err := s.GetList(ctx, sess, table)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rows)
	}

	scoped := table == cnst.TableVisitas || table == cnst.TableNotas
	if scoped && !sess.Role.Privileged() {
		return s.loadUncached(ctx, fetch)
	}
	return s.loader.Load(ctx, table, sess.LojaID, fetch)
}

// loadUncached mimics the loader's contract without touching the cache.
func (s *Service) loadUncached(ctx context.Context, fetch func(context.Context) ([]byte, error)) (cache.LoadResult, error) {
	fresh := make(chan []byte, 1)
	go func() {
		defer close(fresh)
		value, err := fetch(ctx)
		if err != nil {
			s.logger.Warn("scoped list fetch failed", zap.Error(err))
			return
		}
		fresh <- value
	}()
	return cache.LoadResult{Fresh: fresh}, nil
}

// AddItem creates a lookup entry (portais or vendedores). Lookup tables
// are loja configuration, so only privileged roles may touch them.
func (s *Service) AddItem(ctx context.Context, sess gateway.Session, table, nome string) error {
	if !sess.Role.Privileged() {
		return cnst.ErrNotPrivileged
	}
	if strings.TrimSpace(nome) == "" {
		return cnst.ErrMissingKey
	}

	var err error
	switch table {
	case cnst.TablePortais:
		row := store.Portal{Nome: nome, LojaID: sess.LojaID, Ativo: true, UpdatedAtMs: store.NowVersion()}
		err = store.UpsertQueued(ctx, s.local, table, &row)
	case cnst.TableVendedores:
		row := store.Vendedor{Nome: nome, LojaID: sess.LojaID, Ativo: true, UpdatedAtMs: store.NowVersion()}
		err = store.UpsertQueued(ctx, s.local, table, &row)
	default:
		return fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
	if err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(table))
	return nil
}

// UpdateItem replaces one row of a generic table from its JSON payload.
// The tenant always comes from the session, never from the payload.
func (s *Service) UpdateItem(ctx context.Context, sess gateway.Session, table string, payload json.RawMessage) error {
	if !sess.Role.Privileged() {
		return cnst.ErrNotPrivileged
	}

	var err error
	switch table {
	case cnst.TablePortais:
		err = updateFromPayload[store.Portal](ctx, s.local, table, sess.LojaID, payload,
			func(r *store.Portal) { r.LojaID = sess.LojaID; r.UpdatedAtMs = store.NowVersion() })
	case cnst.TableVendedores:
		err = updateFromPayload[store.Vendedor](ctx, s.local, table, sess.LojaID, payload,
			func(r *store.Vendedor) { r.LojaID = sess.LojaID; r.UpdatedAtMs = store.NowVersion() })
	case cnst.TableEstoque:
		err = updateFromPayload[store.Estoque](ctx, s.local, table, sess.LojaID, payload,
			func(r *store.Estoque) { r.LojaID = sess.LojaID; r.UpdatedAtMs = store.NowVersion() })
	case cnst.TableScripts:
		err = updateFromPayload[store.Script](ctx, s.local, table, sess.LojaID, payload,
			func(r *store.Script) { r.LojaID = sess.LojaID; r.UpdatedAtMs = store.NowVersion() })
	default:
		return fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
	if err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(table))
	return nil
}

func updateFromPayload[T store.Row](ctx context.Context, l *store.Local, table, lojaID string,
	payload json.RawMessage, stamp func(*T)) error {
	var row T
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("decode %s payload: %w", table, err)
	}
	stamp(&row)
	return store.UpsertQueued(ctx, l, table, &row)
}

// ToggleItem flips the Ativo flag of a lookup entry or vehicle.
func (s *Service) ToggleItem(ctx context.Context, sess gateway.Session, table, key string) error {
	if !sess.Role.Privileged() {
		return cnst.ErrNotPrivileged
	}

	var err error
	switch table {
	case cnst.TablePortais:
		err = toggle(ctx, s.local, table, sess.LojaID, key, s.local.ListPortais,
			func(r *store.Portal) { r.Ativo = !r.Ativo })
	case cnst.TableVendedores:
		err = toggle(ctx, s.local, table, sess.LojaID, key, s.local.ListVendedores,
			func(r *store.Vendedor) { r.Ativo = !r.Ativo })
	case cnst.TableEstoque:
		err = toggle(ctx, s.local, table, sess.LojaID, key, s.local.ListEstoque,
			func(r *store.Estoque) { r.Ativo = !r.Ativo })
	default:
		return fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
	if err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(table))
	return nil
}

// toggle loads the row by key, mutates it and queues the write.
func toggle[T store.Row](ctx context.Context, l *store.Local, table, lojaID, key string,
	list func(context.Context, string) ([]T, error), mutate func(*T)) error {
	rows, err := list(ctx, lojaID)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].RowKey() != key {
			continue
		}
		mutate(&rows[i])
		return store.UpsertQueued(ctx, l, table, &rows[i])
	}
	return fmt.Errorf("%w: %s/%s", cnst.ErrMissingKey, table, key)
}

// DeleteItem removes a lookup entry. Inventory is never deleted here,
// only deactivated (ToggleItem), so feeds and old visits stay coherent.
func (s *Service) DeleteItem(ctx context.Context, sess gateway.Session, table, key string) error {
	if !sess.Role.Privileged() {
		return cnst.ErrNotPrivileged
	}
	switch table {
	case cnst.TablePortais, cnst.TableVendedores:
	default:
		return fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
	if err := s.local.DeleteQueued(ctx, table, sess.LojaID, key); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(table))
	return nil
}

// SaveScript creates or updates a message template. Non-privileged users
// own what they write: the script is forced onto their name and can never
// be a shared system script.
func (s *Service) SaveScript(ctx context.Context, sess gateway.Session, script *store.Script) error {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	script.LojaID = sess.LojaID
	if !sess.Role.Privileged() {
		script.Owner = sess.Username
		script.IsSystem = false
	}
	script.UpdatedAtMs = store.NowVersion()

	if err := store.UpsertQueued(ctx, s.local, cnst.TableScripts, script); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableScripts))
	return nil
}

// DeleteScript removes a template. System scripts and other users'
// scripts require a privileged role.
func (s *Service) DeleteScript(ctx context.Context, sess gateway.Session, id string) error {
	scripts, err := s.local.ListScripts(ctx, sess.LojaID)
	if err != nil {
		return err
	}
	var target *store.Script
	for i := range scripts {
		if scripts[i].ID == id {
			target = &scripts[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s/%s", cnst.ErrMissingKey, cnst.TableScripts, id)
	}
	if !sess.Role.Privileged() && (target.IsSystem || target.Owner != sess.Username) {
		return cnst.ErrNotOwner
	}

	if err := s.local.DeleteQueued(ctx, cnst.TableScripts, sess.LojaID, id); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableScripts))
	return nil
}

// AddVisita registers a new visit. Missing fields get their defaults: a
// fresh uuid, the caller as owning SDR, the current timestamp and the
// first pipeline stage.
func (s *Service) AddVisita(ctx context.Context, sess gateway.Session, v *store.Visita) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.LojaID = sess.LojaID
	if v.VendedorSDR == "" {
		v.VendedorSDR = sess.Username
	}
	if v.DataHora == "" {
		v.DataHora = time.Now().Format(timeLayout)
	}
	if v.StatusPipeline == "" {
		v.StatusPipeline = cnst.PipelineAgendado
	}
	v.UpdatedAtMs = store.NowVersion()

	if err := store.UpsertQueued(ctx, s.local, cnst.TableVisitas, v); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableVisitas))
	return nil
}

// UpdateVisita replaces a visit the caller may touch.
func (s *Service) UpdateVisita(ctx context.Context, sess gateway.Session, v *store.Visita) error {
	if err := s.requireVisitOwnership(ctx, sess, v.ID); err != nil {
		return err
	}
	v.LojaID = sess.LojaID
	v.UpdatedAtMs = store.NowVersion()

	if err := store.UpsertQueued(ctx, s.local, cnst.TableVisitas, v); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableVisitas))
	return nil
}

// UpdateVisitaStatus moves a visit to another pipeline stage and appends
// the transition to its history log.
func (s *Service) UpdateVisitaStatus(ctx context.Context, sess gateway.Session, id, status string) error {
	if err := s.requireVisitOwnership(ctx, sess, id); err != nil {
		return err
	}
	v, err := s.local.GetVisita(ctx, sess.LojaID, id)
	if err != nil {
		return err
	}

	entry := fmt.Sprintf("[%s] %s: %s -> %s",
		time.Now().Format(timeLayout), sess.Username, v.StatusPipeline, status)
	if v.HistoricoLog != "" {
		v.HistoricoLog += "\n"
	}
	v.HistoricoLog += entry
	v.StatusPipeline = status
	v.UpdatedAtMs = store.NowVersion()

	if err := store.UpsertQueued(ctx, s.local, cnst.TableVisitas, v); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableVisitas))
	return nil
}

// DeleteVisita removes a visit the caller may touch.
func (s *Service) DeleteVisita(ctx context.Context, sess gateway.Session, id string) error {
	if err := s.requireVisitOwnership(ctx, sess, id); err != nil {
		return err
	}
	if err := s.local.DeleteQueued(ctx, cnst.TableVisitas, sess.LojaID, id); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableVisitas))
	return nil
}

func (s *Service) requireVisitOwnership(ctx context.Context, sess gateway.Session, id string) error {
	ok, err := s.gateway.OwnsVisit(ctx, sess, id)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("blocked write to a visit the caller does not own",
			zap.String("caller", sess.Username),
			zap.String("visita", id))
		return cnst.ErrNotOwner
	}
	return nil
}

// AddNota stores a private note for the caller.
func (s *Service) AddNota(ctx context.Context, sess gateway.Session, texto string) (*store.Nota, error) {
	nota := store.Nota{
		ID:          uuid.NewString(),
		LojaID:      sess.LojaID,
		SDRUsername: sess.Username,
		Texto:       texto,
		DataNota:    time.Now().Format(timeLayout),
		UpdatedAtMs: store.NowVersion(),
	}
	if err := store.UpsertQueued(ctx, s.local, cnst.TableNotas, &nota); err != nil {
		return nil, err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableNotas))
	return &nota, nil
}

// ToggleNota flips a note's done flag. Notes are personal: only the
// owner or a privileged role may complete one.
func (s *Service) ToggleNota(ctx context.Context, sess gateway.Session, id string) error {
	nota, err := s.local.GetNota(ctx, sess.LojaID, id)
	if err != nil {
		return err
	}
	if !sess.Role.Privileged() && nota.SDRUsername != sess.Username {
		return cnst.ErrNotOwner
	}
	nota.Concluido = !nota.Concluido
	nota.UpdatedAtMs = store.NowVersion()

	if err := store.UpsertQueued(ctx, s.local, cnst.TableNotas, nota); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableNotas))
	return nil
}

// DeleteNota removes a note under the same ownership rule as ToggleNota.
func (s *Service) DeleteNota(ctx context.Context, sess gateway.Session, id string) error {
	nota, err := s.local.GetNota(ctx, sess.LojaID, id)
	if err != nil {
		return err
	}
	if !sess.Role.Privileged() && nota.SDRUsername != sess.Username {
		return cnst.ErrNotOwner
	}
	if err := s.local.DeleteQueued(ctx, cnst.TableNotas, sess.LojaID, id); err != nil {
		return err
	}
	s.bus.Publish(bus.RefreshData(cnst.TableNotas))
	return nil
}

// SyncXML re-imports the inventory feed for the caller's loja.
func (s *Service) SyncXML(ctx context.Context, sess gateway.Session) syncer.Result {
	if !sess.Role.Privileged() {
		return syncer.Result{Success: false, Message: "apenas perfis administrativos podem sincronizar o estoque"}
	}
	return s.engine.SyncXML(ctx, sess.LojaID)
}

// MigrateAll runs the one-shot historical migration.
func (s *Service) MigrateAll(ctx context.Context, sess gateway.Session) syncer.Result {
	if !sess.Role.Privileged() {
		return syncer.Result{Success: false, Message: "apenas perfis administrativos podem migrar dados"}
	}
	return s.engine.MigrateAll(ctx)
}

func toAny[T any](rows []T) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	return out
}
