package gateway

import (
	"context"

	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/store"

	"go.uber.org/zap"
)

// Session is the explicit caller identity threaded into every scoped
// call. It replaces ambient global state so scoping is testable and
// never implicit.
type Session struct {
	Username string
	Role     cnst.Role
	LojaID   string
}

// Gateway enforces row-level visibility for visitas and notas before
// they leave the local store. It is the only legitimate read path for
// those two tables.
type Gateway struct {
	logger *zap.Logger
	store  *store.Local
}

// New creates the scoping gateway over the local mirror.
func New(logger *zap.Logger, s *store.Local) *Gateway {
	return &Gateway{
		logger: logger.Named("gateway"),
		store:  s,
	}
}

// ListVisits returns the visits sess may see: every row in the loja for
// privileged roles, otherwise only rows owned by sess.Username. An
// unknown role gets the restrictive branch.
func (g *Gateway) ListVisits(ctx context.Context, sess Session) ([]store.Visita, error) {
	if sess.LojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	if sess.Role.Privileged() {
		return g.store.ListVisitas(ctx, sess.LojaID)
	}
	return g.store.ListVisitasBySDR(ctx, sess.LojaID, sess.Username)
}

// ListNotes returns notes scoped by target. An empty target from a
// privileged caller means the whole loja (admin oversight); every other
// combination collapses to the caller's own rows.
func (g *Gateway) ListNotes(ctx context.Context, sess Session, target string) ([]store.Nota, error) {
	if sess.LojaID == "" {
		return nil, cnst.ErrMissingLoja
	}

	if sess.Role.Privileged() {
		if target == "" {
			return g.store.ListNotas(ctx, sess.LojaID)
		}
		return g.store.ListNotasByOwner(ctx, sess.LojaID, target)
	}

	if target != "" && target != sess.Username {
		g.logger.Warn("non-privileged caller asked for another user's notes",
			zap.String("caller", sess.Username),
			zap.String("target", target))
	}
	return g.store.ListNotasByOwner(ctx, sess.LojaID, sess.Username)
}

// OwnsVisit reports whether sess may mutate the given visit. Privileged
// roles may touch any row in their loja.
func (g *Gateway) OwnsVisit(ctx context.Context, sess Session, id string) (bool, error) {
	if sess.Role.Privileged() {
		return true, nil
	}
	v, err := g.store.GetVisita(ctx, sess.LojaID, id)
	if err != nil {
		return false, err
	}
	return v.VendedorSDR == sess.Username, nil
}
