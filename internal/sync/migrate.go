package sync

import (
	"context"
	"fmt"

	"github.com/lojahub/lojasync/internal/bus"
	"github.com/lojahub/lojasync/internal/common/cnst"

	"go.uber.org/zap"
)

// MigrateAll performs the one-shot historical migration: every tracked
// table of every known loja is pushed to the remote store and pulled back.
// Both directions are last-writer-wins upserts, so running it twice leaves
// the stores exactly as one run does.
func (e *Engine) MigrateAll(ctx context.Context) Result {
	lojas, err := e.migrationLojas(ctx)
	if err != nil {
		return Result{Success: false, Message: "falha ao enumerar lojas: " + err.Error()}
	}
	if len(lojas) == 0 {
		return Result{Success: false, Message: "nenhuma loja para migrar"}
	}

	pushed, pulled := 0, 0
	for _, lojaID := range lojas {
		if err := e.FlushPending(ctx, lojaID); err != nil {
			return Result{Success: false, Message: "falha ao drenar a fila local: " + err.Error()}
		}
		prune, err := e.queueDrained(ctx, lojaID)
		if err != nil {
			return Result{Success: false, Message: "falha ao inspecionar a fila local: " + err.Error()}
		}

		for _, table := range cnst.TrackedTables {
			n, err := e.syncTable(ctx, lojaID, table, pushDirection, false)
			if err != nil {
				return Result{Success: false, Message: fmt.Sprintf("falha ao enviar %s da %s: %v", table, lojaID, err)}
			}
			pushed += n

			n, err = e.syncTable(ctx, lojaID, table, pullDirection, prune)
			if err != nil {
				return Result{Success: false, Message: fmt.Sprintf("falha ao baixar %s da %s: %v", table, lojaID, err)}
			}
			pulled += n
			if n > 0 {
				e.bus.Publish(bus.RefreshData(table))
			}
		}
	}

	e.logger.Info("migration finished",
		zap.Strings("lojas", lojas),
		zap.Int("pushed", pushed),
		zap.Int("pulled", pulled))

	result := Result{
		Success: true,
		Message: fmt.Sprintf("migração concluída: %d registros enviados, %d recebidos", pushed, pulled),
	}
	e.bus.Publish(bus.SyncStatus(result))
	return result
}

// migrationLojas unions the configured lojas with the ones already known
// to the local mirror.
func (e *Engine) migrationLojas(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	out := make([]string, 0)
	for _, id := range e.cfg.Lojas {
		if _, ok := set[id]; !ok {
			set[id] = struct{}{}
			out = append(out, id)
		}
	}
	known, err := e.local.ListLojas(ctx)
	if err != nil {
		return nil, err
	}
	for _, loja := range known {
		if _, ok := set[loja.ID]; !ok {
			set[loja.ID] = struct{}{}
			out = append(out, loja.ID)
		}
	}
	return out, nil
}
