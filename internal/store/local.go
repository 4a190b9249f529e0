package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lojahub/lojasync/internal/common/cnst"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Local is the embedded per-device mirror. On top of the shared Store it
// keeps the pending-operation queue that makes writes survive offline.
type Local struct {
	*Store
}

// NewLocal opens (or creates) the sqlite mirror at path.
func NewLocal(logger *zap.Logger, path string) (*Local, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	s, err := New(logger, sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	if err := s.db.AutoMigrate(&PendingOp{}); err != nil {
		return nil, fmt.Errorf("migrate pending queue: %w", err)
	}
	return &Local{Store: s}, nil
}

// UpsertQueued writes the row locally and appends the matching remote
// operation to the queue in one transaction, so a crash cannot separate
// the local state from its pending push.
func UpsertQueued[T Row](ctx context.Context, l *Local, table string, row *T) error {
	loja := (*row).RowLoja()
	if loja == "" {
		return cnst.ErrMissingLoja
	}
	if (*row).RowKey() == "" {
		return cnst.ErrMissingKey
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertTx(ctx, tx, row); err != nil {
			return err
		}
		return tx.Create(&PendingOp{
			Table:   table,
			Op:      OpUpsert,
			Key:     (*row).RowKey(),
			LojaID:  loja,
			Payload: payload,
		}).Error
	})
}

// DeleteQueued removes the row locally and queues the remote delete.
func (l *Local) DeleteQueued(ctx context.Context, table, lojaID, key string) error {
	if lojaID == "" {
		return cnst.ErrMissingLoja
	}
	if key == "" {
		return cnst.ErrMissingKey
	}
	col, err := keyColumn(table)
	if err != nil {
		return err
	}
	model, err := blankModel(table)
	if err != nil {
		return err
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("loja_id = ? AND "+col+" = ?", lojaID, key).Delete(model).Error; err != nil {
			return err
		}
		return tx.Create(&PendingOp{
			Table:  table,
			Op:     OpDelete,
			Key:    key,
			LojaID: lojaID,
		}).Error
	})
}

// PendingOps returns queued operations for one loja in submission order.
func (l *Local) PendingOps(ctx context.Context, lojaID string) ([]PendingOp, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var ops []PendingOp
	err := l.db.WithContext(ctx).
		Where("loja_id = ?", lojaID).
		Order("id").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// MarkPushed drops operations that reached the remote store.
func (l *Local) MarkPushed(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Where("id IN ?", ids).Delete(&PendingOp{}).Error
}

// BumpAttempts records a failed push attempt for the given operations.
func (l *Local) BumpAttempts(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Model(&PendingOp{}).
		Where("id IN ?", ids).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}
