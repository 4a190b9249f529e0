package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lojahub/lojasync/internal/common/cnst"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is a gorm-backed mirror of the CRM tables. The same implementation
// serves both sides of the sync: the embedded local sqlite file and the
// authoritative remote database, which differ only in dialector.
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
}

// New opens the database behind dialector and migrates the mirrored tables.
func New(logger *zap.Logger, dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&Loja{},
		&Estoque{},
		&Visita{},
		&Nota{},
		&User{},
		&Script{},
		&Portal{},
		&Vendedor{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{
		logger: logger.Named("store"),
		db:     db,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListLojas returns every known tenant.
func (s *Store) ListLojas(ctx context.Context) ([]Loja, error) {
	var rows []Loja
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertLoja creates or replaces a tenant record.
func (s *Store) UpsertLoja(ctx context.Context, loja *Loja) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(loja).Error
}

func (s *Store) ListEstoque(ctx context.Context, lojaID string) ([]Estoque, error) {
	return listByLoja[Estoque](ctx, s, lojaID)
}

func (s *Store) ListVisitas(ctx context.Context, lojaID string) ([]Visita, error) {
	return listByLoja[Visita](ctx, s, lojaID)
}

// ListVisitasBySDR returns only the visits owned by the given SDR.
func (s *Store) ListVisitasBySDR(ctx context.Context, lojaID, username string) ([]Visita, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var rows []Visita
	err := s.db.WithContext(ctx).
		Where("loja_id = ? AND vendedor_sdr = ?", lojaID, username).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetVisita returns one visit or gorm.ErrRecordNotFound.
func (s *Store) GetVisita(ctx context.Context, lojaID, id string) (*Visita, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var row Visita
	err := s.db.WithContext(ctx).Where("loja_id = ? AND id = ?", lojaID, id).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) ListNotas(ctx context.Context, lojaID string) ([]Nota, error) {
	return listByLoja[Nota](ctx, s, lojaID)
}

// ListNotasByOwner returns only the notes owned by the given SDR.
func (s *Store) ListNotasByOwner(ctx context.Context, lojaID, username string) ([]Nota, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var rows []Nota
	err := s.db.WithContext(ctx).
		Where("loja_id = ? AND sdr_username = ?", lojaID, username).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetNota returns one note or gorm.ErrRecordNotFound.
func (s *Store) GetNota(ctx context.Context, lojaID, id string) (*Nota, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var row Nota
	err := s.db.WithContext(ctx).Where("loja_id = ? AND id = ?", lojaID, id).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) ListUsuarios(ctx context.Context, lojaID string) ([]User, error) {
	return listByLoja[User](ctx, s, lojaID)
}

func (s *Store) ListScripts(ctx context.Context, lojaID string) ([]Script, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var rows []Script
	err := s.db.WithContext(ctx).
		Where("loja_id = ?", lojaID).
		Order("ordem").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListPortais(ctx context.Context, lojaID string) ([]Portal, error) {
	return listByLoja[Portal](ctx, s, lojaID)
}

func (s *Store) ListVendedores(ctx context.Context, lojaID string) ([]Vendedor, error) {
	return listByLoja[Vendedor](ctx, s, lojaID)
}

// List is the generic table read used by the IPC boundary. It never
// touches the network; an unknown table is a programmer error.
func (s *Store) List(ctx context.Context, table, lojaID string) ([]any, error) {
	switch table {
	case cnst.TableEstoque:
		return toAnySlice(s.ListEstoque(ctx, lojaID))
	case cnst.TableVisitas:
		return toAnySlice(s.ListVisitas(ctx, lojaID))
	case cnst.TableNotas:
		return toAnySlice(s.ListNotas(ctx, lojaID))
	case cnst.TableUsuarios:
		return toAnySlice(s.ListUsuarios(ctx, lojaID))
	case cnst.TableScripts:
		return toAnySlice(s.ListScripts(ctx, lojaID))
	case cnst.TablePortais:
		return toAnySlice(s.ListPortais(ctx, lojaID))
	case cnst.TableVendedores:
		return toAnySlice(s.ListVendedores(ctx, lojaID))
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
}

// ListByLoja returns every row of T's table belonging to one loja. The
// sync engine uses it to move whole tables generically.
func ListByLoja[T Row](ctx context.Context, s *Store, lojaID string) ([]T, error) {
	return listByLoja[T](ctx, s, lojaID)
}

// Upsert creates or replaces a row by its primary key.
func Upsert[T Row](ctx context.Context, s *Store, row *T) error {
	if (*row).RowLoja() == "" {
		return cnst.ErrMissingLoja
	}
	if (*row).RowKey() == "" {
		return cnst.ErrMissingKey
	}
	return upsertTx(ctx, s.db, row)
}

// Merge applies authoritative rows for one loja with last-writer-wins
// semantics: an incoming row replaces the local one only when its version
// stamp is not older. Returns the number of rows that changed.
func Merge[T Row](ctx context.Context, s *Store, lojaID string, incoming []T) (int, error) {
	if lojaID == "" {
		return 0, cnst.ErrMissingLoja
	}

	existing, err := listByLoja[T](ctx, s, lojaID)
	if err != nil {
		return 0, err
	}
	versions := make(map[string]int64, len(existing))
	for _, row := range existing {
		versions[row.RowKey()] = row.RowVersion()
	}

	changed := 0
	for i := range incoming {
		row := incoming[i]
		// Rows from another loja never cross the boundary.
		if row.RowLoja() != lojaID {
			s.logger.Warn("dropping row from another loja during merge",
				zap.String("expected", lojaID),
				zap.String("got", row.RowLoja()))
			continue
		}
		if cur, ok := versions[row.RowKey()]; ok && cur >= row.RowVersion() {
			continue
		}
		if err := upsertTx(ctx, s.db, &row); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// Prune removes rows of T's table that are absent from the authoritative
// set, completing a pull: Merge lands remote additions and updates, Prune
// lands remote deletions. Callers must only invoke it once every pending
// local operation has been pushed, otherwise an unpushed local row would
// be mistaken for a remote deletion. Returns the number of rows removed.
func Prune[T Row](ctx context.Context, s *Store, lojaID string, authoritative []T) (int, error) {
	if lojaID == "" {
		return 0, cnst.ErrMissingLoja
	}

	keep := make(map[string]struct{}, len(authoritative))
	for _, row := range authoritative {
		if row.RowLoja() != lojaID {
			continue
		}
		keep[row.RowKey()] = struct{}{}
	}

	existing, err := listByLoja[T](ctx, s, lojaID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range existing {
		if _, ok := keep[existing[i].RowKey()]; ok {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&existing[i]).Error; err != nil {
			return removed, err
		}
		s.logger.Debug("pruned row deleted remotely",
			zap.String("loja", lojaID),
			zap.String("key", existing[i].RowKey()))
		removed++
	}
	return removed, nil
}

// Apply replays one queued local operation against this store, guarding
// upserts with the same last-writer-wins rule Merge uses.
func (s *Store) Apply(ctx context.Context, op PendingOp) error {
	if op.LojaID == "" {
		return cnst.ErrMissingLoja
	}
	if op.Op == OpDelete {
		return s.deleteRow(ctx, op.Table, op.LojaID, op.Key)
	}

	cur, found, err := s.currentVersion(ctx, op.Table, op.LojaID, op.Key)
	if err != nil {
		return err
	}

	switch op.Table {
	case cnst.TableEstoque:
		return applyUpsert[Estoque](ctx, s, op, cur, found)
	case cnst.TableVisitas:
		return applyUpsert[Visita](ctx, s, op, cur, found)
	case cnst.TableNotas:
		return applyUpsert[Nota](ctx, s, op, cur, found)
	case cnst.TableUsuarios:
		return applyUpsert[User](ctx, s, op, cur, found)
	case cnst.TableScripts:
		return applyUpsert[Script](ctx, s, op, cur, found)
	case cnst.TablePortais:
		return applyUpsert[Portal](ctx, s, op, cur, found)
	case cnst.TableVendedores:
		return applyUpsert[Vendedor](ctx, s, op, cur, found)
	default:
		return fmt.Errorf("%w: %s", cnst.ErrUnknownTable, op.Table)
	}
}

func applyUpsert[T Row](ctx context.Context, s *Store, op PendingOp, cur int64, found bool) error {
	var row T
	if err := json.Unmarshal(op.Payload, &row); err != nil {
		return fmt.Errorf("decode queued %s payload: %w", op.Table, err)
	}
	if found && cur > row.RowVersion() {
		// A newer write already landed here; the queued one lost the race.
		s.logger.Debug("skipping stale queued write",
			zap.String("table", op.Table),
			zap.String("key", op.Key))
		return nil
	}
	return upsertTx(ctx, s.db, &row)
}

func (s *Store) deleteRow(ctx context.Context, table, lojaID, key string) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}
	model, err := blankModel(table)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("loja_id = ? AND "+col+" = ?", lojaID, key).
		Delete(model).Error
}

func (s *Store) currentVersion(ctx context.Context, table, lojaID, key string) (int64, bool, error) {
	col, err := keyColumn(table)
	if err != nil {
		return 0, false, err
	}
	var row struct {
		UpdatedAtMs int64
	}
	tx := s.db.WithContext(ctx).Table(table).
		Select("updated_at_ms").
		Where("loja_id = ? AND "+col+" = ?", lojaID, key).
		Take(&row)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if tx.Error != nil {
		return 0, false, tx.Error
	}
	return row.UpdatedAtMs, true, nil
}

// keyColumn maps a table to the column holding its Row key.
func keyColumn(table string) (string, error) {
	switch table {
	case cnst.TableEstoque, cnst.TableVisitas, cnst.TableNotas, cnst.TableScripts:
		return "id", nil
	case cnst.TableUsuarios:
		return "username", nil
	case cnst.TablePortais, cnst.TableVendedores:
		return "nome", nil
	default:
		return "", fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
}

func blankModel(table string) (any, error) {
	switch table {
	case cnst.TableEstoque:
		return &Estoque{}, nil
	case cnst.TableVisitas:
		return &Visita{}, nil
	case cnst.TableNotas:
		return &Nota{}, nil
	case cnst.TableUsuarios:
		return &User{}, nil
	case cnst.TableScripts:
		return &Script{}, nil
	case cnst.TablePortais:
		return &Portal{}, nil
	case cnst.TableVendedores:
		return &Vendedor{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnknownTable, table)
	}
}

func listByLoja[T any](ctx context.Context, s *Store, lojaID string) ([]T, error) {
	if lojaID == "" {
		return nil, cnst.ErrMissingLoja
	}
	var rows []T
	if err := s.db.WithContext(ctx).Where("loja_id = ?", lojaID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func upsertTx[T any](ctx context.Context, db *gorm.DB, row *T) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func toAnySlice[T any](rows []T, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out, nil
}
