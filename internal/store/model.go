package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lojahub/lojasync/internal/common/cnst"
)

// StringList stores a []string as a JSON text column.
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// Row is the contract every synced row satisfies: a key unique within its
// loja, the owning loja and a last-writer-wins version stamp.
type Row interface {
	RowKey() string
	RowLoja() string
	RowVersion() int64
}

// NowVersion returns the version stamp for a write happening now.
func NowVersion() int64 {
	return time.Now().UnixMilli()
}

// Loja is a tenant. The only table that is not itself tenant-scoped.
type Loja struct {
	ID      string     `gorm:"primaryKey;column:id" json:"id"`
	Nome    string     `gorm:"column:nome" json:"nome"`
	Modulos StringList `gorm:"column:modulos;type:text" json:"modulos"`
}

func (Loja) TableName() string { return cnst.TableLojas }

// Estoque is one vehicle in a loja's inventory. Rows are produced by the
// XML feed sync, never created by hand; removal from the feed flips Ativo
// instead of deleting so old visitas keep a valid vehicle reference.
type Estoque struct {
	ID          string     `gorm:"primaryKey;column:id" json:"id"`
	LojaID      string     `gorm:"primaryKey;column:loja_id" json:"loja_id"`
	Nome        string     `gorm:"column:nome" json:"nome"`
	Valor       string     `gorm:"column:valor" json:"valor"`
	Ano         string     `gorm:"column:ano" json:"ano"`
	KM          string     `gorm:"column:km" json:"km"`
	Cambio      string     `gorm:"column:cambio" json:"cambio"`
	Fotos       StringList `gorm:"column:fotos;type:text" json:"fotos"`
	Foto        string     `gorm:"column:foto" json:"foto"`
	Link        string     `gorm:"column:link" json:"link"`
	Ativo       bool       `gorm:"column:ativo" json:"ativo"`
	UpdatedAtMs int64      `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Estoque) TableName() string { return cnst.TableEstoque }

func (e Estoque) RowKey() string    { return e.ID }
func (e Estoque) RowLoja() string   { return e.LojaID }
func (e Estoque) RowVersion() int64 { return e.UpdatedAtMs }

// Visita is a lead/visit record moving through the pipeline.
type Visita struct {
	ID               string `gorm:"primaryKey;column:id" json:"id"`
	LojaID           string `gorm:"column:loja_id;index" json:"loja_id"`
	Cliente          string `gorm:"column:cliente" json:"cliente"`
	Telefone         string `gorm:"column:telefone" json:"telefone"`
	CPFCliente       string `gorm:"column:cpf_cliente" json:"cpf_cliente,omitempty"`
	Portal           string `gorm:"column:portal" json:"portal"`
	Temperatura      string `gorm:"column:temperatura" json:"temperatura"`
	VeiculoInteresse string `gorm:"column:veiculo_interesse" json:"veiculo_interesse"`
	VeiculoTroca     string `gorm:"column:veiculo_troca" json:"veiculo_troca,omitempty"`
	ValorProposta    string `gorm:"column:valor_proposta" json:"valor_proposta"`
	FormaPagamento   string `gorm:"column:forma_pagamento" json:"forma_pagamento"`
	Vendedor         string `gorm:"column:vendedor" json:"vendedor"`
	VendedorSDR      string `gorm:"column:vendedor_sdr;index" json:"vendedor_sdr"`
	Status           string `gorm:"column:status" json:"status"`
	StatusPipeline   string `gorm:"column:status_pipeline" json:"status_pipeline"`
	DataAgendamento  string `gorm:"column:data_agendamento" json:"data_agendamento"`
	DataHora         string `gorm:"column:datahora" json:"datahora"`
	HistoricoLog     string `gorm:"column:historico_log;type:text" json:"historico_log"`
	UpdatedAtMs      int64  `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Visita) TableName() string { return cnst.TableVisitas }

func (v Visita) RowKey() string    { return v.ID }
func (v Visita) RowLoja() string   { return v.LojaID }
func (v Visita) RowVersion() int64 { return v.UpdatedAtMs }

// Nota is a private SDR note, visible to admins for oversight.
type Nota struct {
	ID          string `gorm:"primaryKey;column:id" json:"id"`
	LojaID      string `gorm:"column:loja_id;index" json:"loja_id"`
	SDRUsername string `gorm:"column:sdr_username;index" json:"sdr_username"`
	Texto       string `gorm:"column:texto;type:text" json:"texto"`
	DataNota    string `gorm:"column:data_nota" json:"data_nota"`
	Concluido   bool   `gorm:"column:concluido" json:"concluido"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Nota) TableName() string { return cnst.TableNotas }

func (n Nota) RowKey() string    { return n.ID }
func (n Nota) RowLoja() string   { return n.LojaID }
func (n Nota) RowVersion() int64 { return n.UpdatedAtMs }

// User is a login account scoped to one loja.
type User struct {
	Username      string     `gorm:"primaryKey;column:username" json:"username"`
	LojaID        string     `gorm:"primaryKey;column:loja_id" json:"loja_id"`
	NomeCompleto  string     `gorm:"column:nome_completo" json:"nome_completo"`
	Role          string     `gorm:"column:role" json:"role"`
	Permissions   StringList `gorm:"column:permissions;type:text" json:"permissions"`
	Ativo         bool       `gorm:"column:ativo" json:"ativo"`
	ResetPassword bool       `gorm:"column:reset_password" json:"reset_password"`
	UpdatedAtMs   int64      `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (User) TableName() string { return cnst.TableUsuarios }

func (u User) RowKey() string    { return u.Username }
func (u User) RowLoja() string   { return u.LojaID }
func (u User) RowVersion() int64 { return u.UpdatedAtMs }

// Script is a message template. System scripts are shared and read-only
// for non-privileged roles; user scripts belong to Owner.
type Script struct {
	ID          string `gorm:"primaryKey;column:id" json:"id"`
	LojaID      string `gorm:"column:loja_id;index" json:"loja_id"`
	Titulo      string `gorm:"column:titulo" json:"titulo"`
	Mensagem    string `gorm:"column:mensagem;type:text" json:"mensagem"`
	IsSystem    bool   `gorm:"column:is_system" json:"is_system"`
	Ordem       int    `gorm:"column:ordem" json:"ordem"`
	Owner       string `gorm:"column:owner;index" json:"owner"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Script) TableName() string { return cnst.TableScripts }

func (s Script) RowKey() string    { return s.ID }
func (s Script) RowLoja() string   { return s.LojaID }
func (s Script) RowVersion() int64 { return s.UpdatedAtMs }

// Portal is a lookup entry. Nome alone is collision-prone across lojas,
// so the primary key is the composite (loja_id, nome).
type Portal struct {
	Nome        string `gorm:"primaryKey;column:nome" json:"nome"`
	LojaID      string `gorm:"primaryKey;column:loja_id" json:"loja_id"`
	Ativo       bool   `gorm:"column:ativo" json:"ativo"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Portal) TableName() string { return cnst.TablePortais }

func (p Portal) RowKey() string    { return p.Nome }
func (p Portal) RowLoja() string   { return p.LojaID }
func (p Portal) RowVersion() int64 { return p.UpdatedAtMs }

// Vendedor is a lookup entry for in-person closers, keyed like Portal.
type Vendedor struct {
	Nome        string `gorm:"primaryKey;column:nome" json:"nome"`
	LojaID      string `gorm:"primaryKey;column:loja_id" json:"loja_id"`
	Ativo       bool   `gorm:"column:ativo" json:"ativo"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms" json:"updated_at_ms"`
}

func (Vendedor) TableName() string { return cnst.TableVendedores }

func (v Vendedor) RowKey() string    { return v.Nome }
func (v Vendedor) RowLoja() string   { return v.LojaID }
func (v Vendedor) RowVersion() int64 { return v.UpdatedAtMs }

// Op kinds queued for the remote push.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// PendingOp is one entry of the local write-ahead queue. Local mutations
// append here in the same transaction; the reconciler drains the queue
// towards the remote store in submission order.
type PendingOp struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Table     string    `gorm:"column:table_name"`
	Op        string    `gorm:"column:op"`
	Key       string    `gorm:"column:row_key"`
	LojaID    string    `gorm:"column:loja_id;index"`
	Payload   []byte    `gorm:"column:payload;type:text"`
	Attempts  int       `gorm:"column:attempts"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (PendingOp) TableName() string { return "pending_ops" }
