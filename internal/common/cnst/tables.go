package cnst

// Table names mirrored from the cloud database. Every table except
// TableLojas is tenant-scoped by loja_id.
const (
	TableLojas      = "lojas"
	TableEstoque    = "estoque"
	TablePortais    = "portais"
	TableVendedores = "vendedores"
	TableUsuarios   = "usuarios"
	TableVisitas    = "visitas"
	TableNotas      = "notas"
	TableScripts    = "scripts"
)

// TrackedTables lists the tenant tables the sync engine reconciles on
// every pass, in pull order.
var TrackedTables = []string{
	TableEstoque,
	TablePortais,
	TableVendedores,
	TableUsuarios,
	TableVisitas,
	TableNotas,
	TableScripts,
}

// IsTracked reports whether table participates in remote reconciliation.
func IsTracked(table string) bool {
	for _, t := range TrackedTables {
		if t == table {
			return true
		}
	}
	return false
}
