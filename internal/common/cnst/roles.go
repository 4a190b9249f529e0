package cnst

// Role represents a user's privilege level within a loja.
type Role string

const (
	RoleSDR       Role = "sdr"
	RoleVendedor  Role = "vendedor"
	RoleGerente   Role = "gerente"
	RoleAdmin     Role = "admin"
	RoleMaster    Role = "master"
	RoleDeveloper Role = "developer"
)

// Privileged reports whether the role may see every row in its loja.
// Unknown or empty roles are not privileged: visibility fails closed.
func (r Role) Privileged() bool {
	switch r {
	case RoleGerente, RoleAdmin, RoleMaster, RoleDeveloper:
		return true
	default:
		return false
	}
}

// Temperatura classifies how warm a lead is.
const (
	TemperaturaQuente = "Quente"
	TemperaturaMorno  = "Morno"
	TemperaturaFrio   = "Frio"
)

// Pipeline statuses a visita moves through.
const (
	PipelineAgendado            = "Agendado"
	PipelineNegociacao          = "Negociação"
	PipelineAguardandoAprovacao = "Aguardando Aprovação"
	PipelineVendido             = "Vendido"
	PipelinePerdido             = "Perdido"
	PipelineStandBy             = "Stand-by"
	PipelineFinalizado          = "Finalizado"
)
