package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Privileged(t *testing.T) {
	assert.True(t, RoleGerente.Privileged())
	assert.True(t, RoleAdmin.Privileged())
	assert.True(t, RoleMaster.Privileged())
	assert.True(t, RoleDeveloper.Privileged())

	assert.False(t, RoleSDR.Privileged())
	assert.False(t, RoleVendedor.Privileged())
}

func TestRole_UnknownFailsClosed(t *testing.T) {
	assert.False(t, Role("").Privileged())
	assert.False(t, Role("superuser").Privileged())
	assert.False(t, Role("ADMIN").Privileged())
}

func TestIsTracked(t *testing.T) {
	for _, table := range TrackedTables {
		assert.True(t, IsTracked(table))
	}
	assert.False(t, IsTracked(TableLojas))
	assert.False(t, IsTracked("pedidos"))
}
