package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserPermissionsResolveRoles(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.CreateRole(Role{RoleName: "analyst", Permissions: []string{"eng", "tool:grid:filter"}}))
	require.NoError(t, svc.CreateRole(Role{RoleName: "viewer", Permissions: []string{"sales"}}))
	require.NoError(t, svc.CreateUser(User{UserID: "u1", TenantID: "t1", Roles: []string{"analyst", "viewer", "ghost"}}))

	assert.Equal(t, []string{"eng", "tool:grid:filter", "sales"}, svc.UserPermissions("u1"))
	assert.Empty(t, svc.UserPermissions("unknown"))
	assert.NotNil(t, svc.UserPermissions("unknown"))
}

func TestCreateValidation(t *testing.T) {
	svc := NewService()
	assert.EqualError(t, svc.CreateRole(Role{}), "role_name is required")
	assert.EqualError(t, svc.CreateUser(User{TenantID: "t"}), "user_id is required")
	assert.EqualError(t, svc.CreateUser(User{UserID: "u"}), "tenant_id is required")
}

func TestUsageCounters(t *testing.T) {
	svc := NewService()
	svc.IncrementUsage(UsageToolRuns)
	svc.IncrementUsage(UsageToolRuns)
	svc.IncrementUsage(UsageRAGQueries)
	svc.IncrementUsage(UsagePolicyViolations)
	svc.IncrementUsage("bogus")

	assert.Equal(t, UsageStats{ToolRuns: 2, RAGQueries: 1, PolicyViolations: 1}, svc.UsageStats())
}
