// Package admin keeps tenant users, their roles, role permissions and
// service usage counters.
package admin

import (
	"fmt"
	"strings"
	"sync"
)

// Usage counter keys.
const (
	UsageToolRuns         = "tool_runs"
	UsageRAGQueries       = "rag_queries"
	UsagePolicyViolations = "policy_violations"
)

// Role maps a role name to the permissions it grants.
type Role struct {
	RoleName    string   `json:"role_name"`
	Permissions []string `json:"permissions"`
}

func (r Role) Validate() error {
	if strings.TrimSpace(r.RoleName) == "" {
		return fmt.Errorf("role_name is required")
	}
	return nil
}

// User assigns roles to a user within a tenant.
type User struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

func (u User) Validate() error {
	if strings.TrimSpace(u.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(u.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	return nil
}

// UsageStats is a snapshot of the usage counters.
type UsageStats struct {
	ToolRuns         int `json:"tool_runs"`
	RAGQueries       int `json:"rag_queries"`
	PolicyViolations int `json:"policy_violations"`
}

// Service stores roles, users and usage in memory. Safe for concurrent use.
type Service struct {
	mu    sync.RWMutex
	roles map[string][]string
	users map[string]User
	usage map[string]int
}

func NewService() *Service {
	return &Service{
		roles: make(map[string][]string),
		users: make(map[string]User),
		usage: map[string]int{
			UsageToolRuns:         0,
			UsageRAGQueries:       0,
			UsagePolicyViolations: 0,
		},
	}
}

// CreateRole creates or replaces a role.
func (s *Service) CreateRole(r Role) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.RoleName] = append([]string(nil), r.Permissions...)
	return nil
}

// CreateUser creates or replaces a user.
func (s *Service) CreateUser(u User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	u.Roles = append([]string(nil), u.Roles...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
	return nil
}

// UserPermissions resolves a user's roles to the permissions they grant, in
// role order. Unknown users and roles contribute nothing.
func (s *Service) UserPermissions(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := []string{}
	for _, role := range s.users[userID].Roles {
		perms = append(perms, s.roles[role]...)
	}
	return perms
}

// IncrementUsage bumps a known usage counter; unknown keys are ignored.
func (s *Service) IncrementUsage(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usage[key]; ok {
		s.usage[key]++
	}
}

// UsageStats returns the current counters.
func (s *Service) UsageStats() UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return UsageStats{
		ToolRuns:         s.usage[UsageToolRuns],
		RAGQueries:       s.usage[UsageRAGQueries],
		PolicyViolations: s.usage[UsagePolicyViolations],
	}
}
