// Package rbac provides role-based access control for callers, tools, and
// mesh endpoints. Checks are pure lookups with no side effects; callers
// branch on the returned boolean and are responsible for auditing denials.
package rbac

import "sync"

// Role classifies a caller or endpoint identity.
type Role string

// Caller roles, from most to least privileged.
const (
	RoleAdmin    Role = "ADMIN"
	RoleLead     Role = "LEAD"
	RoleWorker   Role = "WORKER"
	RoleReviewer Role = "REVIEWER"
	RoleReader   Role = "READER"
)

// IsValid returns true if the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleLead, RoleWorker, RoleReviewer, RoleReader:
		return true
	}
	return false
}

// Permission names a single guarded capability. Each tool declares exactly
// one required permission; mesh primitives require the llm:* family.
type Permission string

// The fixed permission enumeration.
const (
	PermMemoryRead     Permission = "memory:read"
	PermMemoryWrite    Permission = "memory:write"
	PermMemoryValidate Permission = "memory:validate"
	PermCodeExec       Permission = "code:exec"
	PermFileRead       Permission = "file:read"
	PermFileWrite      Permission = "file:write"
	PermLLMCall        Permission = "llm:call"
	PermLLMBroadcast   Permission = "llm:broadcast"
	PermLLMConsensus   Permission = "llm:consensus"
	PermLLMDelegate    Permission = "llm:delegate"
	PermAuditRead      Permission = "audit:read"
	PermAuditWrite     Permission = "audit:write"
	PermQueueSubmit    Permission = "queue:submit"
	PermQueueManage    Permission = "queue:manage"
	PermChainStart     Permission = "chain:start"
	PermChainManage    Permission = "chain:manage"
	PermToolRegister   Permission = "tool:register"
	PermHealthCheck    Permission = "health:check"
	PermConfigRead     Permission = "config:read"
	PermAdminFull      Permission = "admin:full"
)

// rolePermissions is the fixed role→permission table. ADMIN is handled by
// the admin:full short-circuit and carries only that permission explicitly.
var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermAdminFull: true,
	},
	RoleLead: permSet(
		PermMemoryRead, PermMemoryWrite, PermMemoryValidate,
		PermCodeExec, PermFileRead, PermFileWrite,
		PermLLMCall, PermLLMBroadcast, PermLLMConsensus, PermLLMDelegate,
		PermAuditRead, PermAuditWrite,
		PermQueueSubmit, PermQueueManage,
		PermChainStart, PermChainManage,
		PermToolRegister, PermHealthCheck, PermConfigRead,
	),
	RoleWorker: permSet(
		PermMemoryRead, PermMemoryWrite,
		PermLLMCall, PermCodeExec, PermFileRead, PermFileWrite,
		PermAuditWrite, PermHealthCheck,
	),
	RoleReviewer: permSet(
		PermMemoryRead, PermMemoryValidate,
		PermLLMCall, PermAuditRead, PermHealthCheck,
	),
	RoleReader: permSet(
		PermMemoryRead, PermAuditRead, PermHealthCheck, PermConfigRead,
	),
}

func permSet(perms ...Permission) map[Permission]bool {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Checker resolves caller identities to roles and answers permission checks.
// Role assignments come from configuration (endpoint defaults plus
// per-deployment overrides); unknown callers get the least privileged role.
type Checker struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewChecker creates a checker with the given identity→role assignments.
// The map is copied; later assignment changes go through SetRole.
func NewChecker(assignments map[string]Role) *Checker {
	roles := make(map[string]Role, len(assignments))
	for id, role := range assignments {
		roles[id] = role
	}
	return &Checker{roles: roles}
}

// RoleOf returns the role assigned to callerID, defaulting to READER for
// unknown identities.
func (c *Checker) RoleOf(callerID string) Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if role, ok := c.roles[callerID]; ok {
		return role
	}
	return RoleReader
}

// SetRole assigns or overrides the role for an identity.
func (c *Checker) SetRole(callerID string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[callerID] = role
}

// Permissions returns the permission set for a role. The returned map is
// shared and must not be mutated.
func Permissions(role Role) map[Permission]bool {
	return rolePermissions[role]
}

// Can reports whether the caller holds the permission. ADMIN short-circuits
// every check to permit.
func (c *Checker) Can(callerID string, perm Permission) bool {
	role := c.RoleOf(callerID)
	if role == RoleAdmin {
		return true
	}
	perms := rolePermissions[role]
	return perms[perm] || perms[PermAdminFull]
}

// CanUseTool reports whether the caller may invoke a tool requiring the
// given permission.
func (c *Checker) CanUseTool(callerID string, required Permission) bool {
	return c.Can(callerID, required)
}

// CanCall reports whether the caller may invoke a mesh endpoint directly.
func (c *Checker) CanCall(callerID, target string) bool {
	_ = target // every endpoint is reachable once llm:call is held
	return c.Can(callerID, PermLLMCall)
}
