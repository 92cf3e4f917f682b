package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanManage reports whether the role may administer agents and queues and
// act on calls owned by other agents.
func CanManage(role string) bool {
	switch role {
	case RoleOwner, RoleSupervisor, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
