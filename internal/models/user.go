package models

// Role represents caller roles carried in service tokens
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Actions guarded by the HTTP layer
const (
	ActionRunSync        = "run_sync"
	ActionLinkWorkOrder  = "link_work_order"
	ActionCloseReminder  = "close_reminder"
	ActionManageSchedule = "manage_schedules"
	ActionViewReminders  = "view_reminders"
)

// Claims represents JWT claims
type Claims struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	Exp     int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform an action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRunSync || action == ActionLinkWorkOrder ||
			action == ActionManageSchedule || action == ActionViewReminders
	case RoleOperator:
		return action == ActionLinkWorkOrder || action == ActionCloseReminder ||
			action == ActionViewReminders
	case RoleViewer:
		return action == ActionViewReminders
	default:
		return false
	}
}
