package authz

// Role is a member's function within one school. The set is closed:
// memberships carrying any other value resolve to an empty permission
// set.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAdmin, RoleTeacher, RoleStaff, RoleStudent, RoleParent:
		return Role(value), true
	default:
		return Role(value), false
	}
}

// Permission is a feature-level capability checked by handlers.
type Permission string

const (
	PermViewDashboard    Permission = "view_dashboard"
	PermViewReports      Permission = "view_reports"
	PermManageExams      Permission = "manage_exams"
	PermViewGrades       Permission = "view_grades"
	PermManageInventory  Permission = "manage_inventory"
	PermManageUsers      Permission = "manage_users"
	PermManageFees       Permission = "manage_fees"
	PermManageTimetable  Permission = "manage_timetable"
	PermManageAttendance Permission = "manage_attendance"
	PermIssueAssets      Permission = "issue_assets"
)

// rolePermissions is the static role grant table. It deliberately has
// no admin row: the admin bypass lives in Evaluate, so editing this
// table can never widen or narrow what admins may do.
var rolePermissions = map[Role][]Permission{
	RoleTeacher: {PermViewGrades, PermManageExams, PermManageAttendance, PermViewDashboard},
	RoleParent:  {PermViewGrades, PermViewDashboard},
	RoleStudent: {PermViewDashboard},
	RoleStaff:   {PermManageInventory, PermIssueAssets},
}

// RoleHasPermission consults the grant table only; it does not apply
// the admin bypass.
func RoleHasPermission(role Role, perm Permission) bool {
	for _, granted := range rolePermissions[role] {
		if granted == perm {
			return true
		}
	}
	return false
}
