package access

// Capability is a single permission granted to a role.
type Capability uint16

const (
	CapAllCities Capability = 1 << iota
	CapAllMonths
	CapViewAnalytics
	CapManageVisitors
	CapRecordAttendance
	CapManageEvents
	CapManageUsers
	CapPurgeVisitors
)

var capabilityNames = map[Capability]string{
	CapAllCities:        "all_cities",
	CapAllMonths:        "all_months",
	CapViewAnalytics:    "view_analytics",
	CapManageVisitors:   "manage_visitors",
	CapRecordAttendance: "record_attendance",
	CapManageEvents:     "manage_events",
	CapManageUsers:      "manage_users",
	CapPurgeVisitors:    "purge_visitors",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

const staffBase = CapManageVisitors | CapRecordAttendance

// capabilities is the role → permission table. It is the only place where
// role privileges are decided.
var capabilities = map[Role]Capability{
	RoleSuperAdmin: CapAllCities | CapAllMonths | CapViewAnalytics | staffBase |
		CapManageEvents | CapManageUsers | CapPurgeVisitors,
	RolePasteur: CapAllCities | CapAllMonths | CapViewAnalytics | staffBase |
		CapManageEvents | CapManageUsers,
	RoleSuperviseur: CapAllMonths | CapViewAnalytics | staffBase | CapManageEvents,
	RoleReferent:    CapViewAnalytics | staffBase,
	RoleAccueil:     CapAllMonths | staffBase,
}

// Can reports whether the role holds the capability. Unknown roles hold nothing.
func (r Role) Can(c Capability) bool {
	return capabilities[r]&c == c
}

// Principal is the authenticated caller as seen by the domain packages.
type Principal struct {
	UserID string
	Role   Role
	// City is the tenant the user belongs to. Ignored for roles with CapAllCities.
	City string
	// Month is the "YYYY-MM" cohort a referent is responsible for.
	Month string
}

// Can is a shorthand for p.Role.Can.
func (p Principal) Can(c Capability) bool {
	return p.Role.Can(c)
}
