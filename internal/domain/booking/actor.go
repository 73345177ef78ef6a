package booking

import "strings"

// Roles is the closed set of roles the booking rules care about. It is
// resolved once from the LMS launch and travels with the session.
type Roles uint8

const (
	RoleLearner Roles = 1 << iota
	RoleInstructor
	RoleAdministrator
)

func (r Roles) Has(role Roles) bool {
	return r&role != 0
}

func (r Roles) String() string {
	var names []string
	if r.Has(RoleLearner) {
		names = append(names, "learner")
	}
	if r.Has(RoleInstructor) {
		names = append(names, "instructor")
	}
	if r.Has(RoleAdministrator) {
		names = append(names, "administrator")
	}
	return strings.Join(names, ",")
}

// ParseLTIRoles maps an LTI roles claim to Roles. Both the short names
// ("Instructor") and the URN/URI forms are accepted; unknown roles are
// ignored. Teaching assistants and content developers manage slots, so they
// count as instructors.
func ParseLTIRoles(raw string) Roles {
	var roles Roles
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if i := strings.LastIndexAny(name, "/#"); i >= 0 {
			name = name[i+1:]
		}
		if i := strings.LastIndex(name, ":"); i >= 0 {
			name = name[i+1:]
		}
		switch strings.ToLower(name) {
		case "learner", "student":
			roles |= RoleLearner
		case "instructor", "teachingassistant", "contentdeveloper", "faculty":
			roles |= RoleInstructor
		case "administrator", "sysadmin":
			roles |= RoleAdministrator
		}
	}
	return roles
}

// Group is an LMS group the actor belongs to within the course.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actor is the principal booking or cancelling a reservation.
type Actor struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Roles       Roles   `json:"roles"`
	LMSCourseID string  `json:"lms_course_id"`
	Domain      string  `json:"domain"`
	Groups      []Group `json:"groups,omitempty"`
}

// CanBook reports whether the actor may hold reservations at all.
func (a Actor) CanBook() bool {
	return !a.Roles.Has(RoleInstructor) && !a.Roles.Has(RoleAdministrator)
}

// CanManage reports whether the actor may edit courses and slots.
func (a Actor) CanManage() bool {
	return a.Roles.Has(RoleInstructor) || a.Roles.Has(RoleAdministrator)
}

// InCourse reports whether the session was launched from lmsCourseID.
// Administrators reach every course.
func (a Actor) InCourse(lmsCourseID string) bool {
	return a.Roles.Has(RoleAdministrator) || a.LMSCourseID == lmsCourseID
}

// Manages reports whether the actor may administer the LMS course.
func (a Actor) Manages(lmsCourseID string) bool {
	return a.CanManage() && a.InCourse(lmsCourseID)
}

func (a Actor) InGroup(groupID string) bool {
	for _, g := range a.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}

func (a Actor) Group(groupID string) (Group, bool) {
	for _, g := range a.Groups {
		if g.ID == groupID {
			return g, true
		}
	}
	return Group{}, false
}

func (a Actor) GroupIDs() []string {
	ids := make([]string, 0, len(a.Groups))
	for _, g := range a.Groups {
		ids = append(ids, g.ID)
	}
	return ids
}
