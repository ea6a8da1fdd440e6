package domain

type Role string

const (
	RoleHost  Role = "host"  // expert, participant A
	RoleGuest Role = "guest" // candidate, participant B
)

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// ParticipantField returns the participant field of m that backs the role.
func (r Role) ParticipantField(m *Meeting) string {
	if r == RoleHost {
		return m.ParticipantA
	}
	return m.ParticipantB
}

// EndPolicy says who may end a meeting for both participants.
type EndPolicy string

const (
	EndPolicyAny  EndPolicy = "any"
	EndPolicyHost EndPolicy = "host"
)

// ParseEndPolicy maps unknown values to EndPolicyAny.
func ParseEndPolicy(s string) EndPolicy {
	if EndPolicy(s) == EndPolicyHost {
		return EndPolicyHost
	}
	return EndPolicyAny
}

func (p EndPolicy) Allows(r Role) bool {
	return p != EndPolicyHost || r == RoleHost
}
