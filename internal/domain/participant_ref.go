package domain

import "strings"

type RefKind int

const (
	RefRawID RefKind = iota
	RefProfile
	RefEmail
)

func (k RefKind) String() string {
	switch k {
	case RefRawID:
		return "raw-id"
	case RefProfile:
		return "profile"
	case RefEmail:
		return "email"
	default:
		return "unknown"
	}
}

// ParticipantRef is one canonical form an identity can take when compared
// against a stored participant field.
type ParticipantRef struct {
	Kind  RefKind
	Value string
}

func RawIDRef(id string) ParticipantRef {
	return ParticipantRef{Kind: RefRawID, Value: id}
}

func ProfileRef(profileID string) ParticipantRef {
	return ParticipantRef{Kind: RefProfile, Value: profileID}
}

func EmailRef(email string) ParticipantRef {
	return ParticipantRef{Kind: RefEmail, Value: strings.ToLower(strings.TrimSpace(email))}
}

// Matches compares the ref against a stored participant field. Email refs only
// match fields that were stored as an email address.
func (r ParticipantRef) Matches(field string) bool {
	if r.Value == "" || field == "" {
		return false
	}
	if r.Kind == RefEmail {
		return strings.Contains(field, "@") && r.Value == strings.ToLower(strings.TrimSpace(field))
	}
	return r.Value == field
}

// RoleIn returns the role whose participant field matches the ref.
func (r ParticipantRef) RoleIn(m *Meeting) (Role, bool) {
	switch {
	case r.Matches(m.ParticipantA):
		return RoleHost, true
	case r.Matches(m.ParticipantB):
		return RoleGuest, true
	default:
		return "", false
	}
}
