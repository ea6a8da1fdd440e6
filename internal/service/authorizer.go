package service

import (
	"context"
	"log/slog"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

// refPrecedence is the order in which identity forms are tried against the
// participant fields of a meeting. The first match wins.
var refPrecedence = []domain.RefKind{
	domain.RefRawID,
	domain.RefProfile,
	domain.RefEmail,
}

// Authorizer decides whether an authenticated identity is one of the two
// participants of a meeting, and with which role. Bookings may reference a
// participant by account id, by one of the account's profile ids or by
// email, so every form is resolved before comparing.
type Authorizer struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	log      *slog.Logger
}

func NewAuthorizer(accounts repository.AccountRepository, profiles repository.ProfileRepository, log *slog.Logger) *Authorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Authorizer{
		accounts: accounts,
		profiles: profiles,
		log:      log,
	}
}

// Authorize returns the role identity holds in m. Lookup failures never
// surface: a form that cannot be resolved simply does not match.
func (a *Authorizer) Authorize(ctx context.Context, m *domain.Meeting, identity string) (domain.Role, bool) {
	const op = "service.authorizer.authorize"
	if identity == "" || m == nil {
		return "", false
	}

	log := a.log.With(
		slog.String("op", op),
		slog.String("meeting_id", m.ID),
		slog.String("identity", identity),
	)

	for _, kind := range refPrecedence {
		refs, err := a.resolve(ctx, kind, identity)
		if err != nil {
			log.Debug("identity form not resolved", slog.String("kind", kind.String()), sl.Err(err))
			continue
		}
		for _, ref := range refs {
			if role, ok := ref.RoleIn(m); ok {
				log.Debug("participant matched", slog.String("kind", kind.String()), slog.String("role", string(role)))
				return role, true
			}
		}
	}

	return "", false
}

func (a *Authorizer) CanJoin(ctx context.Context, m *domain.Meeting, identity string) bool {
	_, ok := a.Authorize(ctx, m, identity)
	return ok
}

func (a *Authorizer) resolve(ctx context.Context, kind domain.RefKind, identity string) ([]domain.ParticipantRef, error) {
	switch kind {
	case domain.RefRawID:
		return []domain.ParticipantRef{domain.RawIDRef(identity)}, nil
	case domain.RefProfile:
		if a.profiles == nil {
			return nil, nil
		}
		profiles, err := a.profiles.ListByAccountID(ctx, identity)
		if err != nil {
			return nil, err
		}
		refs := make([]domain.ParticipantRef, 0, len(profiles))
		for _, p := range profiles {
			refs = append(refs, domain.ProfileRef(p.ID))
		}
		return refs, nil
	case domain.RefEmail:
		if a.accounts == nil {
			return nil, nil
		}
		account, err := a.accounts.GetByID(ctx, identity)
		if err != nil {
			return nil, err
		}
		if account.Email == "" {
			return nil, nil
		}
		return []domain.ParticipantRef{domain.EmailRef(account.Email)}, nil
	default:
		return nil, nil
	}
}
