package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var userTracer = otel.Tracer("service/users")

// UserService manages application roles on top of Supabase Auth users.
type UserService struct {
	gateway  port.AuthGateway
	profiles port.ProfileStore
	roles    port.Cache[domain.Role]
	audit    Auditor
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewUserService(gateway port.AuthGateway, profiles port.ProfileStore, roles port.Cache[domain.Role], audit Auditor, metrics *observability.Metrics, logger *zap.Logger) *UserService {
	return &UserService{
		gateway:  gateway,
		profiles: profiles,
		roles:    roles,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
	}
}

// List merges Auth users with their profile role, oldest first.
// Users without a profile row are reported as plain users.
func (s *UserService) List(ctx context.Context) ([]domain.UserWithRole, error) {
	ctx, span := userTracer.Start(ctx, "UserService.List")
	defer span.End()

	var (
		users    []domain.AuthUser
		profiles []domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.gateway.ListAuthUsers(gctx)
		if err != nil {
			s.metrics.IncrExternalError("auth")
			return fmt.Errorf("list auth users: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		profiles, err = s.profiles.ListProfiles(gctx)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	roles := make(map[string]domain.Role, len(profiles))
	for _, p := range profiles {
		roles[p.ID] = p.Role
	}

	out := make([]domain.UserWithRole, 0, len(users))
	for _, u := range users {
		role := roles[u.ID]
		if role != domain.RoleAdmin {
			role = domain.RoleUser
		}
		out = append(out, domain.UserWithRole{
			ID:           u.ID,
			Email:        u.Email,
			Role:         role,
			CreatedAt:    u.CreatedAt,
			LastSignInAt: u.LastSignInAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	span.SetAttributes(attribute.Int("users.count", len(out)))
	return out, nil
}

// Promote grants the admin role.
func (s *UserService) Promote(ctx context.Context, actor *domain.Principal, userID string) error {
	ctx, span := userTracer.Start(ctx, "UserService.Promote")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if profile != nil && profile.Role == domain.RoleAdmin {
		return &domain.ErrConflict{Message: "Utilizador já é administrador"}
	}

	email := ""
	if profile != nil {
		email = profile.Email
	} else {
		u, err := s.findAuthUser(ctx, userID)
		if err != nil {
			return err
		}
		email = u.Email
	}

	if err := s.profiles.UpsertProfile(ctx, &domain.Profile{ID: userID, Email: email, Role: domain.RoleAdmin}); err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	s.roles.Delete(userID)
	s.metrics.IncrMutation(domain.EntityUser, "promote")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionUtilizadorPromovido,
		Details:    fmt.Sprintf("Utilizador %q promovido a admin (ID: %s)", email, userID),
		EntityType: domain.EntityUser,
		EntityID:   userID,
	})
	s.logger.Info("user promoted", zap.String("user_id", userID), zap.String("actor", actor.Actor()))
	return nil
}

// Demote revokes the admin role. Admins cannot demote themselves and the
// last admin cannot be demoted.
func (s *UserService) Demote(ctx context.Context, actor *domain.Principal, userID string) error {
	ctx, span := userTracer.Start(ctx, "UserService.Demote")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if actor != nil && actor.UserID == userID {
		return &domain.ErrConflict{Message: "Não pode remover o seu próprio acesso de administrador"}
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if profile == nil || profile.Role != domain.RoleAdmin {
		return &domain.ErrConflict{Message: "Utilizador não é administrador"}
	}

	admins, err := s.profiles.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins <= 1 {
		return &domain.ErrConflict{Message: "Não é possível remover o último administrador"}
	}

	if err := s.profiles.UpdateProfileRole(ctx, userID, domain.RoleUser); err != nil {
		return fmt.Errorf("demote user: %w", err)
	}
	s.roles.Delete(userID)
	s.metrics.IncrMutation(domain.EntityUser, "demote")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionUtilizadorDespromovido,
		Details:    fmt.Sprintf("Utilizador %q despromovido a user (ID: %s)", profile.Email, userID),
		EntityType: domain.EntityUser,
		EntityID:   userID,
	})
	s.logger.Info("user demoted", zap.String("user_id", userID), zap.String("actor", actor.Actor()))
	return nil
}

// Me returns the caller's own profile.
func (s *UserService) Me(ctx context.Context, principal *domain.Principal) (*domain.Profile, error) {
	ctx, span := userTracer.Start(ctx, "UserService.Me")
	defer span.End()

	profile, err := s.profiles.GetProfile(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if profile == nil {
		return &domain.Profile{ID: principal.UserID, Email: principal.Email, Role: domain.RoleUser}, nil
	}
	return profile, nil
}

func (s *UserService) findAuthUser(ctx context.Context, userID string) (*domain.AuthUser, error) {
	users, err := s.gateway.ListAuthUsers(ctx)
	if err != nil {
		s.metrics.IncrExternalError("auth")
		return nil, fmt.Errorf("list auth users: %w", err)
	}
	for i := range users {
		if users[i].ID == userID {
			return &users[i], nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
}
