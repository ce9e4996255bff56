package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var authTracer = otel.Tracer("service/auth")

const (
	// supabaseAudience is the aud claim of user sessions issued by Supabase Auth.
	supabaseAudience = "authenticated"
	minPasswordLen   = 6
)

// AuthService validates Supabase access tokens and proxies the session
// endpoints of Supabase Auth.
type AuthService struct {
	gateway   port.AuthGateway
	profiles  port.ProfileStore
	roles     port.Cache[domain.Role]
	jwtSecret []byte
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewAuthService(gateway port.AuthGateway, profiles port.ProfileStore, roles port.Cache[domain.Role], jwtSecret string, metrics *observability.Metrics, logger *zap.Logger) *AuthService {
	return &AuthService{
		gateway:   gateway,
		profiles:  profiles,
		roles:     roles,
		jwtSecret: []byte(jwtSecret),
		metrics:   metrics,
		logger:    logger,
	}
}

// SupabaseClaims are the claims of a Supabase Auth access token.
type SupabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ============================================================
// Authenticate: used by middleware
// ============================================================

// Authenticate validates a bearer token and resolves the caller's role.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	role, err := s.resolveRole(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", claims.Subject), attribute.String("user.role", string(role)))

	return &domain.Principal{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

func (s *AuthService) parseToken(tokenString string) (*SupabaseClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SupabaseClaims{}, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(supabaseAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*SupabaseClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	return claims, nil
}

// resolveRole reads profiles.role through the role cache. A user without
// a profile row is a plain user.
func (s *AuthService) resolveRole(ctx context.Context, userID string) (domain.Role, error) {
	if role, ok := s.roles.Get(userID); ok {
		s.metrics.IncrCacheHit("role")
		return role, nil
	}
	s.metrics.IncrCacheMiss("role")

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		s.metrics.IncrExternalError("profiles")
		return "", fmt.Errorf("get profile: %w", err)
	}
	role := domain.RoleUser
	if profile != nil && profile.Role == domain.RoleAdmin {
		role = domain.RoleAdmin
	}
	s.roles.Set(userID, role)
	return role, nil
}

// ============================================================
// Session endpoints
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.Session, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "Email e palavra-passe são obrigatórios"}
	}

	session, err := s.gateway.SignIn(ctx, email, req.Password)
	if err != nil {
		s.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return session, nil
}

// Register creates the Auth user and makes sure it has a profiles row.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.Session, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	email := strings.TrimSpace(req.Email)
	if !domain.ValidEmail(email) {
		return nil, &domain.ErrValidation{Field: "email", Message: "Email inválido"}
	}
	if len(req.Password) < minPasswordLen {
		return nil, &domain.ErrValidation{
			Field:   "password",
			Message: fmt.Sprintf("Palavra-passe deve ter pelo menos %d caracteres", minPasswordLen),
		}
	}

	session, err := s.gateway.SignUp(ctx, email, req.Password)
	if err != nil {
		return nil, err
	}

	if session.User != nil {
		if err := s.EnsureProfile(ctx, session.User.ID, email); err != nil {
			s.logger.Error("register: profile not created",
				zap.String("user_id", session.User.ID), zap.Error(err))
		}
	}

	s.logger.Info("user registered", zap.String("email", email))
	return session, nil
}

// EnsureProfile inserts a profiles row with role user unless one exists.
func (s *AuthService) EnsureProfile(ctx context.Context, userID, email string) error {
	existing, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if existing != nil {
		return nil
	}
	return s.profiles.UpsertProfile(ctx, &domain.Profile{ID: userID, Email: email, Role: domain.RoleUser})
}

func (s *AuthService) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.Session, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	if req.RefreshToken == "" {
		return nil, &domain.ErrValidation{Field: "refresh_token", Message: "Token de atualização obrigatório"}
	}
	return s.gateway.RefreshSession(ctx, req.RefreshToken)
}

func (s *AuthService) Logout(ctx context.Context, principal *domain.Principal, accessToken string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	if err := s.gateway.SignOut(ctx, accessToken); err != nil {
		return err
	}
	if principal != nil {
		s.roles.Delete(principal.UserID)
		s.logger.Info("user logged out", zap.String("user_id", principal.UserID))
	}
	return nil
}
