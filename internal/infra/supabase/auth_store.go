package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
)

// ============================================================
// AuthGateway implementation: Supabase Auth (GoTrue) endpoints
// ============================================================

const authUsersPerPage = 1000

func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignIn")
	defer span.End()

	session, err := c.tokenGrant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		var validation *domain.ErrValidation
		if errors.As(err, &validation) {
			return nil, &domain.ErrUnauthorized{Message: "Email ou palavra-passe inválidos"}
		}
		return nil, err
	}
	return session, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RefreshSession")
	defer span.End()

	session, err := c.tokenGrant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		var validation *domain.ErrValidation
		if errors.As(err, &validation) {
			return nil, &domain.ErrUnauthorized{Message: "Token de atualização inválido"}
		}
		return nil, err
	}
	return session, nil
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body map[string]string) (*domain.Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, "supabase/auth", request{
		method: http.MethodPost,
		api:    "auth/v1",
		path:   "token",
		query:  url.Values{"grant_type": {grantType}},
		body:   payload,
	})
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(resp.body, &session); err != nil {
		return nil, fmt.Errorf("decode auth session: %w", err)
	}
	return &session, nil
}

// SignUp registers a user. When e-mail confirmation is enabled Supabase
// returns only the user; the session is then empty apart from User.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignUp")
	defer span.End()

	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, "supabase/auth", request{
		method: http.MethodPost,
		api:    "auth/v1",
		path:   "signup",
		body:   payload,
	})
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(resp.body, &session); err != nil {
		return nil, fmt.Errorf("decode signup: %w", err)
	}
	if session.AccessToken == "" && session.User == nil {
		var user domain.AuthUser
		if err := json.Unmarshal(resp.body, &user); err != nil {
			return nil, fmt.Errorf("decode signup user: %w", err)
		}
		session.User = &user
	}
	return &session, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "Supabase.SignOut")
	defer span.End()

	_, err := c.execute(ctx, "supabase/auth", request{
		method: http.MethodPost,
		api:    "auth/v1",
		path:   "logout",
		bearer: accessToken,
	})
	return err
}

// ListAuthUsers pages through the admin users endpoint (service-role key).
func (c *Client) ListAuthUsers(ctx context.Context) ([]domain.AuthUser, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAuthUsers")
	defer span.End()

	var all []domain.AuthUser
	for page := 1; ; page++ {
		resp, err := c.execute(ctx, "supabase/auth-admin", request{
			method: http.MethodGet,
			api:    "auth/v1",
			path:   "admin/users",
			query: url.Values{
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(authUsersPerPage)},
			},
		})
		if err != nil {
			return nil, err
		}

		var body struct {
			Users []domain.AuthUser `json:"users"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return nil, fmt.Errorf("decode admin users: %w", err)
		}
		all = append(all, body.Users...)
		if len(body.Users) < authUsersPerPage {
			return all, nil
		}
	}
}
