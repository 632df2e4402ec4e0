package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
)

// ErrNoToken is returned when the remote login succeeds without a token.
var ErrNoToken = errors.New("auth: login response carries no token")

// API is the part of the remote client the service needs.
type API interface {
	Post(ctx context.Context, path string, body, out any) error
}

// Service signs users in against the back-office API.
type Service struct {
	api    API
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs a new Service. audit may be nil.
func NewService(api API, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, audit: audit, logger: logger}
}

// Authenticate exchanges credentials for a bearer token and the user profile.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (string, shared.CurrentUser, error) {
	body := map[string]string{
		"email":    strings.TrimSpace(creds.Email),
		"password": creds.Password,
	}
	var rec remote.Record
	if err := s.api.Post(ctx, "/auth/login", body, &rec); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrValidation) || errors.Is(err, remote.ErrNotFound) {
			return "", shared.CurrentUser{}, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
		}
		return "", shared.CurrentUser{}, err
	}
	token := rec.String("token", "accessToken", "access_token")
	if token == "" {
		return "", shared.CurrentUser{}, ErrNoToken
	}
	var user shared.CurrentUser
	if inner, ok := rec["user"].(map[string]any); ok {
		user = userFromRecord(remote.Record(inner))
	} else {
		user = userFromRecord(rec)
	}
	if user.Email == "" {
		user.Email = body["email"]
		if user.Name == "" {
			user.Name = user.Email
		}
	}
	s.record(ctx, user.ID, "auth.login")
	return token, user, nil
}

// RecordLogout writes the logout audit row.
func (s *Service) RecordLogout(ctx context.Context, userID string) {
	s.record(ctx, userID, "auth.logout")
}

func (s *Service) record(ctx context.Context, userID, action string) {
	if userID == "" {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: userID, Action: action, Entity: "session", EntityID: userID}); err != nil {
		s.logger.Warn("audit session", slog.String("action", action), slog.Any("error", err))
	}
}
