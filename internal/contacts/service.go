package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/platform/cache"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
)

const cacheNamespace = "contacts"

// Validation errors.
var (
	ErrEmptyReply    = errors.New("contacts: reply is empty")
	ErrReplyTooLong  = errors.New("contacts: reply exceeds 5000 characters")
	ErrInvalidStatus = errors.New("contacts: invalid status")
)

// API is the part of the remote client the service needs.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error)
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

// Service reads and answers contact messages.
type Service struct {
	api         API
	cache       *cache.Versioned
	audit       *shared.AuditLogger
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService constructs the service. cache, audit and idempotency may be nil.
func NewService(api API, c *cache.Versioned, audit *shared.AuditLogger, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, cache: c, audit: audit, idempotency: idem, validate: validator.New(), logger: logger}
}

// List returns one page of messages.
func (s *Service) List(ctx context.Context, query url.Values) (listing.Page[Message], error) {
	key, err := s.cache.Key(ctx, cacheNamespace, cache.Scope(remote.TokenFromContext(ctx)), query.Encode())
	if err != nil {
		s.logger.Warn("list cache unavailable", slog.Any("error", err))
		return s.load(ctx, query)
	}
	var page listing.Page[Message]
	err = s.cache.FetchJSON(ctx, key, &page, func(ctx context.Context) (any, error) {
		return s.load(ctx, query)
	})
	return page, err
}

func (s *Service) load(ctx context.Context, query url.Values) (listing.Page[Message], error) {
	raw, err := s.api.GetRaw(ctx, RemotePath, query)
	if err != nil {
		return listing.Page[Message]{}, err
	}
	payload, err := remote.DecodeList(raw)
	if err != nil {
		return listing.Page[Message]{}, err
	}
	items := make([]Message, 0, len(payload.Items))
	for _, rec := range payload.Items {
		items = append(items, fromRecord(rec))
	}
	return listing.PageFromPayload(items, payload, query), nil
}

// Get loads one message.
func (s *Service) Get(ctx context.Context, id string) (Message, error) {
	var rec remote.Record
	if err := s.api.Get(ctx, RemotePath+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return Message{}, err
	}
	if inner, ok := rec["contact"].(map[string]any); ok {
		rec = remote.Record(inner)
	}
	return fromRecord(rec), nil
}

// ValidateReply rejects blank or oversized replies without a network call.
func (s *Service) ValidateReply(in ReplyInput) error {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return ErrEmptyReply
	}
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrReplyTooLong, err)
	}
	return nil
}

// Reply sends an answer to the visitor. key is the one-shot form token.
func (s *Service) Reply(ctx context.Context, id string, in ReplyInput, actor, key string) error {
	if err := s.ValidateReply(in); err != nil {
		return err
	}
	if err := s.idempotency.Claim(ctx, key, "contacts.reply"); err != nil {
		return err
	}
	text := strings.TrimSpace(in.Text)
	if err := s.api.Post(ctx, RemotePath+"/"+url.PathEscape(id)+"/reply", map[string]string{"message": text}, nil); err != nil {
		if relErr := s.idempotency.Release(ctx, key); relErr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", relErr))
		}
		return err
	}
	s.record(ctx, actor, "contact.reply", id, map[string]any{"length": len(text)})
	return nil
}

// SetStatus changes the message status.
func (s *Service) SetStatus(ctx context.Context, id string, in StatusInput, actor string) error {
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	if err := s.api.Put(ctx, RemotePath+"/"+url.PathEscape(id)+"/status", map[string]string{"status": in.Status}, nil); err != nil {
		return err
	}
	s.record(ctx, actor, "contact.status", id, map[string]any{"status": in.Status})
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "contact", EntityID: id, Meta: meta}); err != nil {
		s.logger.Error("audit contact", slog.String("action", action), slog.Any("error", err))
	}
	if err := s.cache.Bump(ctx, cacheNamespace); err != nil {
		s.logger.Warn("bump list cache", slog.Any("error", err))
	}
}
