package filings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/platform/cache"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
)

// ErrInvalidStatus wraps validation failures of a status change.
var ErrInvalidStatus = errors.New("filings: invalid status update")

// API is the part of the remote client the service needs.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error)
	Put(ctx context.Context, path string, body, out any) error
}

// Service loads and mutates submissions through the remote API.
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
	return &Service{
		api:         api,
		cache:       c,
		audit:       audit,
		idempotency: idem,
		validate:    validator.New(),
		logger:      logger,
	}
}

// List returns one page of submissions for query (status, search, the
// secondary key, page and limit).
func (s *Service) List(ctx context.Context, kind KindInfo, query url.Values) (listing.Page[Submission], error) {
	load := func(ctx context.Context) (any, error) {
		return s.load(ctx, kind, query)
	}
	key, err := s.cache.Key(ctx, string(kind.Kind), cache.Scope(remote.TokenFromContext(ctx)), query.Encode())
	if err != nil {
		s.logger.Warn("list cache unavailable", slog.String("kind", string(kind.Kind)), slog.Any("error", err))
		return s.load(ctx, kind, query)
	}
	var page listing.Page[Submission]
	if err := s.cache.FetchJSON(ctx, key, &page, load); err != nil {
		return listing.Page[Submission]{}, err
	}
	return page, nil
}

func (s *Service) load(ctx context.Context, kind KindInfo, query url.Values) (listing.Page[Submission], error) {
	raw, err := s.api.GetRaw(ctx, kind.RemotePath, query)
	if err != nil {
		return listing.Page[Submission]{}, err
	}
	payload, err := remote.DecodeList(raw)
	if err != nil {
		return listing.Page[Submission]{}, err
	}
	items := make([]Submission, 0, len(payload.Items))
	for _, rec := range payload.Items {
		items = append(items, fromRecord(rec))
	}
	return listing.PageFromPayload(items, payload, query), nil
}

// Get loads one submission.
func (s *Service) Get(ctx context.Context, kind KindInfo, id string) (Submission, error) {
	var rec remote.Record
	if err := s.api.Get(ctx, kind.RemotePath+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return Submission{}, err
	}
	// Some endpoints wrap the record once more: {"data":{"form":{...}}}.
	if inner, ok := rec["form"].(map[string]any); ok {
		rec = remote.Record(inner)
	}
	return fromRecord(rec), nil
}

// Validate checks a status change without touching the network.
func (s *Service) Validate(upd StatusUpdate) error {
	if err := s.validate.Struct(upd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	return nil
}

// UpdateStatus validates and applies a status change. key is the one-shot
// form token; a replayed key yields shared.ErrIdempotencyConflict.
func (s *Service) UpdateStatus(ctx context.Context, kind KindInfo, id string, upd StatusUpdate, actor, key string) error {
	if err := s.Validate(upd); err != nil {
		return err
	}
	if err := s.idempotency.Claim(ctx, key, "filings.status"); err != nil {
		return err
	}
	body := map[string]string{"status": upd.Status}
	if upd.Note != "" {
		body["note"] = upd.Note
	}
	if err := s.api.Put(ctx, kind.RemotePath+"/"+url.PathEscape(id)+"/status", body, nil); err != nil {
		if relErr := s.idempotency.Release(ctx, key); relErr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", relErr))
		}
		return err
	}

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   "status.update",
		Entity:   string(kind.Kind) + "_form",
		EntityID: id,
		Meta:     map[string]any{"status": upd.Status, "note": upd.Note},
	}); err != nil {
		s.logger.Error("audit status update", slog.String("id", id), slog.Any("error", err))
	}
	if err := s.cache.Bump(ctx, string(kind.Kind)); err != nil {
		s.logger.Warn("bump list cache", slog.String("kind", string(kind.Kind)), slog.Any("error", err))
	}
	return nil
}

// FieldErrors maps a validation failure onto form field messages.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			out["status"] = "Choose a valid status."
		}
		return out
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "Status":
			out["status"] = "Choose one of: Pending, In Review, Completed, Rejected."
		case "Note":
			out["note"] = "Notes are limited to 1000 characters."
		}
	}
	return out
}
