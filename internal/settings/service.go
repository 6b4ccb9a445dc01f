package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

// RepositoryPort defines data access methods for settings.
type RepositoryPort interface {
	Get(ctx context.Context, name string) (Stored, bool, error)
	List(ctx context.Context) (map[string]Stored, error)
	Put(ctx context.Context, name string, value json.RawMessage, updatedBy int64) (Stored, error)
}

// Service reads and writes integration settings.
type Service struct {
	repo      RepositoryPort
	audit     shared.Auditor
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validator: shared.NewValidator()}
}

func lookup(name string) (Integration, error) {
	in, ok := Lookup(name)
	if !ok {
		return Integration{}, shared.NotFound("Unknown integration " + name)
	}
	return in, nil
}

// List summarizes every integration for actor.
func (s *Service) List(ctx context.Context, actor principal.Principal) ([]Summary, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(integrations))
	for _, in := range integrations {
		_, configured := stored[in.Name]
		out = append(out, Summary{
			Name:       in.Name,
			Permission: in.Permission,
			Editable:   actor.Can(in.Permission),
			Configured: configured,
		})
	}
	return out, nil
}

// Get returns one integration. Secrets are masked unless actor may edit it.
func (s *Service) Get(ctx context.Context, actor principal.Principal, name string) (Entry, error) {
	in, err := lookup(name)
	if err != nil {
		return Entry{}, err
	}
	value, row, err := s.current(ctx, in)
	if err != nil {
		return Entry{}, err
	}
	editable := actor.Can(in.Permission)
	if !editable {
		for _, field := range in.Secrets {
			if v, ok := value[field].(string); ok && v != "" {
				value[field] = Mask
			}
		}
	}
	return entry(in, value, row, editable), nil
}

// Put validates and stores an integration. Secret fields posted as the mask
// keep their stored value.
func (s *Service) Put(ctx context.Context, actor principal.Principal, name string, body json.RawMessage) (Entry, error) {
	in, err := lookup(name)
	if err != nil {
		return Entry{}, err
	}
	if err := permissions.Can(actor.Subject(), in.Permission); err != nil {
		return Entry{}, err
	}

	var posted map[string]any
	if err := json.Unmarshal(body, &posted); err != nil || posted == nil {
		return Entry{}, shared.Invalid("malformed JSON body")
	}
	existing, _, err := s.current(ctx, in)
	if err != nil {
		return Entry{}, err
	}
	for _, field := range in.Secrets {
		if v, ok := posted[field].(string); ok && v == Mask {
			posted[field] = existing[field]
		}
	}

	merged, err := json.Marshal(posted)
	if err != nil {
		return Entry{}, err
	}
	target := in.newValue()
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return Entry{}, shared.Invalid("invalid " + name + " settings: " + err.Error())
	}
	if err := httpx.Validate(s.validator, target); err != nil {
		return Entry{}, err
	}
	normalized, err := json.Marshal(target)
	if err != nil {
		return Entry{}, err
	}
	row, err := s.repo.Put(ctx, name, normalized, actor.ID)
	if err != nil {
		return Entry{}, err
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: "settings.update", Entity: "app_config", EntityID: name}); err != nil {
		s.logger.Warn("audit", slog.String("action", "settings.update"), slog.Any("error", err))
	}
	value, err := decode(in, row.Value)
	if err != nil {
		return Entry{}, err
	}
	return entry(in, value, &row, true), nil
}

// current returns the stored value layered over the integration defaults.
func (s *Service) current(ctx context.Context, in Integration) (map[string]any, *Stored, error) {
	row, ok, err := s.repo.Get(ctx, in.Name)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return in.Default(), nil, nil
	}
	value, err := decode(in, row.Value)
	if err != nil {
		return nil, nil, err
	}
	return value, &row, nil
}

func decode(in Integration, raw json.RawMessage) (map[string]any, error) {
	target := in.newValue()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, err
		}
	}
	normalized, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func entry(in Integration, value map[string]any, row *Stored, editable bool) Entry {
	e := Entry{Name: in.Name, Value: value, Editable: editable}
	if row != nil {
		at := row.UpdatedAt
		e.UpdatedAt = &at
		e.UpdatedBy = row.UpdatedBy
	}
	return e
}
