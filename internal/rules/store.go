package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voltguard/internal/model"
	"voltguard/internal/storage"
)

// Soft ceiling defaults to this fraction of the hard ceiling when not
// supplied by the operator.
const softCeilingFactor = 0.85

var ErrNotFound = errors.New("rule not found")

// Input is the operator-supplied rule payload. Validation happens here
// so malformed rules never reach the evaluator.
type Input struct {
	Name             string                `json:"name"`
	HardCeilingPrice float64               `json:"hard_ceiling_price"`
	SoftCeilingPrice float64               `json:"soft_ceiling_price"`
	FloorPrice       float64               `json:"floor_price"`
	AffectedGroups   []model.PriorityGroup `json:"affected_priority_groups"`
	Active           *bool                 `json:"active"`
}

// Store keeps the rule set in memory with write-through persistence
// when a backing store is configured.
type Store struct {
	mu     sync.RWMutex
	rules  map[string]model.Rule
	store  storage.Store
	logger *slog.Logger
}

func NewStore(store storage.Store, logger *slog.Logger) *Store {
	return &Store{
		rules:  make(map[string]model.Rule),
		store:  store,
		logger: logger,
	}
}

// Load hydrates the in-memory set from persistence.
func (s *Store) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	persisted, err := s.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range persisted {
		s.rules[r.ID] = r
	}
	return nil
}

// List returns all rules sorted by ascending hard ceiling, so the most
// conservative applicable rule is evaluated first.
func (s *Store) List() []model.Rule {
	s.mu.RLock()
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].HardCeilingPrice != out[b].HardCeilingPrice {
			return out[a].HardCeilingPrice < out[b].HardCeilingPrice
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// ListActive returns only active rules, in the same ordering as List.
func (s *Store) ListActive() []model.Rule {
	all := s.List()
	out := all[:0]
	for _, r := range all {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) Get(id string) (model.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	return r, ok
}

func (s *Store) Create(ctx context.Context, in Input) (model.Rule, error) {
	rule, err := buildRule(in)
	if err != nil {
		return model.Rule{}, err
	}
	rule.ID = uuid.NewString()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.mu.Lock()
	s.rules[rule.ID] = rule
	s.mu.Unlock()
	s.persist(ctx, rule)
	return rule, nil
}

func (s *Store) Update(ctx context.Context, id string, in Input) (model.Rule, error) {
	rule, err := buildRule(in)
	if err != nil {
		return model.Rule{}, err
	}
	s.mu.Lock()
	existing, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return model.Rule{}, ErrNotFound
	}
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if in.Active == nil {
		rule.Active = existing.Active
	}
	s.rules[id] = rule
	s.mu.Unlock()
	s.persist(ctx, rule)
	return rule, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.rules[id]
	if ok {
		delete(s.rules, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.store != nil {
		if err := s.store.DeleteRule(ctx, id); err != nil && s.logger != nil {
			s.logger.Warn("rule delete persist failed", "rule_id", id, "err", err)
		}
	}
	return nil
}

func (s *Store) persist(ctx context.Context, rule model.Rule) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertRule(ctx, rule); err != nil && s.logger != nil {
		s.logger.Warn("rule persist failed", "rule_id", rule.ID, "err", err)
	}
}

// buildRule validates an input payload and fills defaults. Invariant:
// floor < soft ceiling <= hard ceiling.
func buildRule(in Input) (model.Rule, error) {
	if in.HardCeilingPrice <= 0 {
		return model.Rule{}, errors.New("hard_ceiling_price must be > 0")
	}
	if in.FloorPrice < 0 {
		return model.Rule{}, errors.New("floor_price must be >= 0")
	}
	soft := in.SoftCeilingPrice
	if soft == 0 {
		soft = in.HardCeilingPrice * softCeilingFactor
	}
	if soft > in.HardCeilingPrice {
		return model.Rule{}, fmt.Errorf("soft_ceiling_price %.2f exceeds hard_ceiling_price %.2f", soft, in.HardCeilingPrice)
	}
	if in.FloorPrice >= soft {
		return model.Rule{}, fmt.Errorf("floor_price %.2f must be below soft_ceiling_price %.2f", in.FloorPrice, soft)
	}
	if len(in.AffectedGroups) == 0 {
		return model.Rule{}, errors.New("affected_priority_groups must not be empty")
	}
	for _, g := range in.AffectedGroups {
		if !g.Valid() {
			return model.Rule{}, fmt.Errorf("unknown priority group %q", g)
		}
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return model.Rule{
		Name:             in.Name,
		HardCeilingPrice: in.HardCeilingPrice,
		SoftCeilingPrice: soft,
		FloorPrice:       in.FloorPrice,
		AffectedGroups:   append([]model.PriorityGroup(nil), in.AffectedGroups...),
		Active:           active,
	}, nil
}
