package rules

import (
	"context"
	"testing"

	"voltguard/internal/model"
)

func validInput() Input {
	return Input{
		Name:             "peak shaving",
		HardCeilingPrice: 100,
		FloorPrice:       20,
		AffectedGroups:   []model.PriorityGroup{model.GroupLow},
	}
}

func TestCreateDefaultsSoftCeiling(t *testing.T) {
	s := NewStore(nil, nil)
	rule, err := s.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rule.SoftCeilingPrice != 85 {
		t.Fatalf("expected default soft ceiling 85, got %v", rule.SoftCeilingPrice)
	}
	if !rule.Active {
		t.Fatalf("rules default to active")
	}
	if rule.ID == "" {
		t.Fatalf("rule must get an id")
	}
}

func TestCreateRejectsBadThresholds(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	in := validInput()
	in.FloorPrice = 90
	if _, err := s.Create(ctx, in); err == nil {
		t.Fatalf("expected error: floor above soft ceiling")
	}

	in = validInput()
	in.SoftCeilingPrice = 120
	if _, err := s.Create(ctx, in); err == nil {
		t.Fatalf("expected error: soft above hard ceiling")
	}

	in = validInput()
	in.HardCeilingPrice = 0
	if _, err := s.Create(ctx, in); err == nil {
		t.Fatalf("expected error: zero hard ceiling")
	}

	in = validInput()
	in.AffectedGroups = []model.PriorityGroup{"urgent"}
	if _, err := s.Create(ctx, in); err == nil {
		t.Fatalf("expected error: unknown priority group")
	}

	in = validInput()
	in.AffectedGroups = nil
	if _, err := s.Create(ctx, in); err == nil {
		t.Fatalf("expected error: empty groups")
	}
}

func TestListSortedByHardCeiling(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	for _, ceiling := range []float64{300, 100, 200} {
		in := validInput()
		in.HardCeilingPrice = ceiling
		if _, err := s.Create(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].HardCeilingPrice < list[i-1].HardCeilingPrice {
			t.Fatalf("rules not sorted ascending: %v", list)
		}
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	rule, err := s.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := validInput()
	in.HardCeilingPrice = 150
	updated, err := s.Update(ctx, rule.ID, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.HardCeilingPrice != 150 {
		t.Fatalf("update did not apply, got %v", updated.HardCeilingPrice)
	}
	if updated.ID != rule.ID {
		t.Fatalf("update must keep the rule id")
	}

	if _, err := s.Update(ctx, "missing", validInput()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, rule.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListActiveFilters(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	inactive := false
	in := validInput()
	in.Active = &inactive
	if _, err := s.Create(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, validInput()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := len(s.ListActive()); got != 1 {
		t.Fatalf("expected 1 active rule, got %d", got)
	}
}
