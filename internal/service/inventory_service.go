package service

import (
	"context"
	"fmt"
	"strings"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

// ItemRef names an item the way callers know it. Stacks written by older
// code may be keyed by any of the three.
type ItemRef struct {
	Key  string
	Icon string
	ID   string
}

// LookupStrategy turns an ItemRef into one storage query. It reports false
// when the ref carries nothing to match on.
type LookupStrategy func(ItemRef) (domain.InventoryMatch, bool)

func byTypeKey(fold bool) LookupStrategy {
	return func(ref ItemRef) (domain.InventoryMatch, bool) {
		if ref.Key == "" {
			return domain.InventoryMatch{}, false
		}
		return domain.InventoryMatch{Field: domain.MatchTypeKey, Value: ref.Key, FoldCase: fold}, true
	}
}

func byIcon(fold bool) LookupStrategy {
	return func(ref ItemRef) (domain.InventoryMatch, bool) {
		if ref.Icon == "" {
			return domain.InventoryMatch{}, false
		}
		return domain.InventoryMatch{Field: domain.MatchIcon, Value: ref.Icon, FoldCase: fold}, true
	}
}

func byItemID(ref ItemRef) (domain.InventoryMatch, bool) {
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return domain.InventoryMatch{}, false
	}
	return domain.InventoryMatch{Field: domain.MatchItemID, Value: id.String()}, true
}

// DefaultLookup is tried in order: exact key, case-insensitive key, exact
// icon, case-insensitive icon, drop-item id.
var DefaultLookup = []LookupStrategy{
	byTypeKey(false),
	byTypeKey(true),
	byIcon(false),
	byIcon(true),
	byItemID,
}

// InventoryService writes stacks in canonical form and reads them
// tolerantly.
type InventoryService struct {
	store    repository.Store
	strategy []LookupStrategy
	now      Clock
}

func NewInventoryService(store repository.Store, clock Clock) *InventoryService {
	return &InventoryService{store: store, strategy: DefaultLookup, now: clockOrDefault(clock)}
}

func canonical(desc domain.ItemDescriptor) (domain.ItemDescriptor, error) {
	desc.TypeKey = strings.TrimSpace(desc.TypeKey)
	if (desc.TypeKey == "") == (desc.ItemID == nil) {
		return desc, fmt.Errorf("%w: stack needs exactly one of type key and item id", domain.ErrInvalidInput)
	}
	if desc.Kind == "" {
		desc.Kind = domain.InventoryKindDrop
		if desc.TypeKey != "" {
			desc.Kind = domain.InventoryKindBarter
		}
	}
	return desc, nil
}

// Grant adds qty to the canonical stack for desc.
func (s *InventoryService) Grant(ctx context.Context, r repository.Repos, userID int64, desc domain.ItemDescriptor, qty int64) (*domain.InventoryEntry, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	desc, err := canonical(desc)
	if err != nil {
		return nil, err
	}
	return r.Inventory().Upsert(ctx, userID, desc, qty, s.now())
}

// Take removes qty of ref from one stack, trying each lookup strategy in
// turn. It returns ErrNotEnoughItems when no stack matched.
func (s *InventoryService) Take(ctx context.Context, r repository.Repos, userID int64, ref ItemRef, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	for _, strategy := range s.strategy {
		m, ok := strategy(ref)
		if !ok {
			continue
		}
		taken, err := r.Inventory().DecrementMatching(ctx, userID, m, qty)
		if err != nil {
			return err
		}
		if taken {
			return nil
		}
	}
	return domain.ErrNotEnoughItems
}

// takeUndoable takes ref and records a grant of the same descriptor on comp.
func (s *InventoryService) takeUndoable(ctx context.Context, r repository.Repos, comp *compensator, userID int64, ref ItemRef, restore domain.ItemDescriptor, qty int64) error {
	if err := s.Take(ctx, r, userID, ref, qty); err != nil {
		return err
	}
	comp.add(func(ctx context.Context) error {
		_, err := s.Grant(ctx, r, userID, restore, qty)
		return err
	})
	return nil
}

// grantUndoable grants desc and records taking it back on comp.
func (s *InventoryService) grantUndoable(ctx context.Context, r repository.Repos, comp *compensator, userID int64, desc domain.ItemDescriptor, qty int64) (*domain.InventoryEntry, error) {
	e, err := s.Grant(ctx, r, userID, desc, qty)
	if err != nil {
		return nil, err
	}
	ref := ItemRef{Key: e.TypeKey}
	if e.ItemID != nil {
		ref.ID = e.ItemID.String()
	}
	comp.add(func(ctx context.Context) error {
		return s.Take(ctx, r, userID, ref, qty)
	})
	return e, nil
}

// List returns the non-empty stacks of a user.
func (s *InventoryService) List(ctx context.Context, userID int64) ([]domain.InventoryEntry, error) {
	all, err := s.store.Inventory().List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InventoryEntry, 0, len(all))
	for _, e := range all {
		if e.Qty > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count sums the quantity a user holds of ref across every stack shape.
func (s *InventoryService) Count(ctx context.Context, userID int64, ref ItemRef) (int64, error) {
	all, err := s.store.Inventory().List(ctx, userID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range all {
		if refMatches(ref, &e) {
			n += e.Qty
		}
	}
	return n, nil
}

func refMatches(ref ItemRef, e *domain.InventoryEntry) bool {
	switch {
	case ref.Key != "" && e.TypeKey != "" && domain.FoldKey(ref.Key) == domain.FoldKey(e.TypeKey):
		return true
	case ref.Icon != "" && e.Icon != "" && domain.FoldKey(ref.Icon) == domain.FoldKey(e.Icon):
		return true
	}
	if e.ItemID == nil {
		return false
	}
	id, err := uuid.Parse(ref.ID)
	return err == nil && *e.ItemID == id
}

// barterRef builds the lookup ref for a catalog item. raw is the key the
// client sent, which may be a drop-item id.
func barterRef(item *domain.CatalogItem, raw string) ItemRef {
	return ItemRef{Key: item.Key, Icon: item.Icon, ID: raw}
}

// barterDescriptor is the canonical stack for a catalog item.
func barterDescriptor(item *domain.CatalogItem) domain.ItemDescriptor {
	return domain.ItemDescriptor{
		Kind:          domain.InventoryKindBarter,
		TypeKey:       item.Key,
		Title:         item.Title,
		Icon:          item.Icon,
		Rarity:        item.Rarity,
		Points:        item.GivesPoints,
		BarterAllowed: true,
	}
}
