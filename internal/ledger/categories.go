package ledger

import (
	"context"

	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

// CreateCategory adds a category. Names are unique ignoring case.
func (l *Ledger) CreateCategory(ctx context.Context, spec model.NewCategory) (*model.Category, error) {
	cat, err := l.store.CreateCategory(ctx, spec)
	if err != nil {
		return nil, err
	}
	l.invalidateCategories()
	l.publish(EntityCategory, OpCreated, cat.ID)
	return cat, nil
}

// EnsureCategory returns the named category, creating it if needed.
func (l *Ledger) EnsureCategory(ctx context.Context, spec model.NewCategory) (*model.Category, error) {
	cat, created, err := l.store.EnsureCategory(ctx, spec)
	if err != nil {
		return nil, err
	}
	if created {
		l.invalidateCategories()
		l.publish(EntityCategory, OpCreated, cat.ID)
	}
	return cat, nil
}

// ListCategories returns every category ordered by name.
func (l *Ledger) ListCategories(ctx context.Context) ([]model.Category, error) {
	clone := func(cs []model.Category) []model.Category {
		if cs == nil {
			return nil
		}
		out := make([]model.Category, len(cs))
		for i := range cs {
			out[i] = cs[i].Clone()
		}
		return out
	}
	return cache.Load(l.cache, cache.TierReference, keyCategories+"all", clone, func() ([]model.Category, error) {
		return l.store.ListCategories(ctx)
	})
}

// GetCategoryByName looks a category up by name, ignoring case. It returns
// nil when there is none.
func (l *Ledger) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	return l.store.GetCategoryByName(ctx, name)
}

// UpdateCategory renames or restyles a category.
func (l *Ledger) UpdateCategory(ctx context.Context, id string, update model.CategoryUpdate) (*model.Category, error) {
	cat, err := l.store.UpdateCategory(ctx, id, update)
	if err != nil {
		return nil, err
	}
	l.invalidateCategories()
	l.publish(EntityCategory, OpUpdated, cat.ID)
	return cat, nil
}
