package ledger

import (
	"context"

	"github.com/Veraticus/pocket-ledger/internal/cache"
)

// SetPreference stores a user preference.
func (l *Ledger) SetPreference(ctx context.Context, key, value string) error {
	if err := l.store.SetPreference(ctx, key, value); err != nil {
		return err
	}
	l.cache.Invalidate(keyPreference + key)
	l.publish(EntityPreference, OpUpdated, key)
	return nil
}

// GetPreference returns a preference value, or nil when unset.
func (l *Ledger) GetPreference(ctx context.Context, key string) (*string, error) {
	clone := func(v *string) *string {
		if v == nil {
			return nil
		}
		c := *v
		return &c
	}
	return cache.Load(l.cache, cache.TierReference, keyPreference+key, clone, func() (*string, error) {
		return l.store.GetPreference(ctx, key)
	})
}

// DeletePreference removes a preference.
func (l *Ledger) DeletePreference(ctx context.Context, key string) error {
	if err := l.store.DeletePreference(ctx, key); err != nil {
		return err
	}
	l.cache.Invalidate(keyPreference + key)
	l.publish(EntityPreference, OpDeleted, key)
	return nil
}

// ListPreferences returns every stored preference.
func (l *Ledger) ListPreferences(ctx context.Context) (map[string]string, error) {
	return l.store.ListPreferences(ctx)
}
