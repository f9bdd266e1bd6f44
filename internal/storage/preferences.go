package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetPreference stores a value under key, replacing any previous value.
func (q *queries) SetPreference(ctx context.Context, key, value string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO user_preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, q.Now(),
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to set preference %s: %w", key, err))
	}
	return nil
}

// GetPreference returns the value stored under key, or nil if unset.
func (q *queries) GetPreference(ctx context.Context, key string) (*string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	var value string
	err := q.q.QueryRowContext(ctx, `SELECT value FROM user_preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to get preference %s: %w", key, err))
	}
	return &value, nil
}

// DeletePreference removes key. Removing an unset key is not an error.
func (q *queries) DeletePreference(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, `DELETE FROM user_preferences WHERE key = ?`, key); err != nil {
		return classifyError(fmt.Errorf("failed to delete preference %s: %w", key, err))
	}
	return nil
}

// ListPreferences returns every stored preference.
func (q *queries) ListPreferences(ctx context.Context) (map[string]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx, `SELECT key, value FROM user_preferences ORDER BY key`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to list preferences: %w", err))
	}
	defer func() { _ = rows.Close() }()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}
