package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

const categoryColumns = `id, name, icon, color, is_user_defined, created_at, updated_at, last_synced, is_dirty`

func scanCategory(row rowScanner) (*model.Category, error) {
	var cat model.Category
	var lastSynced sql.NullTime
	if err := row.Scan(
		&cat.ID, &cat.Name, &cat.Icon, &cat.Color, &cat.IsUserDefined,
		&cat.CreatedAt, &cat.UpdatedAt, &lastSynced, &cat.IsDirty,
	); err != nil {
		return nil, err
	}
	cat.CreatedAt = cat.CreatedAt.UTC()
	cat.UpdatedAt = cat.UpdatedAt.UTC()
	cat.LastSynced = timePtr(lastSynced)
	return &cat, nil
}

// ListCategories returns all categories ordered by name.
func (q *queries) ListCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query categories: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "count", len(categories))
	return categories, nil
}

// GetCategory returns a category by id.
func (q *queries) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	cat, err := scanCategory(q.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrCategoryNotFound, id)
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query category: %w", err))
	}
	return cat, nil
}

// GetCategoryByName returns a category by its name, ignoring case.
// It returns nil when no category has that name.
func (q *queries) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	cat, err := scanCategory(q.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE name = ?`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Category not found
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query category: %w", err))
	}
	return cat, nil
}

// CreateCategory inserts a new category. Names are unique ignoring case.
func (q *queries) CreateCategory(ctx context.Context, spec model.NewCategory) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateNewCategory(spec); err != nil {
		return nil, err
	}

	now := q.Now()
	cat := &model.Category{
		ID:            q.NewID(),
		Name:          strings.TrimSpace(spec.Name),
		Icon:          spec.Icon,
		Color:         spec.Color,
		IsUserDefined: spec.IsUserDefined,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsDirty:       true,
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
		cat.ID, cat.Name, cat.Icon, cat.Color, cat.IsUserDefined, cat.CreatedAt, cat.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrDuplicateCategoryName, cat.Name)
		}
		return nil, classifyError(fmt.Errorf("failed to create category: %w", err))
	}

	slog.Info("created new category", "name", cat.Name, "id", cat.ID)
	return cat, nil
}

// EnsureCategory returns the category with the given name, creating it when
// absent. created reports whether a new row was inserted.
func (q *queries) EnsureCategory(ctx context.Context, spec model.NewCategory) (cat *model.Category, created bool, err error) {
	if err := validateNewCategory(spec); err != nil {
		return nil, false, err
	}

	existing, err := q.GetCategoryByName(ctx, spec.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	cat, err = q.CreateCategory(ctx, spec)
	if errors.Is(err, common.ErrDuplicateCategoryName) {
		// Lost a race with another writer; the row is there now.
		existing, err = q.GetCategoryByName(ctx, spec.Name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("%w: %s", common.ErrCategoryNotFound, spec.Name)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cat, true, nil
}

// UpdateCategory applies a partial update. A rename is carried through to the
// denormalized name on every budget for the category.
func (t *Tx) UpdateCategory(ctx context.Context, id string, update model.CategoryUpdate) (*model.Category, error) {
	cat, err := t.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be blank", ErrInvalidCategory)
		}
		cat.Name = name
	}
	if update.Icon != nil {
		cat.Icon = *update.Icon
	}
	if update.Color != nil {
		cat.Color = *update.Color
	}
	cat.UpdatedAt = t.Now()
	cat.IsDirty = true

	_, err = t.q.ExecContext(ctx, `
		UPDATE categories SET name = ?, icon = ?, color = ?, updated_at = ?, is_dirty = 1
		WHERE id = ?`,
		cat.Name, cat.Icon, cat.Color, cat.UpdatedAt, cat.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrDuplicateCategoryName, cat.Name)
		}
		return nil, classifyError(fmt.Errorf("failed to update category: %w", err))
	}

	if update.Name != nil {
		if _, err := t.q.ExecContext(ctx,
			`UPDATE budgets SET category_name = ? WHERE category_id = ?`, cat.Name, cat.ID,
		); err != nil {
			return nil, classifyError(fmt.Errorf("failed to rename category on budgets: %w", err))
		}
	}

	return cat, nil
}

// UpdateCategory runs Tx.UpdateCategory in its own transaction.
func (s *SQLiteStorage) UpdateCategory(ctx context.Context, id string, update model.CategoryUpdate) (*model.Category, error) {
	var out *model.Category
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.UpdateCategory(ctx, id, update)
		return err
	})
	return out, err
}

// RestoreCategory upserts a remote-origin category without marking it dirty.
// A local category with the same name but another id is merged into the
// remote one: it takes the remote id along with its transactions and budgets.
func (t *Tx) RestoreCategory(ctx context.Context, cat *model.Category) (*model.Category, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: category", ErrNilParameter)
	}
	if cat.ID == "" || strings.TrimSpace(cat.Name) == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrInvalidCategory)
	}

	now := t.Now()
	restored := *cat
	restored.Name = strings.TrimSpace(cat.Name)

	if err := t.adoptCategoryID(ctx, restored.Name, restored.ID); err != nil {
		return nil, err
	}
	if restored.CreatedAt.IsZero() {
		restored.CreatedAt = now
	}
	if restored.UpdatedAt.IsZero() {
		restored.UpdatedAt = now
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			color = excluded.color,
			is_user_defined = excluded.is_user_defined,
			updated_at = excluded.updated_at,
			last_synced = excluded.last_synced,
			is_dirty = 0`,
		restored.ID, restored.Name, restored.Icon, restored.Color, restored.IsUserDefined,
		restored.CreatedAt.UTC(), restored.UpdatedAt.UTC(), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrDuplicateCategoryName, restored.Name)
		}
		return nil, classifyError(fmt.Errorf("failed to restore category: %w", err))
	}

	if _, err := t.q.ExecContext(ctx,
		`UPDATE budgets SET category_name = ? WHERE category_id = ?`, restored.Name, restored.ID,
	); err != nil {
		return nil, classifyError(fmt.Errorf("failed to rename category on budgets: %w", err))
	}

	slog.Info("restored category from remote", "id", restored.ID, "name", restored.Name)
	return t.GetCategory(ctx, restored.ID)
}

// adoptCategoryID renames the id of the local category called name to
// remoteID, unless remoteID is already known or no such category exists.
// Transactions that move to the new id are marked dirty so their next push
// carries it.
func (t *Tx) adoptCategoryID(ctx context.Context, name, remoteID string) error {
	if _, err := t.GetCategory(ctx, remoteID); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrCategoryNotFound) {
		return err
	}

	local, err := t.GetCategoryByName(ctx, name)
	if err != nil || local == nil {
		return err
	}

	// Checked again at commit, once every reference has moved.
	if _, err := t.q.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
		return classifyError(fmt.Errorf("failed to defer foreign keys: %w", err))
	}
	now := t.Now()
	for _, update := range []struct {
		query string
		args  []any
	}{
		{`UPDATE categories SET id = ? WHERE id = ?`, []any{remoteID, local.ID}},
		{`UPDATE budgets SET category_id = ? WHERE category_id = ?`, []any{remoteID, local.ID}},
		{`UPDATE transactions SET category_id = ?, is_dirty = 1, updated_at = ? WHERE category_id = ?`, []any{remoteID, now, local.ID}},
	} {
		if _, err := t.q.ExecContext(ctx, update.query, update.args...); err != nil {
			return classifyError(fmt.Errorf("failed to merge category %s: %w", name, err))
		}
	}

	slog.Info("merged local category into remote", "name", name, "local_id", local.ID, "remote_id", remoteID)
	return nil
}

// RestoreCategory runs Tx.RestoreCategory in its own transaction.
func (s *SQLiteStorage) RestoreCategory(ctx context.Context, cat *model.Category) (*model.Category, error) {
	var out *model.Category
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.RestoreCategory(ctx, cat)
		return err
	})
	return out, err
}
