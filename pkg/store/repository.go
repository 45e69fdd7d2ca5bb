package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// jsonRepository persists one entity kind as a JSONB payload, following the
// pkg/database/repository_consensus.go pattern (INSERT ... ON CONFLICT ...
// RETURNING, a JSONB column for the bulk of the record) generalized so a
// single helper backs every per-component repository instead of repeating
// the same hand-written SQL nine times over.
type jsonRepository struct {
	client   *Client
	table    string
	idColumn string
}

func newJSONRepository(client *Client, table, idColumn string) *jsonRepository {
	return &jsonRepository{client: client, table: table, idColumn: idColumn}
}

// put upserts one row: idColumn, any extra indexed columns (for filtering in
// List), and the JSON-encoded payload.
func (r *jsonRepository) put(ctx context.Context, id string, extra map[string]string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s payload: %w", r.table, err)
	}

	cols := []string{r.idColumn}
	placeholders := []string{"$1"}
	args := []any{id}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cols = append(cols, k)
		args = append(args, extra[k])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	cols = append(cols, "payload")
	args = append(args, payload)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

	updates := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", k, k))
	}
	updates = append(updates, "payload = EXCLUDED.payload", "updated_at = now()")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		r.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), r.idColumn, strings.Join(updates, ", "),
	)

	_, err = r.client.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", r.table, err)
	}
	return nil
}

// get loads one row's payload into dest (a pointer).
func (r *jsonRepository) get(ctx context.Context, id string, dest any) error {
	query := fmt.Sprintf("SELECT payload FROM %s WHERE %s = $1", r.table, r.idColumn)

	var payload json.RawMessage
	err := r.client.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s: %w", r.table, err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("store: unmarshal %s payload: %w", r.table, err)
	}
	return nil
}

// list loads every row matching an optional equality filter, ordered by
// insertion.
func (r *jsonRepository) list(ctx context.Context, filterCol, filterVal string) ([]json.RawMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filterCol == "" {
		rows, err = r.client.QueryContext(ctx, fmt.Sprintf("SELECT payload FROM %s ORDER BY created_at", r.table))
	} else {
		query := fmt.Sprintf("SELECT payload FROM %s WHERE %s = $1 ORDER BY created_at", r.table, filterCol)
		rows, err = r.client.QueryContext(ctx, query, filterVal)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload json.RawMessage
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", r.table, err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}
