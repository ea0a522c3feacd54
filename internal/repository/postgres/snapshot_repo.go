package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventedge/hypepipe/internal/snapshots"
)

// SnapshotRepo читает витрину edge_dataset_registry: последние полезные
// нагрузки датасетов, которые пишут сборщики телеметрии.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// GetSnapshot возвращает payload по ключу датасета.
// Отсутствие строки — штатная ситуация: (nil, nil), не ошибка.
func (r *SnapshotRepo) GetSnapshot(ctx context.Context, key string) (*snapshots.Snapshot, error) {
	var raw []byte
	var updatedAt time.Time

	err := r.pool.QueryRow(ctx,
		`SELECT payload, updated_at FROM edge_dataset_registry WHERE dataset_key = $1`,
		key).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch snapshot %q: %w", key, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("postgres: malformed snapshot payload %q: %w", key, err)
	}

	return &snapshots.Snapshot{Payload: payload, UpdatedAt: updatedAt}, nil
}
