package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventedge/hypepipe/internal/audit"
	"github.com/eventedge/hypepipe/internal/domain"
)

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS hypepipe_audit_events (
    id              BIGSERIAL PRIMARY KEY,
    ts              TIMESTAMPTZ NOT NULL DEFAULT now(),
    agent_id        TEXT NOT NULL,
    user_id         BIGINT,
    cap             TEXT NOT NULL,
    request_id      TEXT NOT NULL,
    trace_id        TEXT NOT NULL,
    decision        TEXT NOT NULL,
    latency_ms      INTEGER,
    policy_version  TEXT,
    deny_reason     TEXT,
    asof            TEXT,
    cache_hit       BOOLEAN
)`

// Добивка колонок для таблиц, созданных ранними ревизиями сервиса.
var migrateAuditColumnsSQL = []string{
	"ALTER TABLE hypepipe_audit_events ADD COLUMN IF NOT EXISTS policy_version TEXT",
	"ALTER TABLE hypepipe_audit_events ADD COLUMN IF NOT EXISTS deny_reason TEXT",
	"ALTER TABLE hypepipe_audit_events ADD COLUMN IF NOT EXISTS asof TEXT",
	"ALTER TABLE hypepipe_audit_events ADD COLUMN IF NOT EXISTS cache_hit BOOLEAN",
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureSchema — идемпотентно: CREATE IF NOT EXISTS + аддитивные ALTER.
// Безопасно звать сколько угодно раз.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createAuditTableSQL); err != nil {
		return fmt.Errorf("postgres: failed to ensure audit table: %w", err)
	}
	for _, stmt := range migrateAuditColumnsSQL {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: failed to migrate audit column: %w", err)
		}
	}
	return nil
}

// InsertBatch сохраняет пачку записей одним запросом (Bulk Insert).
func (r *AuditRepo) InsertBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в INSERT
	const numFields = 12
	var sb strings.Builder
	vals := make([]interface{}, 0, len(records)*numFields)

	for i, rec := range records {
		p := i * numFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			rec.Ts, rec.AgentID, rec.UserID, rec.Cap, rec.RequestID, rec.TraceID,
			rec.Decision, rec.LatencyMs, nullStr(rec.PolicyVersion),
			nullStr(rec.DenyReason), nullStr(rec.AsOf), rec.CacheHit,
		)
	}

	query := "INSERT INTO hypepipe_audit_events " +
		"(ts, agent_id, user_id, cap, request_id, trace_id, decision, latency_ms, policy_version, deny_reason, asof, cache_hit) VALUES " +
		sb.String()

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FetchRecords возвращает последние записи с фильтрацией по агенту и
// способности. Пустой фильтр означает «все».
func (r *AuditRepo) FetchRecords(ctx context.Context, agentID, capID string, limit int) ([]audit.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ts, agent_id, user_id, cap, request_id, trace_id, decision,
		       COALESCE(latency_ms, 0), policy_version, deny_reason, asof, cache_hit
		FROM hypepipe_audit_events
		WHERE ($1 = '' OR agent_id = $1)
		  AND ($2 = '' OR cap = $2)
		ORDER BY ts DESC
		LIMIT $3`, agentID, capID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch audit records: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Record, 0, limit)
	for rows.Next() {
		var rec audit.Record
		var policyVersion, denyReason, asof *string
		if err := rows.Scan(&rec.Ts, &rec.AgentID, &rec.UserID, &rec.Cap, &rec.RequestID,
			&rec.TraceID, &rec.Decision, &rec.LatencyMs, &policyVersion, &denyReason,
			&asof, &rec.CacheHit); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		rec.PolicyVersion = deref(policyVersion)
		rec.DenyReason = deref(denyReason)
		rec.AsOf = deref(asof)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats — агрегаты дашборда за последние 60 минут.
// PERCENTILE_CONT дает честный P95 вместо среднего.
func (r *AuditRepo) Stats(ctx context.Context) (*domain.GatewayStats, error) {
	s := &domain.GatewayStats{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT agent_id),
			COUNT(*) FILTER (WHERE decision IN ('deny', 'scope_denied', 'unknown_cap')),
			COUNT(*) FILTER (WHERE decision = 'error'),
			COUNT(*) FILTER (WHERE cache_hit),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM hypepipe_audit_events
		WHERE ts > NOW() - INTERVAL '60 minutes'`).Scan(
		&s.Activity.TotalRequests,
		&s.Activity.UniqueAgents,
		&s.Incidents.Denied,
		&s.Incidents.HandlerFails,
		&s.Quality.CacheHits,
		&s.Quality.P95Latency,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch gateway stats: %w", err)
	}

	// RPS = всего запросов за час / 3600
	s.Activity.RPS = float64(s.Activity.TotalRequests) / 3600

	return s, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
