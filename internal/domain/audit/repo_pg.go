package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, resource, resource_id, ip_address, request_id, old_values, new_values)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.UserID, rec.Action, rec.Resource, rec.ResourceID,
		rec.IPAddress, rec.RequestID, rec.OldValues, rec.NewValues)
	return err
}

func (r *repoPG) ListByResource(ctx context.Context, resource string, resourceID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, action, resource, resource_id, ip_address, request_id, old_values, new_values, created_at
		FROM audit_log
		WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		resource, resourceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &rec.Resource, &rec.ResourceID,
			&rec.IPAddress, &rec.RequestID, &rec.OldValues, &rec.NewValues, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE resource = $1 AND resource_id = $2`,
		resource, resourceID).Scan(&total)
	return out, total, err
}
