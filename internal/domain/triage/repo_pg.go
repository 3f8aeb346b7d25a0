package triage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type interactionRepoPG struct{ pool *pgxpool.Pool }

func NewInteractionRepoPG(pool *pgxpool.Pool) InteractionRepository {
	return &interactionRepoPG{pool: pool}
}

func (r *interactionRepoPG) ListActive(ctx context.Context) ([]*Interaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, drug_a, drug_b, severity, message, active
		FROM drug_interactions WHERE active ORDER BY drug_a, drug_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.DrugA, &it.DrugB, &it.Severity, &it.Message, &it.Active); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}
