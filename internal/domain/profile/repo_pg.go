package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phigate/phigate/internal/platform/hipaa"
)

type profileRepoPG struct {
	pool *pgxpool.Pool
	enc  *hipaa.EncryptionService
}

// NewRepoPG creates a Postgres-backed repository. Fields are sealed with enc
// before storage and opened after retrieval.
func NewRepoPG(pool *pgxpool.Pool, enc *hipaa.EncryptionService) Repository {
	return &profileRepoPG{pool: pool, enc: enc}
}

const profileCols = `id, subject, name, email, phone, date_of_birth, government_id, created_at, updated_at`

func (r *profileRepoPG) GetBySubject(ctx context.Context, subject string) (*Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profile WHERE subject = $1`, subject).Scan(
		&p.ID, &p.Subject, &p.Name, &p.Email, &p.Phone, &p.DateOfBirth, &p.GovernmentID, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	if err := unseal(r.enc, &p); err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	return &p, nil
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *Profile) error {
	row, err := sealed(r.enc, p)
	if err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO profile (id, subject, name, email, phone, date_of_birth, government_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (subject) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			date_of_birth = EXCLUDED.date_of_birth, government_id = EXCLUDED.government_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), row.Subject, row.Name, row.Email, row.Phone, row.DateOfBirth, row.GovernmentID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}
	return nil
}

func (r *profileRepoPG) Delete(ctx context.Context, subject string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM profile WHERE subject = $1`, subject)
	if err != nil {
		return fmt.Errorf("profile delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
