package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phigate/phigate/internal/platform/hipaa"
)

// sqliteTime is fixed width so stored timestamps compare as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

type profileRepoSQLite struct {
	db  *sql.DB
	enc *hipaa.EncryptionService
	now func() time.Time
}

// NewRepoSQLite creates a repository on an embedded SQLite database.
func NewRepoSQLite(db *sql.DB, enc *hipaa.EncryptionService) Repository {
	return &profileRepoSQLite{db: db, enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

func (r *profileRepoSQLite) GetBySubject(ctx context.Context, subject string) (*Profile, error) {
	var (
		p                Profile
		id, created, upd string
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profile WHERE subject = ?`, subject).Scan(
		&id, &p.Subject, &p.Name, &p.Email, &p.Phone, &p.DateOfBirth, &p.GovernmentID, &created, &upd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	if err := scanMeta(&p, id, created, upd); err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	if err := unseal(r.enc, &p); err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	return &p, nil
}

func (r *profileRepoSQLite) Upsert(ctx context.Context, p *Profile) error {
	row, err := sealed(r.enc, p)
	if err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}

	now := r.now().Format(sqliteTime)
	var id, created, upd string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO profile (id, subject, name, email, phone, date_of_birth, government_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (subject) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			date_of_birth = excluded.date_of_birth, government_id = excluded.government_id,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`,
		uuid.NewString(), row.Subject, row.Name, row.Email, row.Phone, row.DateOfBirth, row.GovernmentID, now, now,
	).Scan(&id, &created, &upd)
	if err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}
	if err := scanMeta(p, id, created, upd); err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}
	return nil
}

func (r *profileRepoSQLite) Delete(ctx context.Context, subject string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profile WHERE subject = ?`, subject)
	if err != nil {
		return fmt.Errorf("profile delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("profile delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMeta(p *Profile, id, created, updated string) error {
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if p.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(sqliteTime, updated); err != nil {
		return fmt.Errorf("updated_at: %w", err)
	}
	return nil
}
