package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories"
	"github.com/google/uuid"
)

const identityColumns = `id, email, username, credential_hash, is_privileged,
		federated_provider, federated_subject, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	created := *identity
	created.ID = uuid.NewString()
	created.CreatedAt = r.now().UTC()
	created.UpdatedAt = created.CreatedAt

	if _, err := r.db.ExecContext(ctx, query,
		created.ID, created.Email, created.Username, created.CredentialHash, created.IsPrivileged,
		nullable(created.FederatedProvider), nullable(created.FederatedSubject),
		created.CreatedAt, created.UpdatedAt,
	); err != nil {
		return nil, repositories.MapError(err)
	}
	return &created, nil
}

func (r *PostgresRepository) FindOne(ctx context.Context, filter Filter) (*models.Identity, error) {
	if filter.Empty() {
		return nil, common.ErrEmptyFilter
	}

	var where repositories.Predicates
	where.AddIf("id", filter.ID)
	where.AddIf("email", filter.Email)
	where.AddIf("username", filter.Username)
	where.AddIf("federated_provider", filter.FederatedProvider)
	where.AddIf("federated_subject", filter.FederatedSubject)

	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + where.Join(" AND ") + ` LIMIT 1`

	return scanIdentity(r.db.QueryRowContext(ctx, query, where.Args()...))
}

func (r *PostgresRepository) Update(ctx context.Context, id string, changes Changes) (*models.Identity, error) {
	var set repositories.Predicates
	if changes.Email != nil {
		set.Add("email", *changes.Email)
	}
	if changes.Username != nil {
		set.Add("username", *changes.Username)
	}
	if changes.CredentialHash != nil {
		set.Add("credential_hash", *changes.CredentialHash)
	}
	if changes.IsPrivileged != nil {
		set.Add("is_privileged", *changes.IsPrivileged)
	}
	if changes.FederatedProvider != nil {
		set.Add("federated_provider", nullable(*changes.FederatedProvider))
	}
	if changes.FederatedSubject != nil {
		set.Add("federated_subject", nullable(*changes.FederatedSubject))
	}
	set.Add("updated_at", r.now().UTC())

	query := fmt.Sprintf(`UPDATE identities SET %s WHERE id = $%d RETURNING `+identityColumns,
		set.Join(", "), set.Len()+1)

	return scanIdentity(r.db.QueryRowContext(ctx, query, append(set.Args(), id)...))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return false, repositories.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, repositories.MapError(err)
	}
	return n > 0, nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	identity := &models.Identity{}
	var provider, subject sql.NullString

	err := row.Scan(
		&identity.ID, &identity.Email, &identity.Username, &identity.CredentialHash, &identity.IsPrivileged,
		&provider, &subject, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, repositories.MapError(err)
	}
	identity.FederatedProvider = provider.String
	identity.FederatedSubject = subject.String
	return identity, nil
}

// nullable stores the empty string as NULL so the federated pair stays
// either fully set or fully absent.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
