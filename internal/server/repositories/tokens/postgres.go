package tokens

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

const tokenColumns = `id, token, token_kind, expires_at, revoked, created_at, owner_identity_id`

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

// Create stores token verbatim. ExpiresAt is taken from the record as is; it
// must be the expiry the codec embedded in the token.
func (r *PostgresRepository) Create(ctx context.Context, token *models.IssuedToken) (*models.IssuedToken, error) {
	query := `
		INSERT INTO issued_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	created := *token
	created.ID = uuid.NewString()
	created.CreatedAt = r.now().UTC()

	if _, err := r.db.ExecContext(ctx, query,
		created.ID, created.Token, string(created.Kind), created.ExpiresAt.UTC(), created.Revoked,
		created.CreatedAt, created.OwnerIdentityID,
	); err != nil {
		return nil, repositories.MapError(err)
	}
	return &created, nil
}

func (r *PostgresRepository) FindOne(ctx context.Context, filter Filter) (*models.IssuedToken, error) {
	if filter.Empty() {
		return nil, common.ErrEmptyFilter
	}

	var where repositories.Predicates
	where.AddIf("id", filter.ID)
	where.AddIf("token", filter.Token)
	where.AddIf("token_kind", string(filter.Kind))
	where.AddIf("owner_identity_id", filter.OwnerIdentityID)

	query := `SELECT ` + tokenColumns + ` FROM issued_tokens WHERE ` + where.Join(" AND ") + ` LIMIT 1`

	return scanToken(r.db.QueryRowContext(ctx, query, where.Args()...))
}

func (r *PostgresRepository) Update(ctx context.Context, id string, changes Changes) (*models.IssuedToken, error) {
	if changes.Revoked == nil {
		return r.FindOne(ctx, Filter{ID: id})
	}

	query := fmt.Sprintf(`UPDATE issued_tokens SET revoked = $1 WHERE id = $2 RETURNING %s`, tokenColumns)
	return scanToken(r.db.QueryRowContext(ctx, query, *changes.Revoked, id))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM issued_tokens WHERE id = $1`, id)
	if err != nil {
		return false, repositories.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, repositories.MapError(err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM issued_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, repositories.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, repositories.MapError(err)
	}
	return n, nil
}

func scanToken(row *sql.Row) (*models.IssuedToken, error) {
	token := &models.IssuedToken{}
	var kind string

	err := row.Scan(&token.ID, &token.Token, &kind, &token.ExpiresAt, &token.Revoked, &token.CreatedAt, &token.OwnerIdentityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, repositories.MapError(err)
	}
	token.Kind = models.TokenKind(kind)
	return token, nil
}
