package repositories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// MapError turns a driver error into the package's error vocabulary:
// unique and foreign-key violations become common.ErrConstraintViolation,
// everything else is wrapped as a db error.
func MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", common.ErrConstraintViolation, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("db error: %w", err)
}

// Predicates accumulates "column = $n" fragments with their arguments.
// It is used both for WHERE clauses and for SET lists.
type Predicates struct {
	parts []string
	args  []any
}

// Add appends column = $n bound to value.
func (p *Predicates) Add(column string, value any) {
	p.args = append(p.args, value)
	p.parts = append(p.parts, fmt.Sprintf("%s = $%d", column, len(p.args)))
}

// AddIf calls Add when value is not empty.
func (p *Predicates) AddIf(column string, value string) {
	if value != "" {
		p.Add(column, value)
	}
}

func (p *Predicates) Empty() bool {
	return len(p.parts) == 0
}

func (p *Predicates) Len() int {
	return len(p.args)
}

// Join renders the fragments separated by sep.
func (p *Predicates) Join(sep string) string {
	return strings.Join(p.parts, sep)
}

func (p *Predicates) Args() []any {
	return p.args
}
