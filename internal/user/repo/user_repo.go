package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/oops"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// IDSource assigns ids to new rows.
type IDSource interface {
	Next() int64
}

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db  *sqlx.DB
	ids IDSource
}

func NewUserRepo(db *sqlx.DB, ids IDSource) *UserRepo { return &UserRepo{db: db, ids: ids} }

const userColumns = `id, email, password_hash, name, avatar, is_active, created_at, updated_at`

func storeErr(op string, err error) error {
	return oops.In("user_repo").Code("USER_STORE").With("op", op).Wrap(err)
}

// Create inserts a new user row. The unique index on email settles
// concurrent registrations; a violation surfaces as ErrDuplicateEmail.
func (r *UserRepo) Create(ctx context.Context, nu entity.NewUser) (*entity.User, error) {
	const q = `INSERT INTO users (id, email, password_hash, name)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, r.ids.Next(), nu.Email, nu.PasswordHash, nu.Name); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, storeErr("create", err)
	}
	return &u, nil
}

// FindByEmail returns the user with the given (already normalized) email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.getOne(ctx, "find_by_email", q, email)
}

// FindByID fetches a full user row.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.getOne(ctx, "find_by_id", q, id)
}

// UpdateProfile changes only the supplied fields and refreshes updated_at.
func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, upd entity.ProfileUpdate) (*entity.User, error) {
	const q = `UPDATE users SET name=COALESCE($2, name), avatar=COALESCE($3, avatar), updated_at=NOW()
		WHERE id=$1
		RETURNING ` + userColumns
	return r.getOne(ctx, "update_profile", q, id, upd.Name, upd.Avatar)
}

// UpdatePassword replaces the password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, hash)
	if err != nil {
		return storeErr("update_password", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update_password", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepo) getOne(ctx context.Context, op, q string, args ...any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr(op, err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgerrcode.UniqueViolation
}
