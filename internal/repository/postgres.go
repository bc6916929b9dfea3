package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository = (*PostgresUserRepo)(nil)
	_ KeyRepository  = (*PostgresKeyRepo)(nil)
)

const uniqueViolation = "23505"

const userColumns = `id, email, email_verified, password_hash, name, about_me, phone, avatar_url, online,
password_changed_at, reset_token_hash, reset_token_expiry, verify_token_hash, verify_token_expiry, created_at, updated_at`

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", mapError(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", mapError(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := fmt.Sprintf(`INSERT INTO users (id, email, email_verified, password_hash, name, about_me, phone, avatar_url, online, password_changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING %s`, userColumns)

	row := r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.EmailVerified,
		user.PasswordHash,
		user.Name,
		user.AboutMe,
		user.Phone,
		user.AvatarURL,
		user.Online,
		user.PasswordChangedAt,
	)

	inserted, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", mapError(err))
	}
	return inserted, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, userID int64, patch UserPatch) (domain.User, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.PasswordChangedAt != nil {
		add("password_changed_at", *patch.PasswordChangedAt)
	}
	if patch.EmailVerified != nil {
		add("email_verified", *patch.EmailVerified)
	}
	if patch.AboutMe != nil {
		add("about_me", *patch.AboutMe)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.AvatarURL != nil {
		add("avatar_url", *patch.AvatarURL)
	}
	if patch.Online != nil {
		add("online", *patch.Online)
	}
	if patch.ResetTokenHash != nil {
		add("reset_token_hash", nullString(*patch.ResetTokenHash))
	}
	if patch.ResetTokenExpiry != nil {
		add("reset_token_expiry", nullTime(*patch.ResetTokenExpiry))
	}
	if patch.VerifyTokenHash != nil {
		add("verify_token_hash", nullString(*patch.VerifyTokenHash))
	}
	if patch.VerifyTokenExpiry != nil {
		add("verify_token_expiry", nullTime(*patch.VerifyTokenExpiry))
	}

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), userColumns)

	updated, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", mapError(err))
	}
	return updated, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user         domain.User
		resetHash    sql.NullString
		resetExpiry  sql.NullTime
		verifyHash   sql.NullString
		verifyExpiry sql.NullTime
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.PasswordHash,
		&user.Name,
		&user.AboutMe,
		&user.Phone,
		&user.AvatarURL,
		&user.Online,
		&user.PasswordChangedAt,
		&resetHash,
		&resetExpiry,
		&verifyHash,
		&verifyExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	user.ResetTokenHash = resetHash.String
	user.ResetTokenExpiry = resetExpiry.Time
	user.VerifyTokenHash = verifyHash.String
	user.VerifyTokenExpiry = verifyExpiry.Time
	return user, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	const query = `SELECT id, kid, secret, algorithm, is_active, created_at, rotated_at
FROM signing_keys WHERE is_active ORDER BY created_at DESC LIMIT 1`

	var (
		key       domain.SigningKey
		rotatedAt sql.NullTime
	)
	err := r.db.QueryRow(ctx, query).Scan(&key.ID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt, &rotatedAt)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("get active key: %w", mapError(err))
	}
	if rotatedAt.Valid {
		key.RotatedAt = &rotatedAt.Time
	}
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `INSERT INTO signing_keys (id, kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, key.ID, key.KID, key.Secret, key.Algorithm, key.IsActive).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("create key: %w", mapError(err))
	}
	return key, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
