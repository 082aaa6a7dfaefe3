package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/docman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, google_id, email, display_name, first_name, last_name, avatar_url, refresh_token, created_at, updated_at`

// scanUser は1行をmodel.Userにスキャンする。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.GoogleID, &user.Email, &user.DisplayName,
		&user.FirstName, &user.LastName, &user.AvatarURL, &user.RefreshToken,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByGoogleID はプロバイダー発行の識別子でユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。google_idの一意制約違反はエラーとなる。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, google_id, email, display_name, first_name, last_name, avatar_url, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.GoogleID, user.Email, user.DisplayName,
		user.FirstName, user.LastName, user.AvatarURL, user.RefreshToken,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProfile はプロフィールの可変フィールドのみを更新する。
// refresh_tokenとgoogle_id、created_atには触れない。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email = $2, display_name = $3, first_name = $4, last_name = $5, avatar_url = $6, updated_at = now()
		 WHERE id = $1`,
		id, profile.Email, profile.DisplayName, profile.FirstName, profile.LastName, profile.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdateRefreshToken は長期ストレージ資格情報を上書きする。
func (r *PostgresUserRepo) UpdateRefreshToken(ctx context.Context, id string, refreshToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = $2, updated_at = now() WHERE id = $1`,
		id, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
