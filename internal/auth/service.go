// Package auth はOAuth認証フロー、トークンライフサイクル、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/docman/internal/model"
	"github.com/hitoshi/docman/internal/repository"
)

// ErrConsentRequired はログインが完了したものの長期ストレージ資格情報が
// 取得できなかったことを示す。セッションは発行されず、呼び出し側は
// 同意を強制するフラグ付きで認証をやり直す必要がある。
var ErrConsentRequired = errors.New("storage consent required")

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。forceConsentで同意画面を強制する。
	GetLoginURL(state string, forceConsent bool) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthResult, error)
	// RefreshAccessToken はリフレッシュトークンから新しいアクセストークンを取得する。
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）

	// RequireStorageConsent はログイン完了時に長期ストレージ資格情報を必須とするか。
	// ユーザー単位のOAuth資格情報でストレージへアクセスするバックエンドではtrue。
	// falseの場合、資格情報が無くてもログインは成立する。
	RequireStorageConsent bool
}

// Service は認証とトークンライフサイクルに関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string, forceConsent bool) string {
	return s.oauth.GetLoginURL(state, forceConsent)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
//
// google_idをキーとしたupsertを行う: 既存ユーザーはプロフィールの可変
// フィールドを更新し、新しいリフレッシュトークンが返された場合のみ保存済みの
// ものを上書きする。上書き時は旧資格情報で発行済みのセッションをすべて
// 無効化する。未登録の場合は新規作成する。
//
// 資格情報の遷移はEvaluateCredentialで一元的に判定し、結果が
// CredentialMissingかつRequireStorageConsentの場合はセッションを発行せず
// ErrConsentRequiredを返す。ストレージ操作が不可能なまま進めると、後続の
// 無関係な操作の奥で不可解に失敗するため、ここで即座に表面化させる。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	result, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. google_idで既存ユーザーを検索し、upsertする
	user, err := s.userRepo.FindByGoogleID(ctx, result.Profile.GoogleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	state := CredentialPending

	if user != nil {
		// 既存ユーザー: プロフィールを最新化
		if err := s.userRepo.UpdateProfile(ctx, user.ID, &result.Profile); err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}

		var effective string
		state, effective = EvaluateCredential(user.RefreshToken, result.RefreshToken)

		// 新しいリフレッシュトークンが返された場合のみ上書き保存する。
		// 返されなかった場合、保存済みのトークンには触れない。
		if result.RefreshToken != "" && result.RefreshToken != user.RefreshToken {
			if err := s.userRepo.UpdateRefreshToken(ctx, user.ID, result.RefreshToken); err != nil {
				return nil, fmt.Errorf("failed to update refresh token: %w", err)
			}

			// 旧グラントのアクセストークンを持つセッションを残さない
			if err := s.sessionRepo.DeleteByUserID(ctx, user.ID); err != nil {
				return nil, fmt.Errorf("failed to invalidate existing sessions: %w", err)
			}
			slog.Info("existing sessions invalidated after credential renewal",
				slog.String("user_id", user.ID),
			)
		}
		user.RefreshToken = effective

		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("credential_state", string(state)),
		)
	} else {
		// 新規ユーザー
		now := time.Now()
		user = &model.User{
			ID:           uuid.New().String(),
			GoogleID:     result.Profile.GoogleID,
			Email:        result.Profile.Email,
			DisplayName:  result.Profile.DisplayName,
			FirstName:    result.Profile.FirstName,
			LastName:     result.Profile.LastName,
			AvatarURL:    result.Profile.AvatarURL,
			RefreshToken: result.RefreshToken,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		state, _ = EvaluateCredential("", result.RefreshToken)

		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
			slog.String("credential_state", string(state)),
		)
	}

	// 3. 資格情報が無ければ部分的な認証を破棄し、再同意を要求する
	if state == CredentialMissing && s.config.RequireStorageConsent {
		slog.Warn("login completed without storage credential, forcing re-consent",
			slog.String("user_id", user.ID),
		)
		return nil, ErrConsentRequired
	}

	// 4. セッションを発行（アクセストークンはセッションにのみ保持）
	session, err := s.createSession(ctx, user.ID, result.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, accessToken string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:          sessionID,
		UserID:      userID,
		AccessToken: accessToken,
		ExpiresAt:   time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:   time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
