// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/docman/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにプリンシパルを格納するためのキー。
var principalContextKey = contextKey("principal")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はセッション解決に必要なユーザー検索インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)
}

// legacySessionPayload はスキーマ変更前のセッションがdataカラムに
// 埋め込んでいたJSONの形状。ユーザー行への参照を持たず、
// プロバイダーのプロフィールとトークンをそのまま保持している。
type legacySessionPayload struct {
	Profile struct {
		ID string `json:"id"`
	} `json:"profile"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// プリンシパルに解決するミドルウェアを返す。
//
// セッション行には2世代の形状がある。現行セッションはuser_idで
// ユーザー行を参照する。レガシーセッションはuser_idを持たず、
// 埋め込みJSONのプロバイダー識別子からユーザー行を引き当てる。
// どちらの形状でも解決結果は同一のPrincipalになる。
// 解決できないリクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(sessionFinder SessionFinder, userFinder UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 2. セッションの有効性を検証
			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if session == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 3. セッション形状に応じてプリンシパルへ解決
			principal, err := resolvePrincipal(r.Context(), userFinder, session)
			if err != nil {
				slog.Warn("failed to resolve session principal",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePrincipal はセッションをプリンシパルへ解決する。
func resolvePrincipal(ctx context.Context, userFinder UserFinder, session *model.Session) (*model.Principal, error) {
	if !session.IsLegacy() {
		user, err := userFinder.FindByID(ctx, session.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find session user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("session references missing user %s", session.UserID)
		}
		return &model.Principal{User: user, AccessToken: session.AccessToken}, nil
	}

	var payload legacySessionPayload
	if err := json.Unmarshal(session.LegacyPayload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse legacy session payload: %w", err)
	}
	if payload.Profile.ID == "" {
		return nil, fmt.Errorf("legacy session payload has no provider ID")
	}

	user, err := userFinder.FindByGoogleID(ctx, payload.Profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find legacy session user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("legacy session references unknown provider ID")
	}

	return &model.Principal{User: user, AccessToken: payload.AccessToken}, nil
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil || principal.User == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	principal, err := PrincipalFromContext(ctx)
	if err != nil {
		return "", err
	}
	return principal.User.ID, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
