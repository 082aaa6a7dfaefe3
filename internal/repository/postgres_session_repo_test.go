package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/docman/internal/model"
)

// TestPostgresSessionRepo_ImplementsInterface はPostgresSessionRepoが
// SessionRepositoryを実装することを検証する。
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// セッションモデルの2世代の形状判定を検証する。
func TestSessionModel_IsLegacy(t *testing.T) {
	current := &model.Session{
		ID:          "session-1",
		UserID:      "user-123",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if current.IsLegacy() {
		t.Error("session with user_id should not be legacy")
	}

	legacy := &model.Session{
		ID:            "session-2",
		LegacyPayload: []byte(`{"profile":{"id":"google-1"},"accessToken":"at"}`),
	}
	if !legacy.IsLegacy() {
		t.Error("session with embedded payload and no user_id should be legacy")
	}
}
