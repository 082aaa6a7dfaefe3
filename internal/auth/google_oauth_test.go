package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGetLoginURL(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "client-123",
		RedirectURL: "https://app.example.com/auth/callback",
	})

	loginURL := provider.GetLoginURL("state-abc", false)

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}

	q := parsed.Query()
	if q.Get("client_id") != "client-123" {
		t.Errorf("client_id = %q, want %q", q.Get("client_id"), "client-123")
	}
	if q.Get("redirect_uri") != "https://app.example.com/auth/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want code", q.Get("response_type"))
	}
	if q.Get("state") != "state-abc" {
		t.Errorf("state = %q, want state-abc", q.Get("state"))
	}
	// リフレッシュトークンの発行にはaccess_type=offlineが必須
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if !strings.Contains(q.Get("scope"), "drive.file") {
		t.Errorf("scope = %q, want to contain drive.file", q.Get("scope"))
	}
	// 通常ログインでは同意画面を強制しない
	if q.Get("prompt") != "" {
		t.Errorf("prompt = %q, want empty", q.Get("prompt"))
	}
}

func TestGetLoginURL_ForceConsent(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: "client-123"})

	loginURL := provider.GetLoginURL("state-abc", true)

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	if parsed.Query().Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", parsed.Query().Get("prompt"))
	}
}

func TestExchangeCode(t *testing.T) {
	var tokenForm url.Values

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		tokenForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-456"}`))
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer at-123")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"google-789","email":"taro@example.com","name":"山田太郎","given_name":"太郎","family_name":"山田","picture":"https://example.com/avatar.png"}`))
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/auth/callback",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	result, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}

	if tokenForm.Get("code") != "auth-code" {
		t.Errorf("code = %q, want auth-code", tokenForm.Get("code"))
	}
	if tokenForm.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q, want authorization_code", tokenForm.Get("grant_type"))
	}
	if result.AccessToken != "at-123" {
		t.Errorf("access token = %q, want at-123", result.AccessToken)
	}
	if result.RefreshToken != "rt-456" {
		t.Errorf("refresh token = %q, want rt-456", result.RefreshToken)
	}
	if result.Profile.GoogleID != "google-789" {
		t.Errorf("google ID = %q, want google-789", result.Profile.GoogleID)
	}
	if result.Profile.DisplayName != "山田太郎" {
		t.Errorf("display name = %q, want 山田太郎", result.Profile.DisplayName)
	}
}

func TestExchangeCode_TokenEndpointError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{TokenURL: tokenServer.URL})

	if _, err := provider.ExchangeCode(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRefreshAccessToken(t *testing.T) {
	var form url.Values

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
	})

	token, err := provider.RefreshAccessToken(context.Background(), "rt-456")
	if err != nil {
		t.Fatalf("RefreshAccessToken failed: %v", err)
	}

	if token != "at-new" {
		t.Errorf("token = %q, want at-new", token)
	}
	if form.Get("grant_type") != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "rt-456" {
		t.Errorf("refresh_token = %q, want rt-456", form.Get("refresh_token"))
	}
}

func TestRefreshAccessToken_EmptyAccessToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{TokenURL: tokenServer.URL})

	if _, err := provider.RefreshAccessToken(context.Background(), "rt-456"); err == nil {
		t.Fatal("expected error for empty access token, got nil")
	}
}
