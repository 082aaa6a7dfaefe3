package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- モック定義 ---

type mockRefresher struct {
	fnRefreshAccessToken func(ctx context.Context, refreshToken string) (string, error)
}

func (m *mockRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if m.fnRefreshAccessToken != nil {
		return m.fnRefreshAccessToken(ctx, refreshToken)
	}
	return "", nil
}

func TestDriveClientUpload(t *testing.T) {
	var gotAuth, gotContentType, gotQuery string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"blob-1","webViewLink":"https://example.com/view","webContentLink":"https://example.com/content"}`))
	}))
	defer server.Close()

	client := NewDriveClient(DriveConfig{UploadURL: server.URL, FilesURL: server.URL}, &mockRefresher{})
	cred := Credential{AccessToken: "token-abc"}

	content := strings.NewReader("hello world")
	blob, err := client.Upload(context.Background(), cred, "report.pdf", "application/pdf", int64(content.Len()), content)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if blob.ID != "blob-1" {
		t.Errorf("blob ID = %q, want %q", blob.ID, "blob-1")
	}
	if blob.ViewLink != "https://example.com/view" {
		t.Errorf("view link = %q, want %q", blob.ViewLink, "https://example.com/view")
	}
	if blob.ContentLink != "https://example.com/content" {
		t.Errorf("content link = %q, want %q", blob.ContentLink, "https://example.com/content")
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token-abc")
	}
	if !strings.HasPrefix(gotContentType, "multipart/related; boundary=") {
		t.Errorf("Content-Type = %q, want multipart/related", gotContentType)
	}
	if !strings.Contains(gotQuery, "uploadType=multipart") {
		t.Errorf("query = %q, want uploadType=multipart", gotQuery)
	}
	if !strings.Contains(gotQuery, "fields=id%2CwebViewLink%2CwebContentLink") && !strings.Contains(gotQuery, "fields=id,webViewLink,webContentLink") {
		t.Errorf("query = %q, want fields parameter", gotQuery)
	}
	body := string(gotBody)
	if !strings.Contains(body, `"name":"report.pdf"`) {
		t.Errorf("body does not contain metadata name: %s", body)
	}
	if !strings.Contains(body, "hello world") {
		t.Errorf("body does not contain media content: %s", body)
	}
}

func TestDriveClientUploadRetriesAfterTokenRefresh(t *testing.T) {
	var attempts int
	var tokens []string
	var lastBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		tokens = append(tokens, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		lastBody = string(body)
		if attempts == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"blob-2","webViewLink":"v","webContentLink":"c"}`))
	}))
	defer server.Close()

	refreshCalls := 0
	refresher := &mockRefresher{
		fnRefreshAccessToken: func(ctx context.Context, refreshToken string) (string, error) {
			refreshCalls++
			if refreshToken != "refresh-xyz" {
				t.Errorf("refresh token = %q, want %q", refreshToken, "refresh-xyz")
			}
			return "token-new", nil
		},
	}

	client := NewDriveClient(DriveConfig{UploadURL: server.URL, FilesURL: server.URL}, refresher)
	cred := Credential{AccessToken: "token-expired", RefreshToken: "refresh-xyz"}

	content := strings.NewReader("payload")
	blob, err := client.Upload(context.Background(), cred, "a.txt", "text/plain", int64(content.Len()), content)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if blob.ID != "blob-2" {
		t.Errorf("blob ID = %q, want %q", blob.ID, "blob-2")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
	if tokens[1] != "Bearer token-new" {
		t.Errorf("retry token = %q, want %q", tokens[1], "Bearer token-new")
	}
	// リトライ時にボディが巻き戻されていること
	if !strings.Contains(lastBody, "payload") {
		t.Errorf("retried body does not contain media content: %s", lastBody)
	}
}

func TestDriveClientUploadRetryAfterUnreadFirstAttempt(t *testing.T) {
	var attempts int
	var retriedBody string

	// 1回目はボディを読まずに401を返す。書き込みgoroutineがcontentを
	// 読んでいる最中にリトライ側が巻き戻すと2回目のボディが壊れる。
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		retriedBody = string(body)
		w.Write([]byte(`{"id":"blob-4","webViewLink":"v","webContentLink":"c"}`))
	}))
	defer server.Close()

	refresher := &mockRefresher{
		fnRefreshAccessToken: func(ctx context.Context, refreshToken string) (string, error) {
			return "token-new", nil
		},
	}

	client := NewDriveClient(DriveConfig{UploadURL: server.URL, FilesURL: server.URL}, refresher)
	cred := Credential{AccessToken: "token-expired", RefreshToken: "refresh-xyz"}

	media := strings.Repeat("0123456789", 10000)
	content := strings.NewReader(media)
	blob, err := client.Upload(context.Background(), cred, "big.bin", "application/octet-stream", int64(content.Len()), content)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if blob.ID != "blob-4" {
		t.Errorf("blob ID = %q, want %q", blob.ID, "blob-4")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	// リトライ時のボディが先頭から完全に送信されること
	if !strings.Contains(retriedBody, media) {
		t.Error("retried body does not contain the full media content")
	}
}

func TestDriveClientUploadWithoutCredential(t *testing.T) {
	client := NewDriveClient(DriveConfig{}, &mockRefresher{})

	content := strings.NewReader("x")
	_, err := client.Upload(context.Background(), Credential{}, "a.txt", "text/plain", 1, content)
	if err == nil {
		t.Fatal("expected error for empty credential, got nil")
	}
}

func TestDriveClientDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("alt = %q, want media", r.URL.Query().Get("alt"))
		}
		if !strings.HasSuffix(r.URL.Path, "/blob-3") {
			t.Errorf("path = %q, want suffix /blob-3", r.URL.Path)
		}
		w.Write([]byte("file content"))
	}))
	defer server.Close()

	client := NewDriveClient(DriveConfig{UploadURL: server.URL, FilesURL: server.URL}, &mockRefresher{})
	cred := Credential{AccessToken: "token-abc"}

	body, err := client.Download(context.Background(), cred, "blob-3")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if string(data) != "file content" {
		t.Errorf("content = %q, want %q", string(data), "file content")
	}
}

func TestDriveClientDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewDriveClient(DriveConfig{UploadURL: server.URL, FilesURL: server.URL}, &mockRefresher{})
	cred := Credential{AccessToken: "token-abc"}

	if err := client.Delete(context.Background(), cred, "gone"); err != nil {
		t.Errorf("Delete returned error for 404: %v", err)
	}
}

func TestObjectKeyIsUnique(t *testing.T) {
	k1 := objectKey("same.txt")
	k2 := objectKey("same.txt")
	if k1 == k2 {
		t.Errorf("object keys collide: %q", k1)
	}
	if !strings.HasPrefix(k1, "documents/") {
		t.Errorf("key = %q, want documents/ prefix", k1)
	}
	if !strings.HasSuffix(k1, "-same.txt") {
		t.Errorf("key = %q, want -same.txt suffix", k1)
	}
}
