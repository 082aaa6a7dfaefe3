package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

const (
	defaultDriveUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	defaultDriveFilesURL  = "https://www.googleapis.com/drive/v3/files"
)

// TokenRefresher はアクセストークンの再取得インターフェース。
// auth.GoogleOAuthProviderが実装する。
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// DriveConfig はGoogle Driveクライアントの設定。
type DriveConfig struct {
	// テスト用にオーバーライド可能なURL
	UploadURL string
	FilesURL  string
}

// DriveClient はGoogle Drive v3 APIによるストレージクライアント。
// プリンシパルごとのOAuth資格情報で動作し、アクセストークンが
// 失効している場合はリフレッシュトークンで再取得して1回だけリトライする。
type DriveClient struct {
	config     DriveConfig
	refresher  TokenRefresher
	httpClient *http.Client
}

// NewDriveClient はDriveClientを生成する。
func NewDriveClient(config DriveConfig, refresher TokenRefresher) *DriveClient {
	if config.UploadURL == "" {
		config.UploadURL = defaultDriveUploadURL
	}
	if config.FilesURL == "" {
		config.FilesURL = defaultDriveFilesURL
	}
	return &DriveClient{
		config:    config,
		refresher: refresher,
		// アップロードはファイルサイズに比例して時間がかかるためタイムアウトは長め
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// driveFileResponse はDriveのファイル作成レスポンス。
type driveFileResponse struct {
	ID             string `json:"id"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
}

// Upload はmultipart/relatedアップロードでDriveにファイルを作成する。
func (c *DriveClient) Upload(ctx context.Context, cred Credential, name, contentType string, size int64, content io.ReadSeeker) (*Blob, error) {
	var writerDone <-chan struct{}
	resp, err := c.do(ctx, cred, func(token string) (*http.Request, error) {
		// 前回試行の書き込みgoroutineがcontentを読み終えるまで
		// 巻き戻してはならない
		if writerDone != nil {
			<-writerDone
		}
		req, done, err := c.buildUploadRequest(ctx, token, name, contentType, content)
		if err != nil {
			return nil, err
		}
		writerDone = done
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drive upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	var fileResp driveFileResponse
	if err := json.Unmarshal(body, &fileResp); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if fileResp.ID == "" {
		return nil, fmt.Errorf("empty file ID in drive response")
	}

	return &Blob{
		ID:          fileResp.ID,
		ViewLink:    fileResp.WebViewLink,
		ContentLink: fileResp.WebContentLink,
	}, nil
}

// Download はBlobのバイトストリームを返す。呼び出し側がCloseする。
func (c *DriveClient) Download(ctx context.Context, cred Credential, blobID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, cred, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.FilesURL+"/"+blobID+"?alt=media", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("drive download failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

// Delete はDrive上のファイルを削除する。
func (c *DriveClient) Delete(ctx context.Context, cred Credential, blobID string) error {
	resp, err := c.do(ctx, cred, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.FilesURL+"/"+blobID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204が正常。404は既に消えているため成功扱いにする。
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("drive delete failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// do はリクエストを実行し、401の場合はトークンを再取得して1回だけリトライする。
// buildはリトライ時に新しいトークンでリクエストを作り直すための関数。
func (c *DriveClient) do(ctx context.Context, cred Credential, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token := cred.AccessToken
	if token == "" {
		if cred.RefreshToken == "" {
			return nil, fmt.Errorf("no storage credential available")
		}
		refreshed, err := c.refresher.RefreshAccessToken(ctx, cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		token = refreshed
	}

	req, err := build(token)
	if err != nil {
		return nil, fmt.Errorf("failed to build drive request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && cred.RefreshToken != "" {
		resp.Body.Close()

		refreshed, err := c.refresher.RefreshAccessToken(ctx, cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}

		req, err = build(refreshed)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild drive request: %w", err)
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("drive request failed after token refresh: %w", err)
		}
	}

	return resp, nil
}

// buildUploadRequest はmultipart/related形式のアップロードリクエストを構築する。
// メタデータパートとメディアパートをio.Pipe経由でストリーム書き込みし、
// ファイル全体をメモリに載せない。戻り値のチャネルは書き込みgoroutineの
// 終了時にクローズされる。
func (c *DriveClient) buildUploadRequest(ctx context.Context, token, name, contentType string, content io.ReadSeeker) (*http.Request, <-chan struct{}, error) {
	// リトライ時はボディを先頭へ巻き戻す
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("failed to rewind upload content: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := func() error {
			metaPart, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type": {"application/json; charset=UTF-8"},
			})
			if err != nil {
				return err
			}
			meta := map[string]string{"name": name, "mimeType": contentType}
			if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
				return err
			}

			mediaPart, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type": {contentType},
			})
			if err != nil {
				return err
			}
			if _, err := io.Copy(mediaPart, content); err != nil {
				return err
			}

			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	url := c.config.UploadURL + "?uploadType=multipart&fields=id,webViewLink,webContentLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("Authorization", "Bearer "+token)

	return req, done, nil
}

// compile-time interface check
var _ Client = (*DriveClient)(nil)
