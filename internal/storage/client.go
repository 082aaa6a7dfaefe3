// Package storage は外部ストレージバックエンドへのBlob操作を提供する。
// ファイルの実体はすべて外部サービスに置かれ、アプリはバイト列を
// ストリームとして中継するだけで保持しない。
package storage

import (
	"context"
	"io"
)

// Blob は外部ストレージ上のオブジェクトへの参照を表す。
type Blob struct {
	ID          string
	ViewLink    string
	ContentLink string
}

// Credential はプリンシパル単位のストレージアクセス資格情報。
// アプリ共通の資格情報で動作するバックエンド（s3）では無視される。
type Credential struct {
	AccessToken  string // 短期資格情報（セッション由来）
	RefreshToken string // 長期資格情報（users由来）
}

// Client はストレージバックエンドのインターフェース。
// contentにio.ReadSeekerを要求するのは、アクセストークン失効時の
// リトライでボディを巻き戻すため。
type Client interface {
	// Upload はBlobを作成する。
	Upload(ctx context.Context, cred Credential, name, contentType string, size int64, content io.ReadSeeker) (*Blob, error)
	// Download はBlobのバイトストリームを返す。呼び出し側がCloseする。
	Download(ctx context.Context, cred Credential, blobID string) (io.ReadCloser, error)
	// Delete はBlobを削除する。
	Delete(ctx context.Context, cred Credential, blobID string) error
}
