// Package model はドメインモデルを定義する。
package model

import "time"

// Document はユーザーが所有するドキュメントを表す。
// 所有者は作成時に確定し、以後移転しない。
// ファイル実体は外部ストレージに置かれ、FilesはそのBlobへの参照を保持する。
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Note      string // サニタイズ済みのリッチテキストHTML
	Files     []FileAttachment
	CreatedAt time.Time
	UpdatedAt time.Time

	// レガシー世代の平坦なファイルフィールド。
	// ドキュメント自体が単一ファイルだった旧スキーマの名残で、
	// migrate-legacyでFilesへ畳み込まれた後はすべて空になる。
	LegacyFile *LegacyFileFields
}

// LegacyFileFields は旧スキーマでドキュメント直下に存在したファイル属性を表す。
type LegacyFileFields struct {
	OriginalName   string
	Filename       string
	DriveFileID    string
	WebViewLink    string
	WebContentLink string
	Size           int64
	MimeType       string
}

// FileAttachment はドキュメントに添付された1ファイルを表す。
// BlobIDは外部ストレージ上のオブジェクト識別子で、添付は親ドキュメントが専有する。
type FileAttachment struct {
	ID           string
	DocumentID   string
	BlobID       string
	ViewLink     string
	ContentLink  string
	OriginalName string
	Filename     string
	Size         int64
	ContentType  string
	Position     int
}

// DocumentMetadata はアップロード時・更新時に受け取るメタデータを表す。
type DocumentMetadata struct {
	Title string `json:"title"`
	Note  string `json:"note"`
}
