// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/docman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// google_idには一意制約があり、同一google_idのユーザーが重複して
// 作成されることはない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByGoogleID はプロバイダー発行の識別子でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// 所有者バックフィルジョブの対象解決に使用する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はプロフィールの可変フィールドのみを更新する。
	// リフレッシュトークンには触れない。
	UpdateProfile(ctx context.Context, id string, profile *model.Profile) error

	// UpdateRefreshToken は長期ストレージ資格情報を上書きする。
	UpdateRefreshToken(ctx context.Context, id string, refreshToken string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	// レガシー形状のセッションはLegacyPayloadに生JSONを保持した形で返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	// 再同意でリフレッシュトークンが更新された際のセッション無効化に使用する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// DocumentRepository はドキュメントデータの永続化インターフェース。
// 特定ドキュメントを対象とする読み書きはすべてIDと所有者の両方で絞り込み、
// 所有者不一致は「見つからない」と同一に扱う。
type DocumentRepository interface {
	// Create はドキュメントと添付ファイルを同一トランザクションで作成する。
	Create(ctx context.Context, doc *model.Document) error

	// FindByIDAndOwner は指定IDかつ指定所有者のドキュメントを添付ファイル込みで
	// 取得する。見つからない場合（所有者不一致を含む）はnilを返す。
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Document, error)

	// ListByOwner は所有者のドキュメント一覧を新しい順に返す。
	// searchが非空の場合、タイトル・ノート・添付ファイル名に対して
	// 大文字小文字を区別しない部分一致（OR条件）で絞り込む。
	// 戻り値は該当ページのドキュメントと絞り込み後の総件数。
	ListByOwner(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error)

	// UpdateMetadata はタイトルとノートを更新し、更新後のドキュメントを返す。
	// 見つからない場合はnilを返す。
	UpdateMetadata(ctx context.Context, id, ownerID, title, note string) (*model.Document, error)

	// Delete はドキュメントを削除する。添付ファイル行はCASCADE削除される。
	// 削除が行われた場合はtrueを返す。
	Delete(ctx context.Context, id, ownerID string) (bool, error)

	// RemoveFile はドキュメントから添付ファイルを1件削除する。
	// 削除が行われた場合はtrueを返す。
	RemoveFile(ctx context.Context, docID, ownerID, fileID string) (bool, error)
}
