// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, storage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeMissingRefreshToken = "MISSING_REFRESH_TOKEN"
	ErrCodeDocumentNotFound    = "DOCUMENT_NOT_FOUND"
	ErrCodeFileNotFound        = "FILE_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeNoFilesUploaded     = "NO_FILES_UPLOADED"
	ErrCodeStorageError        = "STORAGE_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewMissingRefreshTokenError はストレージ資格情報が欠落している場合のエラーを生成する。
// 汎用の認証エラーとは区別し、クライアントが再同意フローへ誘導できるよう
// 機械可読なコードを持つ。
func NewMissingRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingRefreshToken,
		Message:  "ストレージへのアクセス権限が失効しています。",
		Category: "auth",
		Action:   "再度ログインしてストレージへのアクセスを許可してください。",
	}
}

// NewDocumentNotFoundError はドキュメント未検出エラーを生成する。
// 所有者不一致の場合も同一のエラーを返し、他ユーザーのドキュメントの存在を漏らさない。
func NewDocumentNotFoundError(documentID string) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentNotFound,
		Message:  fmt.Sprintf("指定されたドキュメントが見つかりません: %s", documentID),
		Category: "validation",
		Action:   "ドキュメントIDを確認してください。",
	}
}

// NewFileNotFoundError は添付ファイル未検出エラーを生成する。
func NewFileNotFoundError(fileID string) *APIError {
	return &APIError{
		Code:     ErrCodeFileNotFound,
		Message:  fmt.Sprintf("指定されたファイルが見つかりません: %s", fileID),
		Category: "validation",
		Action:   "ファイルIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError は不正なリクエストエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("不正なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewNoFilesUploadedError はアップロード対象ファイルがない場合のエラーを生成する。
func NewNoFilesUploadedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoFilesUploaded,
		Message:  "アップロードするファイルが指定されていません。",
		Category: "validation",
		Action:   "1件以上のファイルを選択してください。",
	}
}

// NewStorageError はストレージバックエンド呼び出しの失敗エラーを生成する。
func NewStorageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageError,
		Message:  fmt.Sprintf("ストレージ操作に失敗しました: %s", reason),
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
