// Package model はドメインモデルを定義する。
package model

import "time"

// User はGoogleアカウントで認証されたユーザー（プリンシパル）を表す。
// GoogleIDはプロバイダー発行の識別子で、作成後は不変かつ全ユーザーで一意。
type User struct {
	ID           string
	GoogleID     string
	Email        string
	DisplayName  string
	FirstName    string
	LastName     string
	AvatarURL    string
	RefreshToken string // ストレージへの長期アクセス資格情報。未同意の場合は空。
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasStorageCredential は長期ストレージ資格情報（リフレッシュトークン）の有無を返す。
func (u *User) HasStorageCredential() bool {
	return u.RefreshToken != ""
}

// Profile はOAuthプロバイダーから取得したプロフィール属性を表す。
// ログインのたびに可変フィールドの更新に使用する。
type Profile struct {
	GoogleID    string
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	AvatarURL   string
}

// Session はログインセッションを表す。
// 2世代のペイロード形状が存在する:
//   - 現行: UserIDにユーザーの内部IDを保持する。
//   - レガシー: UserIDが空で、LegacyPayloadにプロバイダーのプロフィールと
//     トークンを埋め込んだJSONを保持する（スキーマ変更前に作成されたセッション）。
//
// レガシー形状はセッション読み取り時にリゾルバで解決し、それより先には伝播させない。
type Session struct {
	ID            string
	UserID        string
	AccessToken   string // 短期資格情報。セッションにのみ付随し、usersには永続化しない。
	LegacyPayload []byte // レガシー形状の生JSON。現行セッションでは空。
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// IsLegacy はレガシー形状のセッションかどうかを返す。
func (s *Session) IsLegacy() bool {
	return s.UserID == "" && len(s.LegacyPayload) > 0
}

// Principal はセッション解決後の認証済みユーザーを表す。
// リクエストコンテキストに注入され、ハンドラーとサービス層から参照される。
type Principal struct {
	User        *User
	AccessToken string
}
