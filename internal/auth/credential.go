package auth

// CredentialState は長期ストレージ資格情報（リフレッシュトークン）に関する
// プリンシパルの状態を表す。
// 認証中・同意未完了・資格情報保持の3状態を明示的な列挙型とし、
// 各呼び出し箇所が「フィールドが空かどうか」を個別に再判定しないようにする。
type CredentialState string

const (
	// CredentialPending は認証処理中で資格情報が未評価の状態。
	CredentialPending CredentialState = "pending"
	// CredentialMissing はストレージアクセスへの同意が完了しておらず、
	// 長期資格情報が存在しない状態。この状態ではストレージ操作を実行できない。
	CredentialMissing CredentialState = "missing"
	// CredentialPresent は長期資格情報を保持している状態。
	CredentialPresent CredentialState = "present"
)

// EvaluateCredential は認証完了時の資格情報の状態遷移を判定する唯一の関数。
//
// プロバイダーは初回の同意時にのみリフレッシュトークンを発行し、
// 以降のログインでは明示的に再同意を要求しない限り省略する。そのため:
//   - 今回トークンが返された場合はそれを採用する（永続化対象）。
//   - 返されなかったが保存済みのトークンがある場合はそれを維持する。
//   - どちらも無い場合はCredentialMissingとなり、再同意が必要になる。
//
// 戻り値は遷移後の状態と、以後有効なリフレッシュトークン。
func EvaluateCredential(stored, returned string) (CredentialState, string) {
	if returned != "" {
		return CredentialPresent, returned
	}
	if stored != "" {
		return CredentialPresent, stored
	}
	return CredentialMissing, ""
}

// StateOf は保存済みリフレッシュトークンから現在の資格情報状態を導出する。
// ストレージ依存のリクエスト処理での事前チェックはすべて本関数を経由する。
func StateOf(refreshToken string) CredentialState {
	if refreshToken == "" {
		return CredentialMissing
	}
	return CredentialPresent
}
