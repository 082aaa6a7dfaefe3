package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandMigrateLegacy はレガシースキーマのドキュメントを
	// document_files行へ畳み込む一回限りのデータ移行を示す。
	CommandMigrateLegacy Command = "migrate-legacy"
	// CommandBackfillOwner は所有者未設定のドキュメントに所有者を割り当てる
	// バックフィルジョブを示す。
	CommandBackfillOwner Command = "backfill-owner"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 戻り値の2つ目はサブコマンド自身のフラグ引数。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "serve":
		return CommandServe, args[1:]
	case "migrate":
		return CommandMigrate, args[1:]
	case "migrate-legacy":
		return CommandMigrateLegacy, args[1:]
	case "backfill-owner":
		return CommandBackfillOwner, args[1:]
	case "healthcheck":
		return CommandHealthcheck, args[1:]
	default:
		return CommandServe, nil
	}
}
