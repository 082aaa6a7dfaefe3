// docman はドキュメント管理サービスのエントリーポイント。
//
// サブコマンド:
//
//	serve          APIサーバーを起動する（デフォルト）
//	migrate        データベースマイグレーションを適用する
//	migrate-legacy レガシースキーマのドキュメントを再形成する
//	backfill-owner 所有者未設定のドキュメントに所有者を割り当てる
//	healthcheck    ヘルスチェックを実行する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/docman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "docman: %v\n", err)
		os.Exit(1)
	}
}
