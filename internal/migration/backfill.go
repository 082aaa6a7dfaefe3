package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/docman/internal/model"
)

// OwnerFinder は帰属先ユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type OwnerFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// BackfillStore は所有者バックフィルに必要なストア操作。
type BackfillStore interface {
	// CountOwnerless は所有者未設定のドキュメント数を返す。
	CountOwnerless(ctx context.Context) (int, error)
	// AssignOwner は所有者未設定の全ドキュメントに指定ユーザーを設定し、
	// 更新件数を返す。
	AssignOwner(ctx context.Context, ownerID string) (int64, error)
}

// BackfillResult は所有者バックフィルの実行結果。
type BackfillResult struct {
	Scanned  int   // 所有者未設定だったドキュメント数
	Assigned int64 // 所有者を設定したドキュメント数
}

// OwnerBackfill は所有者カラム導入前に作成されたドキュメントへ
// 所有者を一括設定するジョブ。帰属先はメールアドレスで外部から指定され、
// コードに埋め込まない。再実行時は対象が見つからず何もしない。
type OwnerBackfill struct {
	users OwnerFinder
	store BackfillStore
}

// NewOwnerBackfill はOwnerBackfillを生成する。
func NewOwnerBackfill(users OwnerFinder, store BackfillStore) *OwnerBackfill {
	return &OwnerBackfill{users: users, store: store}
}

// Run は指定メールアドレスのユーザーへ所有者バックフィルを実行する。
// ユーザーが見つからない場合は何も書き込まずにエラーを返す。
func (b *OwnerBackfill) Run(ctx context.Context, email string) (*BackfillResult, error) {
	if email == "" {
		return nil, fmt.Errorf("target owner email is required")
	}

	user, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find target user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("target user not found: %s", email)
	}

	scanned, err := b.store.CountOwnerless(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count ownerless documents: %w", err)
	}

	result := &BackfillResult{Scanned: scanned}
	if scanned == 0 {
		slog.Info("no ownerless documents found")
		return result, nil
	}

	assigned, err := b.store.AssignOwner(ctx, user.ID)
	if err != nil {
		return result, fmt.Errorf("failed to assign owner: %w", err)
	}
	result.Assigned = assigned

	slog.Info("owner backfill finished",
		slog.String("owner_id", user.ID),
		slog.String("owner_email", email),
		slog.Int("scanned", result.Scanned),
		slog.Int64("assigned", result.Assigned),
	)

	return result, nil
}
