// Package migration は旧スキーマのデータを現行スキーマへ移行するジョブを提供する。
//
// ジョブは明示的なサブコマンドとして実行され、通常のリクエスト処理からは
// 呼び出されない。いずれのジョブも冪等で、移行済みデータに対する再実行は
// 書き込みを発生させない。
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/docman/internal/model"
)

// LegacyStore はレガシードキュメントの再形成に必要なストア操作。
type LegacyStore interface {
	// ListLegacyDocuments は平坦なファイルカラムを持ち、かつ添付ファイル行を
	// 持たないドキュメントを返す。
	ListLegacyDocuments(ctx context.Context) ([]*model.Document, error)
	// Reshape は添付ファイル行を作成し、同一トランザクションで
	// 平坦なファイルカラムをクリアする。
	Reshape(ctx context.Context, docID string, file model.FileAttachment) error
}

// LegacyResult はレガシー移行の実行結果。
type LegacyResult struct {
	Scanned  int // 平坦なファイルカラムを持っていたドキュメント数
	Migrated int // 再形成されたドキュメント数
	Skipped  int // ファイル情報が不完全でスキップしたドキュメント数
}

// LegacyMigrator は単一ファイル時代のドキュメントを複数ファイル形式へ再形成する。
//
// 旧スキーマではドキュメント自体が1ファイルで、ファイル属性は
// documentsテーブルの平坦なカラムに保持されていた。このジョブは
// 各レガシードキュメントの平坦なカラムをdocument_filesの1行へ畳み込み、
// 元のカラムをクリアする。再実行時は対象が見つからず何もしない。
type LegacyMigrator struct {
	store LegacyStore
}

// NewLegacyMigrator はLegacyMigratorを生成する。
func NewLegacyMigrator(store LegacyStore) *LegacyMigrator {
	return &LegacyMigrator{store: store}
}

// Run はレガシー移行を実行する。
func (m *LegacyMigrator) Run(ctx context.Context) (*LegacyResult, error) {
	docs, err := m.store.ListLegacyDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy documents: %w", err)
	}

	result := &LegacyResult{Scanned: len(docs)}

	for _, doc := range docs {
		if doc.LegacyFile == nil || doc.LegacyFile.DriveFileID == "" {
			result.Skipped++
			slog.Warn("skipping document with incomplete legacy file fields",
				slog.String("document_id", doc.ID),
			)
			continue
		}

		// 添付ファイル行が既にあるドキュメントを再形成すると同一Blobの
		// 行が重複するため、対象外とする
		if len(doc.Files) > 0 {
			result.Skipped++
			slog.Warn("skipping document that already has attachment rows",
				slog.String("document_id", doc.ID),
				slog.Int("files", len(doc.Files)),
			)
			continue
		}

		file := model.FileAttachment{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			BlobID:       doc.LegacyFile.DriveFileID,
			ViewLink:     doc.LegacyFile.WebViewLink,
			ContentLink:  doc.LegacyFile.WebContentLink,
			OriginalName: doc.LegacyFile.OriginalName,
			Filename:     doc.LegacyFile.Filename,
			Size:         doc.LegacyFile.Size,
			ContentType:  doc.LegacyFile.MimeType,
			Position:     0,
		}

		if err := m.store.Reshape(ctx, doc.ID, file); err != nil {
			return result, fmt.Errorf("failed to reshape document %s: %w", doc.ID, err)
		}
		result.Migrated++
	}

	slog.Info("legacy document migration finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("migrated", result.Migrated),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}
