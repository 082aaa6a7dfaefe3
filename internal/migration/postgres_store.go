package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/docman/internal/model"
)

// PostgresStore はPostgreSQLを使用した移行ジョブ用ストア。
// 平坦なファイルカラムへの書き込みは移行ジョブ専用のため、
// 通常のリポジトリとは分離してここに置く。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListLegacyDocuments は平坦なファイルカラムを持ち、かつ添付ファイル行を
// 1件も持たないドキュメントを返す。添付ファイル行が既にあるドキュメントは
// 移行済みか現行形式で作成されたものであり、再形成の対象にしない。
func (s *PostgresStore) ListLegacyDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original_name, filename, drive_file_id, web_view_link, web_content_link, size, mime_type
		 FROM documents
		 WHERE drive_file_id IS NOT NULL AND drive_file_id <> ''
		   AND NOT EXISTS (SELECT 1 FROM document_files f WHERE f.document_id = documents.id)
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc := &model.Document{LegacyFile: &model.LegacyFileFields{}}
		var originalName, filename, driveFileID, webViewLink, webContentLink, mimeType sql.NullString
		var size sql.NullInt64

		if err := rows.Scan(
			&doc.ID, &originalName, &filename, &driveFileID,
			&webViewLink, &webContentLink, &size, &mimeType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan legacy document: %w", err)
		}

		doc.LegacyFile.OriginalName = originalName.String
		doc.LegacyFile.Filename = filename.String
		doc.LegacyFile.DriveFileID = driveFileID.String
		doc.LegacyFile.WebViewLink = webViewLink.String
		doc.LegacyFile.WebContentLink = webContentLink.String
		doc.LegacyFile.Size = size.Int64
		doc.LegacyFile.MimeType = mimeType.String

		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate legacy documents: %w", err)
	}

	return docs, nil
}

// Reshape は添付ファイル行を作成し、同一トランザクションで平坦なカラムをクリアする。
func (s *PostgresStore) Reshape(ctx context.Context, docID string, file model.FileAttachment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_files (id, document_id, blob_id, view_link, content_link, original_name, filename, size, content_type, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		file.ID, docID, file.BlobID, file.ViewLink, file.ContentLink,
		file.OriginalName, file.Filename, file.Size, file.ContentType, file.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document file: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents
		 SET original_name = NULL, filename = NULL, drive_file_id = NULL,
		     web_view_link = NULL, web_content_link = NULL, size = NULL, mime_type = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		docID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear legacy columns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CountOwnerless は所有者未設定のドキュメント数を返す。
func (s *PostgresStore) CountOwnerless(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE owner_id IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ownerless documents: %w", err)
	}
	return count, nil
}

// AssignOwner は所有者未設定の全ドキュメントに指定ユーザーを設定する。
func (s *PostgresStore) AssignOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET owner_id = $1, updated_at = now() WHERE owner_id IS NULL`,
		ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to assign owner: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// compile-time interface checks
var (
	_ LegacyStore   = (*PostgresStore)(nil)
	_ BackfillStore = (*PostgresStore)(nil)
)
