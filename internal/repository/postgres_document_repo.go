package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/docman/internal/model"
)

// PostgresDocumentRepo はPostgreSQLを使用したドキュメントリポジトリ。
// 添付ファイルはdocument_filesテーブルに正規化されている。
// 旧スキーマの平坦なファイルカラムはmigrate-legacyが完了するまで
// documentsテーブルに残るため、読み取り時はLegacyFileとして返す。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

// Create はドキュメントと添付ファイルを同一トランザクションで作成する。
func (r *PostgresDocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, title, note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.OwnerID, doc.Title, doc.Note, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	for _, f := range doc.Files {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO document_files (id, document_id, blob_id, view_link, content_link, original_name, filename, size, content_type, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, doc.ID, f.BlobID, f.ViewLink, f.ContentLink,
			f.OriginalName, f.Filename, f.Size, f.ContentType, f.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert document file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindByIDAndOwner は指定IDかつ指定所有者のドキュメントを添付ファイル込みで取得する。
// 見つからない場合（所有者不一致を含む）はnilを返す。
func (r *PostgresDocumentRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Document, error) {
	doc, err := r.scanDocument(r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, note,
		        original_name, filename, drive_file_id, web_view_link, web_content_link, size, mime_type,
		        created_at, updated_at
		 FROM documents
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	files, err := r.loadFiles(ctx, []string{doc.ID})
	if err != nil {
		return nil, err
	}
	doc.Files = files[doc.ID]

	return doc, nil
}

// ListByOwner は所有者のドキュメント一覧を作成日時の降順で返す。
// searchが非空の場合はタイトル・ノート・添付ファイル名のOR部分一致で絞り込む。
func (r *PostgresDocumentRepo) ListByOwner(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	// 絞り込み条件は件数取得と一覧取得で共有する
	where := `d.owner_id = $1
	  AND ($2 = ''
	       OR d.title ILIKE '%' || $2 || '%'
	       OR d.note ILIKE '%' || $2 || '%'
	       OR EXISTS (
	            SELECT 1 FROM document_files f
	            WHERE f.document_id = d.id AND f.original_name ILIKE '%' || $2 || '%'
	       ))`

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents d WHERE `+where,
		ownerID, search,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.owner_id, d.title, d.note,
		        d.original_name, d.filename, d.drive_file_id, d.web_view_link, d.web_content_link, d.size, d.mime_type,
		        d.created_at, d.updated_at
		 FROM documents d
		 WHERE `+where+`
		 ORDER BY d.created_at DESC
		 LIMIT $3 OFFSET $4`,
		ownerID, search, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	var ids []string
	for rows.Next() {
		doc, err := r.scanDocumentRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate documents: %w", err)
	}

	if len(ids) > 0 {
		files, err := r.loadFiles(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for _, doc := range docs {
			doc.Files = files[doc.ID]
		}
	}

	return docs, total, nil
}

// UpdateMetadata はタイトルとノートを更新し、更新後のドキュメントを返す。
// 見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) UpdateMetadata(ctx context.Context, id, ownerID, title, note string) (*model.Document, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET title = $3, note = $4, updated_at = now()
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, title, note,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update document metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.FindByIDAndOwner(ctx, id, ownerID)
}

// Delete はドキュメントを削除する。添付ファイル行はCASCADE削除される。
// 削除が行われた場合はtrueを返す。
func (r *PostgresDocumentRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RemoveFile はドキュメントから添付ファイルを1件削除する。
// 所有者確認はサブクエリで行い、不一致は削除0件として扱う。
func (r *PostgresDocumentRepo) RemoveFile(ctx context.Context, docID, ownerID, fileID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM document_files
		 WHERE id = $1
		   AND document_id = (
		        SELECT id FROM documents WHERE id = $2 AND owner_id = $3
		   )`,
		fileID, docID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove document file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// loadFiles は複数ドキュメントの添付ファイルをまとめて取得する。
func (r *PostgresDocumentRepo) loadFiles(ctx context.Context, docIDs []string) (map[string][]model.FileAttachment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document_id, blob_id, view_link, content_link, original_name, filename, size, content_type, position
		 FROM document_files
		 WHERE document_id = ANY($1)
		 ORDER BY document_id, position`,
		pq.Array(docIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load document files: %w", err)
	}
	defer rows.Close()

	files := make(map[string][]model.FileAttachment)
	for rows.Next() {
		var f model.FileAttachment
		if err := rows.Scan(
			&f.ID, &f.DocumentID, &f.BlobID, &f.ViewLink, &f.ContentLink,
			&f.OriginalName, &f.Filename, &f.Size, &f.ContentType, &f.Position,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document file: %w", err)
		}
		files[f.DocumentID] = append(files[f.DocumentID], f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document files: %w", err)
	}

	return files, nil
}

// legacyColumns は旧スキーマの平坦なファイルカラムのスキャン先。
type legacyColumns struct {
	originalName   sql.NullString
	filename       sql.NullString
	driveFileID    sql.NullString
	webViewLink    sql.NullString
	webContentLink sql.NullString
	size           sql.NullInt64
	mimeType       sql.NullString
}

// toModel は非NULLのdrive_file_idを持つ場合のみLegacyFileFieldsを返す。
func (lc *legacyColumns) toModel() *model.LegacyFileFields {
	if !lc.driveFileID.Valid || lc.driveFileID.String == "" {
		return nil
	}
	return &model.LegacyFileFields{
		OriginalName:   lc.originalName.String,
		Filename:       lc.filename.String,
		DriveFileID:    lc.driveFileID.String,
		WebViewLink:    lc.webViewLink.String,
		WebContentLink: lc.webContentLink.String,
		Size:           lc.size.Int64,
		MimeType:       lc.mimeType.String,
	}
}

// scanDocument は単一行クエリの結果をmodel.Documentにスキャンする。
func (r *PostgresDocumentRepo) scanDocument(row *sql.Row) (*model.Document, error) {
	doc := &model.Document{}
	var lc legacyColumns
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.Note,
		&lc.originalName, &lc.filename, &lc.driveFileID, &lc.webViewLink, &lc.webContentLink, &lc.size, &lc.mimeType,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.LegacyFile = lc.toModel()
	return doc, nil
}

// scanDocumentRows は複数行クエリの1行をmodel.Documentにスキャンする。
func (r *PostgresDocumentRepo) scanDocumentRows(rows *sql.Rows) (*model.Document, error) {
	doc := &model.Document{}
	var lc legacyColumns
	err := rows.Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.Note,
		&lc.originalName, &lc.filename, &lc.driveFileID, &lc.webViewLink, &lc.webContentLink, &lc.size, &lc.mimeType,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.LegacyFile = lc.toModel()
	return doc, nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
