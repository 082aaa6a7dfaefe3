// Package document はドキュメントのアップロード・閲覧・更新・削除を提供する。
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/docman/internal/auth"
	"github.com/hitoshi/docman/internal/metrics"
	"github.com/hitoshi/docman/internal/model"
	"github.com/hitoshi/docman/internal/repository"
	"github.com/hitoshi/docman/internal/security"
	"github.com/hitoshi/docman/internal/storage"
)

// UploadFile はアップロード対象の1ファイルを表す。
// Contentは資格情報失効時のリトライに備えてio.ReadSeekerとする。
type UploadFile struct {
	OriginalName string
	ContentType  string
	Size         int64
	Content      io.ReadSeeker
}

// ServiceConfig はドキュメントサービスの設定。
type ServiceConfig struct {
	// RequireStorageCredential はアップロードにユーザー単位の
	// ストレージ資格情報を必要とするかどうか。driveバックエンドでtrue。
	RequireStorageCredential bool
}

// Service はドキュメント操作のビジネスロジックを提供する。
// 全操作は認証済みプリンシパルに所有権スコープされ、
// 他ユーザーのドキュメントは存在しないものとして扱う。
type Service struct {
	docs      repository.DocumentRepository
	storage   storage.Client
	sanitizer security.NoteSanitizerService
	collector metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はドキュメントサービスを生成する。
func NewService(
	docs repository.DocumentRepository,
	storageClient storage.Client,
	sanitizer security.NoteSanitizerService,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		docs:      docs,
		storage:   storageClient,
		sanitizer: sanitizer,
		collector: collector,
		config:    config,
	}
}

// ListResult はドキュメント一覧とページネーション情報を表す。
type ListResult struct {
	Documents []*model.Document
	Total     int
	Page      int
	Limit     int
}

// Upload はファイル群をストレージへ転送し、ドキュメントを作成する。
//
// rawMetadataはメタデータのJSON文字列。パースに失敗した場合は
// 警告ログを出して空のメタデータとして扱い、アップロード自体は続行する。
// タイトル未指定時は先頭ファイルの元ファイル名を採用する。
// ストレージへの転送は受信順に逐次実行する。途中で失敗した場合は
// エラーを返すのみで、転送済みBlobの巻き戻しは行わない（孤児Blobは許容する）。
func (s *Service) Upload(ctx context.Context, principal *model.Principal, files []UploadFile, rawMetadata string) (*model.Document, error) {
	if len(files) == 0 {
		return nil, model.NewNoFilesUploadedError()
	}

	if s.config.RequireStorageCredential &&
		auth.StateOf(principal.User.RefreshToken) == auth.CredentialMissing {
		s.collector.RecordUploadFailure("missing_credential")
		return nil, model.NewMissingRefreshTokenError()
	}

	meta := parseMetadata(rawMetadata)

	title := meta.Title
	if title == "" {
		title = files[0].OriginalName
	}
	note := s.sanitizer.Sanitize(meta.Note)

	start := time.Now()
	cred := storageCredential(principal)

	var attachments []model.FileAttachment
	var totalBytes int64
	for i, f := range files {
		blob, err := s.storage.Upload(ctx, cred, f.OriginalName, f.ContentType, f.Size, f.Content)
		if err != nil {
			s.collector.RecordUploadFailure("storage_error")
			slog.Error("file upload failed partway, leaving uploaded blobs orphaned",
				slog.String("file", f.OriginalName),
				slog.Int("uploaded_so_far", len(attachments)),
				slog.String("error", err.Error()),
			)
			return nil, model.NewStorageError(fmt.Sprintf("failed to upload %s", f.OriginalName))
		}

		attachments = append(attachments, model.FileAttachment{
			ID:           uuid.NewString(),
			BlobID:       blob.ID,
			ViewLink:     blob.ViewLink,
			ContentLink:  blob.ContentLink,
			OriginalName: f.OriginalName,
			Filename:     blob.ID,
			Size:         f.Size,
			ContentType:  f.ContentType,
			Position:     i,
		})
		totalBytes += f.Size
	}

	now := time.Now()
	doc := &model.Document{
		ID:        uuid.NewString(),
		OwnerID:   principal.User.ID,
		Title:     title,
		Note:      note,
		Files:     attachments,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range doc.Files {
		doc.Files[i].DocumentID = doc.ID
	}

	if err := s.docs.Create(ctx, doc); err != nil {
		s.collector.RecordUploadFailure("database_error")
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.collector.RecordUploadSuccess(len(files))
	s.collector.RecordUploadLatency(time.Since(start))
	s.collector.RecordUploadedBytes(totalBytes)

	slog.Info("document uploaded",
		slog.String("document_id", doc.ID),
		slog.String("owner_id", doc.OwnerID),
		slog.Int("file_count", len(files)),
		slog.Int64("total_bytes", totalBytes),
	)

	return doc, nil
}

// List はプリンシパルのドキュメント一覧を作成日時の降順で返す。
// searchが非空の場合はタイトル・ノート・添付ファイル名の部分一致で絞り込む。
func (s *Service) List(ctx context.Context, principal *model.Principal, page, limit int, search string) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	docs, total, err := s.docs.ListByOwner(ctx, principal.User.ID, page, limit, search)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return &ListResult{
		Documents: docs,
		Total:     total,
		Page:      page,
		Limit:     limit,
	}, nil
}

// Get は指定IDのドキュメントを返す。
// 存在しない場合と所有者が異なる場合は同一のエラーを返す。
func (s *Service) Get(ctx context.Context, principal *model.Principal, id string) (*model.Document, error) {
	doc, err := s.docs.FindByIDAndOwner(ctx, id, principal.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, model.NewDocumentNotFoundError(id)
	}
	return doc, nil
}

// UpdateMetadata はドキュメントのタイトルとノートを更新する。
// ノートは保存前にサニタイズされる。ファイル群には影響しない。
func (s *Service) UpdateMetadata(ctx context.Context, principal *model.Principal, id string, meta model.DocumentMetadata) (*model.Document, error) {
	note := s.sanitizer.Sanitize(meta.Note)

	doc, err := s.docs.UpdateMetadata(ctx, id, principal.User.ID, meta.Title, note)
	if err != nil {
		return nil, fmt.Errorf("failed to update document metadata: %w", err)
	}
	if doc == nil {
		return nil, model.NewDocumentNotFoundError(id)
	}
	return doc, nil
}

// Delete はドキュメントと添付Blobを削除する。
// Blobの削除はベストエフォートで、失敗してもドキュメント行の削除は続行する。
func (s *Service) Delete(ctx context.Context, principal *model.Principal, id string) error {
	doc, err := s.docs.FindByIDAndOwner(ctx, id, principal.User.ID)
	if err != nil {
		return fmt.Errorf("failed to find document for deletion: %w", err)
	}
	if doc == nil {
		return model.NewDocumentNotFoundError(id)
	}

	cred := storageCredential(principal)
	s.cleanupBlobs(ctx, cred, doc.Files)
	if doc.LegacyFile != nil && doc.LegacyFile.DriveFileID != "" {
		s.deleteBlob(ctx, cred, doc.LegacyFile.DriveFileID)
	}

	deleted, err := s.docs.Delete(ctx, id, principal.User.ID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if !deleted {
		return model.NewDocumentNotFoundError(id)
	}

	slog.Info("document deleted",
		slog.String("document_id", id),
		slog.String("owner_id", principal.User.ID),
	)

	return nil
}

// RemoveAttachment はドキュメントから添付ファイルを1件取り除く。
// Blobの削除はベストエフォート。最後の1件を取り除いても
// ドキュメント自体は削除せず、ファイルなしのドキュメントとして残る。
// 更新後のドキュメントを返す。
func (s *Service) RemoveAttachment(ctx context.Context, principal *model.Principal, docID, fileID string) (*model.Document, error) {
	doc, err := s.docs.FindByIDAndOwner(ctx, docID, principal.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc == nil {
		return nil, model.NewDocumentNotFoundError(docID)
	}

	var target *model.FileAttachment
	for i := range doc.Files {
		if doc.Files[i].ID == fileID {
			target = &doc.Files[i]
			break
		}
	}
	if target == nil {
		return nil, model.NewFileNotFoundError(fileID)
	}

	removed, err := s.docs.RemoveFile(ctx, docID, principal.User.ID, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove document file: %w", err)
	}
	if !removed {
		return nil, model.NewFileNotFoundError(fileID)
	}

	s.deleteBlob(ctx, storageCredential(principal), target.BlobID)

	updated, err := s.docs.FindByIDAndOwner(ctx, docID, principal.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload document: %w", err)
	}
	return updated, nil
}

// Download は添付ファイルのバイトストリームと属性を返す。
// migrate-legacy未実施のドキュメントでは、レガシーの平坦なファイル参照も
// Blob識別子の一致でダウンロード可能にする。
func (s *Service) Download(ctx context.Context, principal *model.Principal, docID, fileID string) (io.ReadCloser, *model.FileAttachment, error) {
	doc, err := s.docs.FindByIDAndOwner(ctx, docID, principal.User.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc == nil {
		return nil, nil, model.NewDocumentNotFoundError(docID)
	}

	var target *model.FileAttachment
	for i := range doc.Files {
		if doc.Files[i].ID == fileID {
			target = &doc.Files[i]
			break
		}
	}
	if target == nil && doc.LegacyFile != nil && doc.LegacyFile.DriveFileID == fileID {
		target = &model.FileAttachment{
			ID:           doc.LegacyFile.DriveFileID,
			DocumentID:   doc.ID,
			BlobID:       doc.LegacyFile.DriveFileID,
			ViewLink:     doc.LegacyFile.WebViewLink,
			ContentLink:  doc.LegacyFile.WebContentLink,
			OriginalName: doc.LegacyFile.OriginalName,
			Filename:     doc.LegacyFile.Filename,
			Size:         doc.LegacyFile.Size,
			ContentType:  doc.LegacyFile.MimeType,
		}
	}
	if target == nil {
		return nil, nil, model.NewFileNotFoundError(fileID)
	}

	body, err := s.storage.Download(ctx, storageCredential(principal), target.BlobID)
	if err != nil {
		return nil, nil, model.NewStorageError(fmt.Sprintf("failed to download %s", target.OriginalName))
	}

	return body, target, nil
}

// cleanupBlobs は添付Blob群をベストエフォートで削除する。
func (s *Service) cleanupBlobs(ctx context.Context, cred storage.Credential, attachments []model.FileAttachment) {
	for _, a := range attachments {
		s.deleteBlob(ctx, cred, a.BlobID)
	}
}

// deleteBlob はBlobをベストエフォートで削除する。
// 失敗はログとメトリクスに記録するのみで呼び出し元へは伝播させない。
func (s *Service) deleteBlob(ctx context.Context, cred storage.Credential, blobID string) {
	if err := s.storage.Delete(ctx, cred, blobID); err != nil {
		s.collector.RecordBlobDeleteFailure()
		slog.Warn("failed to delete blob",
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()),
		)
	}
}

// parseMetadata はメタデータJSONをパースする。
// 不正なJSONは警告ログを出して空のメタデータとして扱う。
func parseMetadata(raw string) model.DocumentMetadata {
	var meta model.DocumentMetadata
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		slog.Warn("failed to parse document metadata, treating as empty",
			slog.String("error", err.Error()),
		)
		return model.DocumentMetadata{}
	}
	return meta
}

// storageCredential はプリンシパルからストレージ資格情報を組み立てる。
func storageCredential(principal *model.Principal) storage.Credential {
	return storage.Credential{
		AccessToken:  principal.AccessToken,
		RefreshToken: principal.User.RefreshToken,
	}
}
