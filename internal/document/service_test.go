package document

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/docman/internal/model"
	"github.com/hitoshi/docman/internal/storage"
)

// --- モック定義 ---

type mockDocumentRepo struct {
	fnCreate           func(ctx context.Context, doc *model.Document) error
	fnFindByIDAndOwner func(ctx context.Context, id, ownerID string) (*model.Document, error)
	fnListByOwner      func(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error)
	fnUpdateMetadata   func(ctx context.Context, id, ownerID, title, note string) (*model.Document, error)
	fnDelete           func(ctx context.Context, id, ownerID string) (bool, error)
	fnRemoveFile       func(ctx context.Context, docID, ownerID, fileID string) (bool, error)
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	if m.fnCreate != nil {
		return m.fnCreate(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Document, error) {
	if m.fnFindByIDAndOwner != nil {
		return m.fnFindByIDAndOwner(ctx, id, ownerID)
	}
	return nil, nil
}

func (m *mockDocumentRepo) ListByOwner(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error) {
	if m.fnListByOwner != nil {
		return m.fnListByOwner(ctx, ownerID, page, limit, search)
	}
	return nil, 0, nil
}

func (m *mockDocumentRepo) UpdateMetadata(ctx context.Context, id, ownerID, title, note string) (*model.Document, error) {
	if m.fnUpdateMetadata != nil {
		return m.fnUpdateMetadata(ctx, id, ownerID, title, note)
	}
	return nil, nil
}

func (m *mockDocumentRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	if m.fnDelete != nil {
		return m.fnDelete(ctx, id, ownerID)
	}
	return false, nil
}

func (m *mockDocumentRepo) RemoveFile(ctx context.Context, docID, ownerID, fileID string) (bool, error) {
	if m.fnRemoveFile != nil {
		return m.fnRemoveFile(ctx, docID, ownerID, fileID)
	}
	return false, nil
}

type mockStorageClient struct {
	fnUpload   func(ctx context.Context, cred storage.Credential, name, contentType string, size int64, content io.ReadSeeker) (*storage.Blob, error)
	fnDownload func(ctx context.Context, cred storage.Credential, blobID string) (io.ReadCloser, error)
	fnDelete   func(ctx context.Context, cred storage.Credential, blobID string) error
}

func (m *mockStorageClient) Upload(ctx context.Context, cred storage.Credential, name, contentType string, size int64, content io.ReadSeeker) (*storage.Blob, error) {
	if m.fnUpload != nil {
		return m.fnUpload(ctx, cred, name, contentType, size, content)
	}
	return &storage.Blob{ID: "blob-" + name}, nil
}

func (m *mockStorageClient) Download(ctx context.Context, cred storage.Credential, blobID string) (io.ReadCloser, error) {
	if m.fnDownload != nil {
		return m.fnDownload(ctx, cred, blobID)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *mockStorageClient) Delete(ctx context.Context, cred storage.Credential, blobID string) error {
	if m.fnDelete != nil {
		return m.fnDelete(ctx, cred, blobID)
	}
	return nil
}

type mockSanitizer struct {
	fnSanitize func(rawHTML string) string
}

func (m *mockSanitizer) Sanitize(rawHTML string) string {
	if m.fnSanitize != nil {
		return m.fnSanitize(rawHTML)
	}
	return rawHTML
}

type stubCollector struct {
	uploadSuccesses    int
	uploadFailures     []string
	blobDeleteFailures int
}

func (c *stubCollector) RecordUploadSuccess(fileCount int) { c.uploadSuccesses++ }
func (c *stubCollector) RecordUploadFailure(reason string) {
	c.uploadFailures = append(c.uploadFailures, reason)
}
func (c *stubCollector) RecordUploadLatency(duration time.Duration) {}
func (c *stubCollector) RecordUploadedBytes(bytes int64)            {}
func (c *stubCollector) RecordBlobDeleteFailure()                   { c.blobDeleteFailures++ }
func (c *stubCollector) RecordHTTPStatus(statusCode int)            {}

func testPrincipal(refreshToken string) *model.Principal {
	return &model.Principal{
		User: &model.User{
			ID:           "user-1",
			GoogleID:     "google-1",
			RefreshToken: refreshToken,
		},
		AccessToken: "access-token",
	}
}

func testUploadFiles(names ...string) []UploadFile {
	var files []UploadFile
	for _, name := range names {
		files = append(files, UploadFile{
			OriginalName: name,
			ContentType:  "text/plain",
			Size:         4,
			Content:      strings.NewReader("data"),
		})
	}
	return files
}

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	return apiErr.Code
}

// --- Upload のテスト ---

func TestUpload_NoFiles(t *testing.T) {
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, err := svc.Upload(context.Background(), testPrincipal("rt"), nil, "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeNoFilesUploaded {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeNoFilesUploaded)
	}
}

func TestUpload_MissingCredential(t *testing.T) {
	collector := &stubCollector{}
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, collector,
		ServiceConfig{RequireStorageCredential: true})

	// リフレッシュトークンなしのプリンシパル
	_, err := svc.Upload(context.Background(), testPrincipal(""), testUploadFiles("a.txt"), "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeMissingRefreshToken {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeMissingRefreshToken)
	}
	if len(collector.uploadFailures) != 1 || collector.uploadFailures[0] != "missing_credential" {
		t.Errorf("upload failures = %v, want [missing_credential]", collector.uploadFailures)
	}
}

func TestUpload_CredentialNotRequiredForSharedBackend(t *testing.T) {
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{},
		ServiceConfig{RequireStorageCredential: false})

	// s3バックエンドではリフレッシュトークンなしでもアップロードできる
	doc, err := svc.Upload(context.Background(), testPrincipal(""), testUploadFiles("a.txt"), "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document, got nil")
	}
}

func TestUpload_Success(t *testing.T) {
	var created *model.Document
	var uploadedNames []string

	repo := &mockDocumentRepo{
		fnCreate: func(ctx context.Context, doc *model.Document) error {
			created = doc
			return nil
		},
	}
	storageClient := &mockStorageClient{
		fnUpload: func(ctx context.Context, cred storage.Credential, name, contentType string, size int64, content io.ReadSeeker) (*storage.Blob, error) {
			uploadedNames = append(uploadedNames, name)
			if cred.AccessToken != "access-token" {
				t.Errorf("cred access token = %q, want %q", cred.AccessToken, "access-token")
			}
			return &storage.Blob{ID: "blob-" + name, ViewLink: "view-" + name, ContentLink: "content-" + name}, nil
		},
	}
	sanitizer := &mockSanitizer{
		fnSanitize: func(raw string) string { return "[clean]" + raw },
	}
	collector := &stubCollector{}

	svc := NewService(repo, storageClient, sanitizer, collector, ServiceConfig{RequireStorageCredential: true})

	meta := `{"title":"請求書2026","note":"<p>メモ</p>"}`
	doc, err := svc.Upload(context.Background(), testPrincipal("rt"), testUploadFiles("a.pdf", "b.pdf"), meta)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if doc.Title != "請求書2026" {
		t.Errorf("title = %q, want %q", doc.Title, "請求書2026")
	}
	if doc.Note != "[clean]<p>メモ</p>" {
		t.Errorf("note = %q, want sanitized note", doc.Note)
	}
	if doc.OwnerID != "user-1" {
		t.Errorf("owner ID = %q, want %q", doc.OwnerID, "user-1")
	}
	if created == nil {
		t.Fatal("repository Create was not called")
	}
	if len(created.Files) != 2 {
		t.Fatalf("file count = %d, want 2", len(created.Files))
	}
	// 受信順に逐次アップロードされ、positionが受信順で振られること
	if uploadedNames[0] != "a.pdf" || uploadedNames[1] != "b.pdf" {
		t.Errorf("uploaded names = %v, want [a.pdf b.pdf]", uploadedNames)
	}
	for i, f := range created.Files {
		if f.Position != i {
			t.Errorf("file %d position = %d, want %d", i, f.Position, i)
		}
		if f.DocumentID != created.ID {
			t.Errorf("file %d document ID = %q, want %q", i, f.DocumentID, created.ID)
		}
	}
	if collector.uploadSuccesses != 1 {
		t.Errorf("upload successes = %d, want 1", collector.uploadSuccesses)
	}
}

func TestUpload_DefaultTitleFromFirstFile(t *testing.T) {
	var created *model.Document
	repo := &mockDocumentRepo{
		fnCreate: func(ctx context.Context, doc *model.Document) error {
			created = doc
			return nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, err := svc.Upload(context.Background(), testPrincipal("rt"), testUploadFiles("契約書.pdf", "別紙.pdf"), "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if created.Title != "契約書.pdf" {
		t.Errorf("title = %q, want first file name", created.Title)
	}
}

func TestUpload_InvalidMetadataJSON(t *testing.T) {
	var created *model.Document
	repo := &mockDocumentRepo{
		fnCreate: func(ctx context.Context, doc *model.Document) error {
			created = doc
			return nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	// 不正なJSONは空のメタデータとして扱われ、アップロード自体は成功する
	_, err := svc.Upload(context.Background(), testPrincipal("rt"), testUploadFiles("a.txt"), "{broken json")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if created.Title != "a.txt" {
		t.Errorf("title = %q, want fallback to file name", created.Title)
	}
	if created.Note != "" {
		t.Errorf("note = %q, want empty", created.Note)
	}
}

func TestUpload_StorageFailureLeavesUploadedBlobsOrphaned(t *testing.T) {
	var deleted []string
	uploadCount := 0

	storageClient := &mockStorageClient{
		fnUpload: func(ctx context.Context, cred storage.Credential, name, contentType string, size int64, content io.ReadSeeker) (*storage.Blob, error) {
			uploadCount++
			if uploadCount == 2 {
				return nil, errors.New("quota exceeded")
			}
			return &storage.Blob{ID: "blob-" + name}, nil
		},
		fnDelete: func(ctx context.Context, cred storage.Credential, blobID string) error {
			deleted = append(deleted, blobID)
			return nil
		},
	}
	collector := &stubCollector{}

	svc := NewService(&mockDocumentRepo{}, storageClient, &mockSanitizer{}, collector, ServiceConfig{})

	_, err := svc.Upload(context.Background(), testPrincipal("rt"), testUploadFiles("a.txt", "b.txt"), "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeStorageError {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeStorageError)
	}
	// 転送済みBlobの巻き戻しは行わない（孤児Blobとして残る）
	if len(deleted) != 0 {
		t.Errorf("deleted blobs = %v, want none", deleted)
	}
	if len(collector.uploadFailures) != 1 || collector.uploadFailures[0] != "storage_error" {
		t.Errorf("upload failures = %v, want [storage_error]", collector.uploadFailures)
	}
}

// --- List のテスト ---

func TestList_ClampsPageAndLimit(t *testing.T) {
	var gotPage, gotLimit int
	repo := &mockDocumentRepo{
		fnListByOwner: func(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error) {
			gotPage, gotLimit = page, limit
			return nil, 0, nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	result, err := svc.List(context.Background(), testPrincipal("rt"), -1, 500, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if gotPage != 1 {
		t.Errorf("page = %d, want 1", gotPage)
	}
	if gotLimit != 50 {
		t.Errorf("limit = %d, want 50", gotLimit)
	}
	if result.Page != 1 || result.Limit != 50 {
		t.Errorf("result page/limit = %d/%d, want 1/50", result.Page, result.Limit)
	}
}

func TestList_PassesSearchQuery(t *testing.T) {
	var gotSearch, gotOwner string
	repo := &mockDocumentRepo{
		fnListByOwner: func(ctx context.Context, ownerID string, page, limit int, search string) ([]*model.Document, int, error) {
			gotSearch, gotOwner = search, ownerID
			return []*model.Document{{ID: "doc-1"}}, 1, nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	result, err := svc.List(context.Background(), testPrincipal("rt"), 1, 10, "請求書")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if gotSearch != "請求書" {
		t.Errorf("search = %q, want %q", gotSearch, "請求書")
	}
	if gotOwner != "user-1" {
		t.Errorf("owner = %q, want %q", gotOwner, "user-1")
	}
	if result.Total != 1 {
		t.Errorf("total = %d, want 1", result.Total)
	}
}

// --- Get / UpdateMetadata のテスト ---

func TestGet_NotFound(t *testing.T) {
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, err := svc.Get(context.Background(), testPrincipal("rt"), "doc-missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeDocumentNotFound {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeDocumentNotFound)
	}
}

func TestUpdateMetadata_SanitizesNote(t *testing.T) {
	var gotTitle, gotNote string
	repo := &mockDocumentRepo{
		fnUpdateMetadata: func(ctx context.Context, id, ownerID, title, note string) (*model.Document, error) {
			gotTitle, gotNote = title, note
			return &model.Document{ID: id, Title: title, Note: note}, nil
		},
	}
	sanitizer := &mockSanitizer{
		fnSanitize: func(raw string) string { return strings.ReplaceAll(raw, "<script>", "") },
	}

	svc := NewService(repo, &mockStorageClient{}, sanitizer, &stubCollector{}, ServiceConfig{})

	doc, err := svc.UpdateMetadata(context.Background(), testPrincipal("rt"), "doc-1",
		model.DocumentMetadata{Title: "新タイトル", Note: "<script>x<p>ノート</p>"})
	if err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	if gotTitle != "新タイトル" {
		t.Errorf("title = %q, want %q", gotTitle, "新タイトル")
	}
	if gotNote != "x<p>ノート</p>" {
		t.Errorf("note = %q, want sanitized", gotNote)
	}
	if doc == nil {
		t.Fatal("expected document, got nil")
	}
}

func TestUpdateMetadata_NotFound(t *testing.T) {
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, err := svc.UpdateMetadata(context.Background(), testPrincipal("rt"), "doc-missing", model.DocumentMetadata{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeDocumentNotFound {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeDocumentNotFound)
	}
}

// --- Delete のテスト ---

func TestDelete_RemovesBlobsBestEffort(t *testing.T) {
	doc := &model.Document{
		ID:      "doc-1",
		OwnerID: "user-1",
		Files: []model.FileAttachment{
			{ID: "f1", BlobID: "blob-1"},
			{ID: "f2", BlobID: "blob-2"},
		},
	}

	var deletedBlobs []string
	repoDeleted := false

	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return doc, nil
		},
		fnDelete: func(ctx context.Context, id, ownerID string) (bool, error) {
			repoDeleted = true
			return true, nil
		},
	}
	storageClient := &mockStorageClient{
		fnDelete: func(ctx context.Context, cred storage.Credential, blobID string) error {
			deletedBlobs = append(deletedBlobs, blobID)
			// blob-2の削除は失敗するが、ドキュメント削除は続行される
			if blobID == "blob-2" {
				return errors.New("blob not reachable")
			}
			return nil
		},
	}
	collector := &stubCollector{}

	svc := NewService(repo, storageClient, &mockSanitizer{}, collector, ServiceConfig{})

	if err := svc.Delete(context.Background(), testPrincipal("rt"), "doc-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(deletedBlobs) != 2 {
		t.Errorf("deleted blobs = %v, want 2 entries", deletedBlobs)
	}
	if !repoDeleted {
		t.Error("document row was not deleted")
	}
	if collector.blobDeleteFailures != 1 {
		t.Errorf("blob delete failures = %d, want 1", collector.blobDeleteFailures)
	}
}

func TestDelete_LegacyFileBlobIsDeleted(t *testing.T) {
	doc := &model.Document{
		ID:      "doc-legacy",
		OwnerID: "user-1",
		LegacyFile: &model.LegacyFileFields{
			DriveFileID:  "legacy-blob",
			OriginalName: "old.pdf",
		},
	}

	var deletedBlobs []string
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return doc, nil
		},
		fnDelete: func(ctx context.Context, id, ownerID string) (bool, error) {
			return true, nil
		},
	}
	storageClient := &mockStorageClient{
		fnDelete: func(ctx context.Context, cred storage.Credential, blobID string) error {
			deletedBlobs = append(deletedBlobs, blobID)
			return nil
		},
	}

	svc := NewService(repo, storageClient, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	if err := svc.Delete(context.Background(), testPrincipal("rt"), "doc-legacy"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(deletedBlobs) != 1 || deletedBlobs[0] != "legacy-blob" {
		t.Errorf("deleted blobs = %v, want [legacy-blob]", deletedBlobs)
	}
}

func TestDelete_NotFound(t *testing.T) {
	svc := NewService(&mockDocumentRepo{}, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	err := svc.Delete(context.Background(), testPrincipal("rt"), "doc-missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeDocumentNotFound {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeDocumentNotFound)
	}
}

// --- RemoveAttachment のテスト ---

func TestRemoveAttachment_Success(t *testing.T) {
	before := &model.Document{
		ID:      "doc-1",
		OwnerID: "user-1",
		Files: []model.FileAttachment{
			{ID: "f1", BlobID: "blob-1"},
			{ID: "f2", BlobID: "blob-2"},
		},
	}
	after := &model.Document{
		ID:      "doc-1",
		OwnerID: "user-1",
		Files: []model.FileAttachment{
			{ID: "f2", BlobID: "blob-2"},
		},
	}

	findCalls := 0
	var deletedBlobs []string

	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			findCalls++
			if findCalls == 1 {
				return before, nil
			}
			return after, nil
		},
		fnRemoveFile: func(ctx context.Context, docID, ownerID, fileID string) (bool, error) {
			if fileID != "f1" {
				t.Errorf("remove file ID = %q, want %q", fileID, "f1")
			}
			return true, nil
		},
	}
	storageClient := &mockStorageClient{
		fnDelete: func(ctx context.Context, cred storage.Credential, blobID string) error {
			deletedBlobs = append(deletedBlobs, blobID)
			return nil
		},
	}

	svc := NewService(repo, storageClient, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	doc, err := svc.RemoveAttachment(context.Background(), testPrincipal("rt"), "doc-1", "f1")
	if err != nil {
		t.Fatalf("RemoveAttachment failed: %v", err)
	}
	if len(doc.Files) != 1 || doc.Files[0].ID != "f2" {
		t.Errorf("remaining files = %+v, want [f2]", doc.Files)
	}
	if len(deletedBlobs) != 1 || deletedBlobs[0] != "blob-1" {
		t.Errorf("deleted blobs = %v, want [blob-1]", deletedBlobs)
	}
}

func TestRemoveAttachment_LastFileLeavesEmptyDocument(t *testing.T) {
	before := &model.Document{
		ID:      "doc-1",
		OwnerID: "user-1",
		Files:   []model.FileAttachment{{ID: "f1", BlobID: "blob-1"}},
	}
	after := &model.Document{ID: "doc-1", OwnerID: "user-1"}

	findCalls := 0
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			findCalls++
			if findCalls == 1 {
				return before, nil
			}
			return after, nil
		},
		fnRemoveFile: func(ctx context.Context, docID, ownerID, fileID string) (bool, error) {
			return true, nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	// 最後の添付を取り除いてもドキュメントは残る
	doc, err := svc.RemoveAttachment(context.Background(), testPrincipal("rt"), "doc-1", "f1")
	if err != nil {
		t.Fatalf("RemoveAttachment failed: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document, got nil")
	}
	if len(doc.Files) != 0 {
		t.Errorf("file count = %d, want 0", len(doc.Files))
	}
}

func TestRemoveAttachment_FileNotFound(t *testing.T) {
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return &model.Document{ID: "doc-1", OwnerID: "user-1"}, nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, err := svc.RemoveAttachment(context.Background(), testPrincipal("rt"), "doc-1", "f-missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeFileNotFound {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeFileNotFound)
	}
}

// --- Download のテスト ---

func TestDownload_Success(t *testing.T) {
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return &model.Document{
				ID:      "doc-1",
				OwnerID: "user-1",
				Files: []model.FileAttachment{
					{ID: "f1", BlobID: "blob-1", OriginalName: "report.pdf", ContentType: "application/pdf"},
				},
			}, nil
		},
	}
	storageClient := &mockStorageClient{
		fnDownload: func(ctx context.Context, cred storage.Credential, blobID string) (io.ReadCloser, error) {
			if blobID != "blob-1" {
				t.Errorf("blob ID = %q, want %q", blobID, "blob-1")
			}
			return io.NopCloser(strings.NewReader("pdf bytes")), nil
		},
	}

	svc := NewService(repo, storageClient, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	body, attachment, err := svc.Download(context.Background(), testPrincipal("rt"), "doc-1", "f1")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer body.Close()

	if attachment.OriginalName != "report.pdf" {
		t.Errorf("original name = %q, want %q", attachment.OriginalName, "report.pdf")
	}
	data, _ := io.ReadAll(body)
	if string(data) != "pdf bytes" {
		t.Errorf("content = %q, want %q", string(data), "pdf bytes")
	}
}

func TestDownload_LegacyFileFallback(t *testing.T) {
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return &model.Document{
				ID:      "doc-legacy",
				OwnerID: "user-1",
				LegacyFile: &model.LegacyFileFields{
					DriveFileID:  "legacy-blob",
					OriginalName: "old.pdf",
					MimeType:     "application/pdf",
				},
			}, nil
		},
	}
	storageClient := &mockStorageClient{
		fnDownload: func(ctx context.Context, cred storage.Credential, blobID string) (io.ReadCloser, error) {
			if blobID != "legacy-blob" {
				t.Errorf("blob ID = %q, want %q", blobID, "legacy-blob")
			}
			return io.NopCloser(strings.NewReader("legacy bytes")), nil
		},
	}

	svc := NewService(repo, storageClient, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	body, attachment, err := svc.Download(context.Background(), testPrincipal("rt"), "doc-legacy", "legacy-blob")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer body.Close()

	if attachment.OriginalName != "old.pdf" {
		t.Errorf("original name = %q, want %q", attachment.OriginalName, "old.pdf")
	}
}

func TestDownload_FileNotFound(t *testing.T) {
	repo := &mockDocumentRepo{
		fnFindByIDAndOwner: func(ctx context.Context, id, ownerID string) (*model.Document, error) {
			return &model.Document{ID: "doc-1", OwnerID: "user-1"}, nil
		},
	}

	svc := NewService(repo, &mockStorageClient{}, &mockSanitizer{}, &stubCollector{}, ServiceConfig{})

	_, _, err := svc.Download(context.Background(), testPrincipal("rt"), "doc-1", "f-missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeFileNotFound {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeFileNotFound)
	}
}
