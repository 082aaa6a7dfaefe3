package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/docman/internal/model"
)

// --- モック定義 ---

type mockLegacyStore struct {
	fnListLegacyDocuments func(ctx context.Context) ([]*model.Document, error)
	fnReshape             func(ctx context.Context, docID string, file model.FileAttachment) error
}

func (m *mockLegacyStore) ListLegacyDocuments(ctx context.Context) ([]*model.Document, error) {
	if m.fnListLegacyDocuments != nil {
		return m.fnListLegacyDocuments(ctx)
	}
	return nil, nil
}

func (m *mockLegacyStore) Reshape(ctx context.Context, docID string, file model.FileAttachment) error {
	if m.fnReshape != nil {
		return m.fnReshape(ctx, docID, file)
	}
	return nil
}

func legacyDoc(id, driveFileID string) *model.Document {
	return &model.Document{
		ID: id,
		LegacyFile: &model.LegacyFileFields{
			OriginalName:   "report.pdf",
			Filename:       "report-1.pdf",
			DriveFileID:    driveFileID,
			WebViewLink:    "https://example.com/view",
			WebContentLink: "https://example.com/content",
			Size:           2048,
			MimeType:       "application/pdf",
		},
	}
}

func TestLegacyMigrator_ReshapesFlatFields(t *testing.T) {
	var reshaped []model.FileAttachment

	store := &mockLegacyStore{
		fnListLegacyDocuments: func(ctx context.Context) ([]*model.Document, error) {
			return []*model.Document{legacyDoc("doc-1", "drive-1"), legacyDoc("doc-2", "drive-2")}, nil
		},
		fnReshape: func(ctx context.Context, docID string, file model.FileAttachment) error {
			reshaped = append(reshaped, file)
			return nil
		},
	}

	result, err := NewLegacyMigrator(store).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Scanned != 2 {
		t.Errorf("scanned = %d, want 2", result.Scanned)
	}
	if result.Migrated != 2 {
		t.Errorf("migrated = %d, want 2", result.Migrated)
	}
	if len(reshaped) != 2 {
		t.Fatalf("reshape calls = %d, want 2", len(reshaped))
	}

	// 平坦なカラムの内容が添付ファイル行へそのまま畳み込まれること
	f := reshaped[0]
	if f.BlobID != "drive-1" {
		t.Errorf("blob ID = %q, want %q", f.BlobID, "drive-1")
	}
	if f.OriginalName != "report.pdf" {
		t.Errorf("original name = %q, want %q", f.OriginalName, "report.pdf")
	}
	if f.Size != 2048 {
		t.Errorf("size = %d, want 2048", f.Size)
	}
	if f.ContentType != "application/pdf" {
		t.Errorf("content type = %q, want %q", f.ContentType, "application/pdf")
	}
	if f.Position != 0 {
		t.Errorf("position = %d, want 0", f.Position)
	}
	if f.ID == "" {
		t.Error("attachment ID should be generated")
	}
}

func TestLegacyMigrator_SecondRunWritesNothing(t *testing.T) {
	reshapeCalls := 0
	store := &mockLegacyStore{
		fnListLegacyDocuments: func(ctx context.Context) ([]*model.Document, error) {
			// 移行済み: 平坦なカラムを持つドキュメントは存在しない
			return nil, nil
		},
		fnReshape: func(ctx context.Context, docID string, file model.FileAttachment) error {
			reshapeCalls++
			return nil
		},
	}

	result, err := NewLegacyMigrator(store).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Scanned != 0 || result.Migrated != 0 {
		t.Errorf("result = %+v, want all zero", result)
	}
	if reshapeCalls != 0 {
		t.Errorf("reshape calls = %d, want 0", reshapeCalls)
	}
}

func TestLegacyMigrator_SkipsIncompleteDocuments(t *testing.T) {
	store := &mockLegacyStore{
		fnListLegacyDocuments: func(ctx context.Context) ([]*model.Document, error) {
			broken := &model.Document{ID: "doc-broken", LegacyFile: &model.LegacyFileFields{}}
			return []*model.Document{broken, legacyDoc("doc-ok", "drive-ok")}, nil
		},
	}

	result, err := NewLegacyMigrator(store).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Scanned != 2 {
		t.Errorf("scanned = %d, want 2", result.Scanned)
	}
	if result.Migrated != 1 {
		t.Errorf("migrated = %d, want 1", result.Migrated)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
}

func TestLegacyMigrator_SkipsDocumentsWithExistingAttachments(t *testing.T) {
	var reshapedIDs []string

	store := &mockLegacyStore{
		fnListLegacyDocuments: func(ctx context.Context) ([]*model.Document, error) {
			// 平坦なカラムと添付ファイル行の両方を持つ混在形状のドキュメント。
			// 再形成すると同一Blobの添付ファイル行が重複する。
			mixed := legacyDoc("doc-mixed", "drive-mixed")
			mixed.Files = []model.FileAttachment{{
				ID:         "file-1",
				DocumentID: "doc-mixed",
				BlobID:     "drive-mixed",
				Position:   0,
			}}
			return []*model.Document{mixed, legacyDoc("doc-flat", "drive-flat")}, nil
		},
		fnReshape: func(ctx context.Context, docID string, file model.FileAttachment) error {
			reshapedIDs = append(reshapedIDs, docID)
			return nil
		},
	}

	result, err := NewLegacyMigrator(store).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(reshapedIDs) != 1 || reshapedIDs[0] != "doc-flat" {
		t.Errorf("reshaped documents = %v, want [doc-flat]", reshapedIDs)
	}
	if result.Migrated != 1 {
		t.Errorf("migrated = %d, want 1", result.Migrated)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
}

func TestLegacyMigrator_StopsOnReshapeError(t *testing.T) {
	store := &mockLegacyStore{
		fnListLegacyDocuments: func(ctx context.Context) ([]*model.Document, error) {
			return []*model.Document{legacyDoc("doc-1", "drive-1"), legacyDoc("doc-2", "drive-2")}, nil
		},
		fnReshape: func(ctx context.Context, docID string, file model.FileAttachment) error {
			if docID == "doc-2" {
				return errors.New("deadlock detected")
			}
			return nil
		},
	}

	result, err := NewLegacyMigrator(store).Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	// 途中までの進捗は結果に反映される
	if result.Migrated != 1 {
		t.Errorf("migrated = %d, want 1", result.Migrated)
	}
}
