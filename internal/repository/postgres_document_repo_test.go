package repository

import (
	"database/sql"
	"testing"
)

// TestPostgresDocumentRepo_ImplementsInterface はPostgresDocumentRepoが
// DocumentRepositoryを実装することを検証する。
func TestPostgresDocumentRepo_ImplementsInterface(t *testing.T) {
	// コンパイル時チェック
	var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
}

func TestNewPostgresDocumentRepo_Initializes(t *testing.T) {
	repo := NewPostgresDocumentRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestLegacyColumns_ToModel_WithDriveFileID(t *testing.T) {
	lc := &legacyColumns{
		originalName:   sql.NullString{String: "invoice.pdf", Valid: true},
		filename:       sql.NullString{String: "stored-invoice.pdf", Valid: true},
		driveFileID:    sql.NullString{String: "drive-123", Valid: true},
		webViewLink:    sql.NullString{String: "https://drive.example.com/view", Valid: true},
		webContentLink: sql.NullString{String: "https://drive.example.com/dl", Valid: true},
		size:           sql.NullInt64{Int64: 4096, Valid: true},
		mimeType:       sql.NullString{String: "application/pdf", Valid: true},
	}

	got := lc.toModel()
	if got == nil {
		t.Fatal("expected non-nil legacy fields")
	}
	if got.DriveFileID != "drive-123" {
		t.Errorf("DriveFileID = %q, want drive-123", got.DriveFileID)
	}
	if got.OriginalName != "invoice.pdf" || got.Size != 4096 {
		t.Errorf("legacy fields = %+v", got)
	}
}

// migrate-legacy完了後のドキュメントはdrive_file_idがNULLになり、
// LegacyFileは返されない。
func TestLegacyColumns_ToModel_NullDriveFileID(t *testing.T) {
	lc := &legacyColumns{
		originalName: sql.NullString{String: "invoice.pdf", Valid: true},
	}

	if got := lc.toModel(); got != nil {
		t.Errorf("expected nil for NULL drive_file_id, got %+v", got)
	}
}

func TestLegacyColumns_ToModel_EmptyDriveFileID(t *testing.T) {
	lc := &legacyColumns{
		driveFileID: sql.NullString{String: "", Valid: true},
	}

	if got := lc.toModel(); got != nil {
		t.Errorf("expected nil for empty drive_file_id, got %+v", got)
	}
}
