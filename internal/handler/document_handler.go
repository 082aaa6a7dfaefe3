package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/docman/internal/document"
	"github.com/hitoshi/docman/internal/middleware"
	"github.com/hitoshi/docman/internal/model"
)

// DocumentServiceInterface はドキュメントハンドラーが必要とするサービスインターフェース。
type DocumentServiceInterface interface {
	Upload(ctx context.Context, principal *model.Principal, files []document.UploadFile, rawMetadata string) (*model.Document, error)
	List(ctx context.Context, principal *model.Principal, page, limit int, search string) (*document.ListResult, error)
	Get(ctx context.Context, principal *model.Principal, id string) (*model.Document, error)
	UpdateMetadata(ctx context.Context, principal *model.Principal, id string, meta model.DocumentMetadata) (*model.Document, error)
	Delete(ctx context.Context, principal *model.Principal, id string) error
	RemoveAttachment(ctx context.Context, principal *model.Principal, docID, fileID string) (*model.Document, error)
	Download(ctx context.Context, principal *model.Principal, docID, fileID string) (io.ReadCloser, *model.FileAttachment, error)
}

// DocumentHandlerConfig はドキュメントハンドラーの設定。
type DocumentHandlerConfig struct {
	UploadMaxSize  int64 // 1ファイルあたりの最大バイト数
	UploadMaxFiles int   // 1リクエストあたりの最大ファイル数
}

// DocumentHandler はドキュメント関連のHTTPハンドラー。
type DocumentHandler struct {
	service DocumentServiceInterface
	config  DocumentHandlerConfig
}

// NewDocumentHandler はDocumentHandlerを生成する。
func NewDocumentHandler(service DocumentServiceInterface, config DocumentHandlerConfig) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		config:  config,
	}
}

// fileResponse は添付ファイルのJSONレスポンス。
type fileResponse struct {
	ID             string `json:"id"`
	OriginalName   string `json:"originalName"`
	Filename       string `json:"filename"`
	Size           int64  `json:"size"`
	MimeType       string `json:"mimeType"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
	Position       int    `json:"position"`
}

// documentResponse はドキュメントのJSONレスポンス。
type documentResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Note      string         `json:"note"`
	Files     []fileResponse `json:"files"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// paginationResponse は一覧レスポンスのページネーション情報。
type paginationResponse struct {
	CurrentPage    int  `json:"currentPage"`
	TotalPages     int  `json:"totalPages"`
	TotalDocuments int  `json:"totalDocuments"`
	HasNextPage    bool `json:"hasNextPage"`
	HasPrevPage    bool `json:"hasPrevPage"`
	Limit          int  `json:"limit"`
}

// listResponse はドキュメント一覧のJSONレスポンス。
type listResponse struct {
	Documents  []documentResponse `json:"documents"`
	Pagination paginationResponse `json:"pagination"`
}

// toDocumentResponse はドメインモデルをレスポンス形式に変換する。
// migrate-legacy未実施のドキュメントでは、レガシーの平坦なファイル参照も
// filesの1要素として返し、クライアントには世代差を見せない。
func toDocumentResponse(doc *model.Document) documentResponse {
	files := make([]fileResponse, 0, len(doc.Files))
	for _, f := range doc.Files {
		files = append(files, fileResponse{
			ID:             f.ID,
			OriginalName:   f.OriginalName,
			Filename:       f.Filename,
			Size:           f.Size,
			MimeType:       f.ContentType,
			WebViewLink:    f.ViewLink,
			WebContentLink: f.ContentLink,
			Position:       f.Position,
		})
	}
	if len(files) == 0 && doc.LegacyFile != nil && doc.LegacyFile.DriveFileID != "" {
		lf := doc.LegacyFile
		files = append(files, fileResponse{
			ID:             lf.DriveFileID,
			OriginalName:   lf.OriginalName,
			Filename:       lf.Filename,
			Size:           lf.Size,
			MimeType:       lf.MimeType,
			WebViewLink:    lf.WebViewLink,
			WebContentLink: lf.WebContentLink,
		})
	}

	return documentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		Note:      doc.Note,
		Files:     files,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// Upload はmultipart/form-dataで受け取ったファイル群からドキュメントを作成する。
// filesフィールドにファイル群、metadataフィールドにメタデータJSONを載せる。
// POST /api/documents
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// リクエスト全体の上限。超過時はParseMultipartFormが失敗する。
	maxBody := h.config.UploadMaxSize*int64(h.config.UploadMaxFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("multipart form data is malformed or too large"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) > h.config.UploadMaxFiles {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(fmt.Sprintf("too many files: max %d", h.config.UploadMaxFiles)))
		return
	}

	var files []document.UploadFile
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, fh := range headers {
		if fh.Size > h.config.UploadMaxSize {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError(fmt.Sprintf("file %s exceeds size limit", fh.Filename)))
			return
		}

		f, err := fh.Open()
		if err != nil {
			slog.Error("failed to open uploaded file",
				slog.String("filename", fh.Filename),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError(fmt.Sprintf("failed to read file %s", fh.Filename)))
			return
		}
		opened = append(opened, f)

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		files = append(files, document.UploadFile{
			OriginalName: fh.Filename,
			ContentType:  contentType,
			Size:         fh.Size,
			Content:      f,
		})
	}

	doc, err := h.service.Upload(r.Context(), principal, files, r.FormValue("metadata"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// List はドキュメント一覧を返す。
// GET /api/documents?page=1&limit=10&search=keyword
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	search := q.Get("search")

	result, err := h.service.List(r.Context(), principal, page, limit, search)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	docs := make([]documentResponse, 0, len(result.Documents))
	for _, doc := range result.Documents {
		docs = append(docs, toDocumentResponse(doc))
	}

	totalPages := (result.Total + result.Limit - 1) / result.Limit

	writeJSON(w, http.StatusOK, listResponse{
		Documents: docs,
		Pagination: paginationResponse{
			CurrentPage:    result.Page,
			TotalPages:     totalPages,
			TotalDocuments: result.Total,
			HasNextPage:    result.Page < totalPages,
			HasPrevPage:    result.Page > 1,
			Limit:          result.Limit,
		},
	})
}

// Get は指定IDのドキュメントを返す。
// GET /api/documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	doc, err := h.service.Get(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// Update はドキュメントのタイトルとノートを更新する。
// PUT /api/documents/{id}
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var meta model.DocumentMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	doc, err := h.service.UpdateMetadata(r.Context(), principal, chi.URLParam(r, "id"), meta)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// Delete はドキュメントを削除する。
// DELETE /api/documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveFile はドキュメントから添付ファイルを1件取り除き、更新後のドキュメントを返す。
// DELETE /api/documents/{id}/files/{fileId}
func (h *DocumentHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	doc, err := h.service.RemoveAttachment(r.Context(), principal,
		chi.URLParam(r, "id"), chi.URLParam(r, "fileId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// Download は添付ファイルの内容をストリーミングで返す。
// GET /api/documents/{id}/files/{fileId}/download
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	body, file, err := h.service.Download(r.Context(), principal,
		chi.URLParam(r, "id"), chi.URLParam(r, "fileId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer body.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}

	if _, err := io.Copy(w, body); err != nil {
		// ヘッダー送信後はエラーレスポンスを返せないため、ログのみ残す
		slog.Error("failed to stream file download",
			slog.String("file_id", file.ID),
			slog.String("error", err.Error()),
		)
	}
}
