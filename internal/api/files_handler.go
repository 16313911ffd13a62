package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"filecollection/internal/middleware"
	"filecollection/internal/repository"
	"filecollection/internal/resumable"
	"filecollection/internal/service"

	"github.com/go-chi/chi/v5"
)

// FileHandler 提供文件集合的 HTTP 端点。
type FileHandler struct {
	service *service.FileService
	logger  *slog.Logger
}

func NewFileHandler(s *service.FileService, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{service: s, logger: logger}
}

// RegisterRoutes 注册集合端点，r 应已挂载在 /gridfs/{collection} 之下。
func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.InsertFile)
	r.Get("/_resumable", h.TestChunk)
	r.Post("/_resumable", h.UploadChunk)
	r.Get("/{md5}", h.DownloadFile)
	r.Put("/{id}", h.WriteFile)
	r.Delete("/{id}", h.RemoveFile)
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

const multipartMemoryBudget int64 = 16 * 1024 * 1024

type insertFileRequest struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Metadata    struct {
		Owner string `json:"owner"`
	} `json:"metadata"`
}

// InsertFile 创建文件记录，拥有者始终为当前调用者。
func (h *FileHandler) InsertFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	defer r.Body.Close()

	var req insertFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	record, err := h.service.Insert(r.Context(), middleware.GetOwnerID(r.Context()), service.InsertFileInput{
		ID:          req.ID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Owner:       req.Metadata.Owner,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: record})
}

// DownloadFile 按 md5 返回调用者可读的文件内容。
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	record, content, err := h.service.Open(r.Context(), middleware.GetOwnerID(r.Context()), chi.URLParam(r, "md5"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer content.Close()

	disposition := "inline"
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, record.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(record.Length, 10))
	w.Header().Set("ETag", strconv.Quote(record.MD5))

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		h.logger.DebugContext(r.Context(), "download interrupted", "id", record.ID, "error", err)
	}
}

// WriteFile 用请求体整体替换文件内容。
func (h *FileHandler) WriteFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.service.MaxUploadBytes()+1)
	defer r.Body.Close()

	record, err := h.service.WriteContent(r.Context(), middleware.GetOwnerID(r.Context()), chi.URLParam(r, "id"), r.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: record})
}

// TestChunk 响应 resumable.js 的 testChunks 探测：已存在返回 200，否则 204。
func (h *FileHandler) TestChunk(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	input, err := parseChunkInput(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := h.service.HasChunk(r.Context(), middleware.GetOwnerID(r.Context()), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type chunkResponse struct {
	ID       string                 `json:"id"`
	Received int                    `json:"received"`
	Total    int                    `json:"total"`
	Complete bool                   `json:"complete"`
	File     *repository.FileRecord `json:"file,omitempty"`
}

// UploadChunk 接收 multipart/form-data 分片，字段名与 resumable.js 一致，内容位于 file 字段。
func (h *FileHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.service.MaxUploadBytes()+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	input, err := parseChunkInput(url.Values(r.MultipartForm.Value))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile(resumable.FileField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	result, err := h.service.WriteChunk(r.Context(), middleware.GetOwnerID(r.Context()), input, file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := chunkResponse{ID: input.FileID, Received: result.Received, Total: result.Total, Complete: result.Complete}
	if result.Complete {
		resp.File = result.Record
	}
	writeJSON(w, http.StatusOK, envelope{Data: resp})
}

// RemoveFile 删除文件记录与内容。
func (h *FileHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.Remove(r.Context(), middleware.GetOwnerID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"id": id, "removed": true}})
}

// writeServiceError 把业务错误映射为状态码；拒绝与不存在共用 403。
func (h *FileHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrTooLarge), errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds size limit (%d bytes)", h.service.MaxUploadBytes()))
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
