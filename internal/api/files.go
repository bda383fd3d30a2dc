package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/strobelt/aegis/internal/middleware"
)

// ObjectStore is the upload collaborator (S3-shaped).
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// Invalidator is the CDN collaborator (CloudFront-shaped). Nil disables
// invalidation.
type Invalidator interface {
	Invalidate(ctx context.Context, paths ...string) error
}

// allowedUploadTypes is the content-type allow-list for uploads.
var allowedUploadTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// FileHandler implements multipart upload to the object store and
// admin-gated removal with CDN invalidation.
type FileHandler struct {
	store    ObjectStore
	cdn      Invalidator
	users    UserStore
	maxBytes int64
	log      *slog.Logger
}

// NewFileHandler wires the file handler.
func NewFileHandler(store ObjectStore, cdn Invalidator, users UserStore, maxBytes int64, log *slog.Logger) *FileHandler {
	return &FileHandler{store: store, cdn: cdn, users: users, maxBytes: maxBytes, log: log}
}

// Upload handles POST /api/v1/files.
func (h *FileHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file field is required")
		return
	}
	if header.Size > h.maxBytes {
		fail(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	ext, ok := allowedUploadTypes[contentType]
	if !ok {
		fail(c, http.StatusUnsupportedMediaType, "unsupported file type")
		return
	}
	// Keep the original extension when it agrees with the declared type.
	if orig := strings.ToLower(path.Ext(header.Filename)); orig == ext || (ext == ".jpg" && orig == ".jpeg") {
		ext = orig
	}

	// avatar=true links the stored object to the caller's profile.
	// Validated up front so a rejected request stores nothing.
	wantAvatar := c.PostForm("avatar") == "true"
	identity, authed := middleware.IdentityFrom(c)
	if wantAvatar {
		if !authed {
			fail(c, http.StatusUnauthorized, "missing token")
			return
		}
		if !strings.HasPrefix(contentType, "image/") {
			fail(c, http.StatusUnsupportedMediaType, "avatar must be an image")
			return
		}
	}

	f, err := header.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable upload")
		return
	}
	defer f.Close()

	key := "uploads/" + uuid.NewString() + ext
	url, err := h.store.Upload(c.Request.Context(), key, contentType, f)
	if err != nil {
		h.log.Error("upload failed", "key", key, "err", err)
		fail(c, http.StatusBadGateway, "upload failed")
		return
	}

	if wantAvatar {
		if err := h.users.UpdateAvatar(c.Request.Context(), identity.UserID, url); err != nil {
			h.log.Error("avatar update failed", "user", identity.UserID, "err", err)
			fail(c, http.StatusInternalServerError, "internal error")
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"key": key, "url": url})
}

type deleteFileRequest struct {
	Key string `json:"key" binding:"required"`
}

// Delete handles DELETE /api/v1/files (admin only, see router). Removes
// the object and invalidates its CDN path.
func (h *FileHandler) Delete(c *gin.Context) {
	var req deleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "key is required")
		return
	}
	if !strings.HasPrefix(req.Key, "uploads/") || strings.Contains(req.Key, "..") {
		fail(c, http.StatusBadRequest, "invalid key")
		return
	}

	ctx := c.Request.Context()
	if err := h.store.Delete(ctx, req.Key); err != nil {
		h.log.Error("object delete failed", "key", req.Key, "err", err)
		fail(c, http.StatusBadGateway, "delete failed")
		return
	}
	if h.cdn != nil {
		if err := h.cdn.Invalidate(ctx, "/"+req.Key); err != nil {
			// Object is gone; a stale CDN copy expires on its own.
			h.log.Warn("cdn invalidation failed", "key", req.Key, "err", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}
