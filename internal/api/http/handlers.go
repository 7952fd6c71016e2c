package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
	"github.com/pawnfiddle/backend/internal/shared/id"
	"github.com/pawnfiddle/backend/internal/storage"
)

// Handlers serves the REST surface next to the websocket gateway: service
// and health probes plus the fiddle download archive.
type Handlers struct {
	store     storage.Store
	log       *zap.Logger
	startTime time.Time
}

// NewHandlers creates the REST handlers.
func NewHandlers(store storage.Store, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		store:     store,
		log:       log,
		startTime: time.Now(),
	}
}

// Root handles GET /
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "pawnfiddle-backend",
		"status":  "running",
	})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Download handles GET /download/:id, serving the fiddle as a zip archive
// of its two artifacts: script.json (metadata) and script.js (source).
// Unknown and malformed ids both yield 404 so the endpoint cannot be used
// to probe id structure.
func (h *Handlers) Download(c *gin.Context) {
	fid := c.Param("id")
	if !id.IsValid(fid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	doc, err := h.store.Get(c.Request.Context(), fid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		h.log.Error("download fetch failed", zap.String("fiddle", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	archive, err := buildArchive(doc.Meta(), doc.Script)
	if err != nil {
		h.log.Error("archive build failed", zap.String("fiddle", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.ID+".zip"))
	c.Data(http.StatusOK, "application/zip", archive)
}

func buildArchive(meta fiddle.Meta, script string) ([]byte, error) {
	metaJSON, err := sonic.Marshal(meta)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(fiddle.MetaArtifact)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(metaJSON); err != nil {
		return nil, err
	}

	w, err = zw.Create(fiddle.SourceArtifact)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(script)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
