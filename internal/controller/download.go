package controller

import (
	"fmt"
	"os"

	"runbox/internal/token"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"
	"runbox/pkg/utils/response"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DownloadController resolves tokens to files and streams them.
type DownloadController struct {
	registry token.Registry
}

func NewDownloadController(registry token.Registry) *DownloadController {
	return &DownloadController{registry: registry}
}

func (h *DownloadController) Download(c *gin.Context) {
	tok := c.Param("token")
	entry, err := h.registry.Resolve(c.Request.Context(), tok)
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := os.Open(entry.FilePath)
	if err != nil {
		// The owning workspace was force-deleted on an error path; the
		// token must report not-found rather than a dangling read.
		logger.Warn(c.Request.Context(), "token resolved to missing file",
			zap.String("file", entry.FilePath), zap.Error(err))
		response.Error(c, appErr.New(appErr.TokenNotFound))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErr.Wrap(err, appErr.ResourceError))
		return
	}

	contentType := "application/octet-stream"
	if detected, derr := mimetype.DetectReader(file); derr == nil {
		contentType = detected.String()
	}
	if _, err := file.Seek(0, 0); err != nil {
		response.Error(c, appErr.Wrap(err, appErr.ResourceError))
		return
	}

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", entry.Filename),
	}
	c.DataFromReader(200, info.Size(), contentType, file, headers)
}
