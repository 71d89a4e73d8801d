package controller

import (
	"errors"
	"net/http"
	"time"

	"runbox/internal/lifecycle"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// MaxUploadBytes caps POST /host payloads at 20 MiB.
const MaxUploadBytes = 20 << 20

// HostResponse is the 200 body of POST /host.
type HostResponse struct {
	DownloadURL string `json:"downloadUrl"`
	Expires     string `json:"expires"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
}

// HostController stores uploaded files behind download tokens.
type HostController struct {
	coordinator *lifecycle.Coordinator
}

func NewHostController(coordinator *lifecycle.Coordinator) *HostController {
	return &HostController{coordinator: coordinator}
}

func (h *HostController) Host(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErr.New(appErr.PayloadTooLarge))
			return
		}
		response.Error(c, appErr.New(appErr.UploadMissing))
		return
	}
	if header.Size > MaxUploadBytes {
		response.Error(c, appErr.New(appErr.PayloadTooLarge))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErr.Wrap(err, appErr.UploadFailed))
		return
	}
	defer file.Close()

	artifact, err := h.coordinator.Host(c.Request.Context(), header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, HostResponse{
		DownloadURL: downloadURL(c, artifact.Token),
		Expires:     artifact.ExpiresAt.UTC().Format(time.RFC3339),
		Filename:    artifact.Filename,
		Size:        artifact.Size,
	})
}
