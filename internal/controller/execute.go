// Package controller holds the gin HTTP handlers.
package controller

import (
	"time"

	"runbox/internal/lifecycle"
	"runbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultExecTimeout = 30 * time.Second

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Code         string  `json:"code" binding:"required"`
	Timeout      float64 `json:"timeout"`
	AllowNetwork bool    `json:"allow_network"`
}

// GeneratedFile describes one downloadable artifact in the response.
type GeneratedFile struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	Expires     string `json:"expires"`
	MIMEType    string `json:"mimeType"`
	Size        int64  `json:"size"`
}

// ExecuteResponse is the 200 body of POST /execute.
type ExecuteResponse struct {
	Output         string          `json:"output"`
	Success        bool            `json:"success"`
	GeneratedFiles []GeneratedFile `json:"generatedFiles"`
	ExecutionTime  string          `json:"executionTime"`
}

// ExecuteController runs submitted code through the lifecycle coordinator.
type ExecuteController struct {
	coordinator *lifecycle.Coordinator
}

func NewExecuteController(coordinator *lifecycle.Coordinator) *ExecuteController {
	return &ExecuteController{coordinator: coordinator}
}

func (h *ExecuteController) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "code is required")
		return
	}

	timeout := defaultExecTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	res, err := h.coordinator.Execute(c.Request.Context(), lifecycle.ExecRequest{
		Code:         req.Code,
		Timeout:      timeout,
		AllowNetwork: req.AllowNetwork,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	files := make([]GeneratedFile, 0, len(res.Artifacts))
	for _, artifact := range res.Artifacts {
		files = append(files, GeneratedFile{
			Filename:    artifact.Filename,
			DownloadURL: downloadURL(c, artifact.Token),
			Expires:     artifact.ExpiresAt.UTC().Format(time.RFC3339),
			MIMEType:    artifact.MIMEType,
			Size:        artifact.Size,
		})
	}

	response.OK(c, ExecuteResponse{
		Output:         res.Output,
		Success:        true,
		GeneratedFiles: files,
		ExecutionTime:  time.Now().UTC().Format(time.RFC3339),
	})
}

func downloadURL(c *gin.Context, tok string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/download/" + tok
}
