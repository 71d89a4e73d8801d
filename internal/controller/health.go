package controller

import (
	"time"

	"runbox/internal/token"
	"runbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// InterpreterStatus reports whether the configured interpreter was found at
// startup and which version it announced.
type InterpreterStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Interpreter   InterpreterStatus `json:"interpreter"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	LiveTokens    int               `json:"liveTokens"`
	Environment   string            `json:"environment"`
}

// HealthController reports process and interpreter health.
type HealthController struct {
	registry    token.Registry
	interpreter InterpreterStatus
	environment string
	startedAt   time.Time
}

func NewHealthController(registry token.Registry, interpreter InterpreterStatus, environment string) *HealthController {
	return &HealthController{
		registry:    registry,
		interpreter: interpreter,
		environment: environment,
		startedAt:   time.Now(),
	}
}

func (h *HealthController) Health(c *gin.Context) {
	live, err := h.registry.Live(c.Request.Context())
	if err != nil {
		live = -1
	}
	status := "ok"
	if !h.interpreter.Available {
		status = "degraded"
	}
	response.OK(c, HealthResponse{
		Status:        status,
		Interpreter:   h.interpreter,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		LiveTokens:    live,
		Environment:   h.environment,
	})
}
