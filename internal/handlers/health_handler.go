package handlers

import (
	"context"
	"net/http"
	"time"

	"peerprep/proctoring/internal/utils"
)

const readinessTimeout = 2 * time.Second

type ReadinessCheck struct {
	Status  string `json:"status"` // "ok" | "failed"
	Message string `json:"message,omitempty"`
}

type ReadinessResponse struct {
	Status  string                    `json:"status"`  // "ready" | "not_ready"
	Service string                    `json:"service"` // Service name
	Checks  map[string]ReadinessCheck `json:"checks"`  // Individual check results
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
	deps  map[string]Pinger
}

// NewHealthHandler checks store on readiness plus any optional deps, such as
// the redis publisher.
func NewHealthHandler(store Pinger, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{store: store, deps: deps}
}

func (handler *HealthHandler) HealthzHandler(writer http.ResponseWriter, request *http.Request) {
	utils.JSON(writer, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "proctoring",
	})
}

func (handler *HealthHandler) ReadyzHandler(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]ReadinessCheck)
	allChecksPass := true

	check := func(name string, p Pinger) {
		if p == nil {
			checks[name] = ReadinessCheck{Status: "failed", Message: name + " not initialized"}
			allChecksPass = false
			return
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = ReadinessCheck{Status: "failed", Message: err.Error()}
			allChecksPass = false
			return
		}
		checks[name] = ReadinessCheck{Status: "ok"}
	}

	check("store", handler.store)
	for name, p := range handler.deps {
		check(name, p)
	}

	response := ReadinessResponse{
		Service: "proctoring",
		Checks:  checks,
	}
	if !allChecksPass {
		response.Status = "not_ready"
		utils.JSON(writer, http.StatusServiceUnavailable, response)
		return
	}
	response.Status = "ready"
	utils.JSON(writer, http.StatusOK, response)
}
