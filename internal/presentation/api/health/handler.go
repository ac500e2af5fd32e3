// SPDX-License-Identifier: AGPL-3.0-or-later
package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/btouchard/sendforge/internal/presentation/api/shared"
)

// Handler serves liveness/readiness checks for load balancers and
// orchestrators; it never requires authentication or RLS context.
type Handler struct {
	db *sql.DB
}

func NewHandler(db *sql.DB) *Handler {
	return &Handler{db: db}
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	statusCode := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			dbStatus = "unreachable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	shared.WriteJSON(w, statusCode, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
	})
}
