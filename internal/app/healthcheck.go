package app

import (
	"context"
	"net/http"
	"time"

	"github.com/metinatakli/cinema-booking/api"
)

func (app *Application) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "UP"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if app.db != nil && app.db.Ping(ctx) != nil {
		status = "DEGRADED"
	}

	if app.redis != nil && app.redis.Ping(ctx).Err() != nil {
		status = "DEGRADED"
	}

	resp := api.HealthcheckResponse{
		Status: status,
		SystemInfo: api.SystemInfo{
			Version:     version,
			Environment: app.config.Env,
		},
	}

	code := http.StatusOK
	if status != "UP" {
		code = http.StatusServiceUnavailable
	}

	app.writeJSON(w, code, resp, nil)
}
