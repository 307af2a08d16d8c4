package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

var processStart = time.Now()

// HealthStatus is the /_health response body.
type HealthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DBStatus      string `json:"db_status"`
}

// HealthIndexAction reports process liveness and database reachability.
// A failing database degrades the status instead of failing the check so
// load balancers keep routing while the store recovers.
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := databaseStatus(ctx)

	health := HealthStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(processStart).Seconds()),
		DBStatus:      dbStatus,
	}
	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}

func databaseStatus(ctx *cartridge.Context) string {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		ctx.Logger.Error("Database connection unavailable")
		return "error"
	}

	sqlDB, err := db.DB()
	if err != nil {
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
		return "error"
	}
	if err := sqlDB.Ping(); err != nil {
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		return "error"
	}

	return "ok"
}
