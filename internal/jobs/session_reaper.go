package jobs

import (
	"log/slog"
	"time"

	"github.com/Datafloww/server/internal/config"
	"github.com/Datafloww/server/internal/database"
	"github.com/Datafloww/server/internal/sessions"
)

// SessionReaperJob marks sessions inactive once they have been idle past
// the configured timeout. Ingestion never flips the flag back off, so this
// job is the only writer of active=false.
type SessionReaperJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewSessionReaperJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *SessionReaperJob {
	return &SessionReaperJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deactivates sessions whose last_seen is older than the session timeout.
func (j *SessionReaperJob) Run() error {
	timeout := time.Duration(j.cfg.GetSessionTimeout()) * time.Second
	db := j.dbManager.GetConnection()

	deactivated, err := sessions.DeactivateIdleSessions(db, j.logger, timeout)
	if err != nil {
		j.logger.Error("Failed to deactivate idle sessions", slog.Any("error", err))
		return err
	}

	if deactivated > 0 {
		j.logger.Info("Deactivated idle sessions",
			slog.Int64("count", deactivated),
			slog.Duration("timeout", timeout))
	}

	return nil
}
