package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pasties/svc/util"
)

const (
	defaultCheckpointInterval = 5 * time.Minute
	truncateLogPages          = 1000
)

// StartWALMaintenance checkpoints the WAL every interval until quit is closed,
// then runs one final checkpoint. It blocks; run it in its own goroutine.
func StartWALMaintenance(db *sql.DB, interval time.Duration, quit <-chan struct{}) {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := checkpointWAL(db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := checkpointWAL(db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

func checkpointWAL(db *sql.DB) error {
	start := time.Now()
	var busy, logPages, checkpointed int
	if err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &logPages, &checkpointed); err != nil {
		return fmt.Errorf("passive checkpoint: %w", err)
	}
	util.Debug().
		Int("busy", busy).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("passive checkpoint")
	if logPages > truncateLogPages || busy > 0 {
		util.Info().Int("log", logPages).Msg("escalating to TRUNCATE checkpoint")
		if err := db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logPages, &checkpointed); err != nil {
			return fmt.Errorf("truncate checkpoint: %w", err)
		}
	}
	if err := verifyIntegrity(db); err != nil {
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}

func verifyIntegrity(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check returned: %s", result)
	}
	return nil
}
