package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// SaveCheckpoint stores the gateway checkpoint for its profile, replacing
// any previous one
func (db *DB) SaveCheckpoint(ctx context.Context, cp *models.GatewayCheckpoint) error {
	query := `
		INSERT INTO gateway_checkpoints (
			profile, session_id, sequence_number, should_resume,
			last_close_code, ping_ms, last_heartbeat_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (profile) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    sequence_number = EXCLUDED.sequence_number,
		    should_resume = EXCLUDED.should_resume,
		    last_close_code = EXCLUDED.last_close_code,
		    ping_ms = EXCLUDED.ping_ms,
		    last_heartbeat_at = EXCLUDED.last_heartbeat_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := db.QueryRowContext(
		ctx,
		query,
		cp.Profile,
		cp.SessionID,
		cp.SequenceNumber,
		cp.ShouldResume,
		cp.LastCloseCode,
		cp.PingMillis,
		cp.LastHeartbeatAt,
		cp.ExpiresAt,
	).Scan(&cp.ID, &cp.CreatedAt, &cp.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save gateway checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint returns the checkpoint saved for profile, or nil when
// there is none
func (db *DB) LoadCheckpoint(ctx context.Context, profile string) (*models.GatewayCheckpoint, error) {
	query := `
		SELECT id, profile, session_id, sequence_number, should_resume,
		       last_close_code, ping_ms, last_heartbeat_at,
		       created_at, updated_at, expires_at
		FROM gateway_checkpoints
		WHERE profile = $1
	`

	var cp models.GatewayCheckpoint
	err := db.QueryRowContext(ctx, query, profile).Scan(
		&cp.ID,
		&cp.Profile,
		&cp.SessionID,
		&cp.SequenceNumber,
		&cp.ShouldResume,
		&cp.LastCloseCode,
		&cp.PingMillis,
		&cp.LastHeartbeatAt,
		&cp.CreatedAt,
		&cp.UpdatedAt,
		&cp.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load gateway checkpoint: %w", err)
	}

	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint for profile
func (db *DB) DeleteCheckpoint(ctx context.Context, profile string) error {
	query := `DELETE FROM gateway_checkpoints WHERE profile = $1`

	if _, err := db.ExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("failed to delete gateway checkpoint: %w", err)
	}

	return nil
}

// DeleteExpiredCheckpoints removes checkpoints past their expiry and
// returns how many were deleted
func (db *DB) DeleteExpiredCheckpoints(ctx context.Context) (int64, error) {
	query := `DELETE FROM gateway_checkpoints WHERE expires_at < NOW()`

	result, err := db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired gateway checkpoints: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		db.logger.Info("deleted expired gateway checkpoints", zap.Int64("count", rows))
	}

	return rows, nil
}

// StartCleanupJob deletes expired checkpoints every interval until ctx is
// done
func (db *DB) StartCleanupJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := db.DeleteExpiredCheckpoints(ctx); err != nil {
					db.logger.Error("failed to cleanup expired checkpoints", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	db.logger.Info("started checkpoint cleanup job", zap.Duration("interval", interval))
}
