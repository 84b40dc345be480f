package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new action log entry
func (r *LogRepository) Create(ctx context.Context, logEntry *models.ActionLog) error {
	if logEntry.ID == "" {
		logEntry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO vps.action_logs (id, vps_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		logEntry.ID, logEntry.VPSID, logEntry.Action, logEntry.Status, logEntry.Message, logEntry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}

	return nil
}

// GetByVPSID retrieves logs for a VPS
func (r *LogRepository) GetByVPSID(ctx context.Context, vpsID string, limit int) ([]*models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, vps_id, action, status, message, metadata, created_at
		FROM vps.action_logs
		WHERE vps_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, vpsID, limit)
	if err != nil {
		return nil, fmt.Errorf("query action logs: %w", err)
	}
	defer rows.Close()

	var logEntries []*models.ActionLog
	for rows.Next() {
		logEntry := &models.ActionLog{}
		err := rows.Scan(
			&logEntry.ID, &logEntry.VPSID, &logEntry.Action, &logEntry.Status,
			&logEntry.Message, &logEntry.Metadata, &logEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		logEntries = append(logEntries, logEntry)
	}

	return logEntries, rows.Err()
}

// LogAction is a helper to log an action
func (r *LogRepository) LogAction(ctx context.Context, vpsID, action, status, message string) error {
	return r.Create(ctx, &models.ActionLog{
		VPSID:   vpsID,
		Action:  action,
		Status:  status,
		Message: message,
	})
}
