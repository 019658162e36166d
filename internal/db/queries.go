package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/routeworks/fleetpilot/internal/models"
)

// messageRecord is the message table's row shape.
type messageRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	VehicleID string                 `json:"vehicle_id"`
	UserID    string                 `json:"user_id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r messageRecord) toModel() models.Message {
	return models.Message{
		ID:        r.ID.String(),
		Role:      models.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}

// QueryRecentMessages returns up to limit most recent messages for the
// conversation, ordered by timestamp ascending.
func (c *Client) QueryRecentMessages(ctx context.Context, key models.ConversationKey, limit int) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		SELECT * FROM (
			SELECT * FROM message
			WHERE vehicle_id = $vehicle AND user_id = $user
			ORDER BY created_at DESC
			LIMIT $limit
		) ORDER BY created_at ASC
	`, map[string]any{
		"vehicle": key.VehicleID,
		"user":    key.UserID,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Message{}, nil
	}
	rows := (*results)[0].Result
	msgs := make([]models.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.toModel()
	}
	return msgs, nil
}

// QueryInsertMessage appends one confirmed message to the log and returns
// the stored row with its server-assigned identifier.
func (c *Client) QueryInsertMessage(ctx context.Context, key models.ConversationKey, role models.Role, content string, at time.Time) (models.Message, error) {
	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		CREATE message SET
			vehicle_id = $vehicle,
			user_id = $user,
			role = $role,
			content = $content,
			created_at = type::datetime($at)
		RETURN AFTER
	`, map[string]any{
		"vehicle": key.VehicleID,
		"user":    key.UserID,
		"role":    string(role),
		"content": content,
		"at":      at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Message{}, fmt.Errorf("insert message: no result returned")
	}
	return (*results)[0].Result[0].toModel(), nil
}

// QueryCountMessages returns the number of stored messages, total when key
// is nil or scoped to one conversation otherwise.
func (c *Client) QueryCountMessages(ctx context.Context, key *models.ConversationKey) (int, error) {
	sql := `SELECT count() AS total FROM message GROUP ALL`
	vars := map[string]any{}
	if key != nil {
		sql = `SELECT count() AS total FROM message
			WHERE vehicle_id = $vehicle AND user_id = $user GROUP ALL`
		vars["vehicle"] = key.VehicleID
		vars["user"] = key.UserID
	}

	type countRow struct {
		Total int `json:"total"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Total, nil
}
