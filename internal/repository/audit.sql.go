package repository

import "context"

type InsertAuditLogParams struct {
	EntityType string
	EntityID   string
	ActorID    *string
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	).Scan(&id)
	return id, err
}
