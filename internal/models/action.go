package models

import "time"

// ActionEntry - запись журнала действий. Logged выставляется нотификатором
// после доставки.
type ActionEntry struct {
	ID        int64     `db:"id" json:"id"`
	ActorID   string    `db:"actor_id" json:"actorID"`
	ActorName string    `db:"actor_name" json:"actorName"`
	Action    string    `db:"action" json:"action"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Logged    bool      `db:"logged" json:"logged"`
}
