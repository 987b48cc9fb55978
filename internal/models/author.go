package models

import (
	"slices"
	"time"

	"github.com/lib/pq"
)

// Роли авторов.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Author - автор модов, идентифицируемый внешним ID.
type Author struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Permissions pq.StringArray `db:"permissions" json:"permissions"`
	Banned      bool           `db:"banned" json:"banned"`
	JoinedAt    time.Time      `db:"joined_at" json:"joinedAt"`
}

// HasRole проверяет наличие роли у автора.
func (a *Author) HasRole(role string) bool {
	return slices.Contains(a.Permissions, role)
}

// IsAdmin проверяет, является ли автор администратором.
func (a *Author) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// Identity - заявленная личность загружающего и токен для ее проверки.
type Identity struct {
	ID          string
	Name        string
	BearerToken string
}

// SystemActor - автор действий, выполняемых фоновыми задачами.
var SystemActor = Identity{ID: "system", Name: "System"}
