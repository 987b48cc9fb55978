package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// NewObjectKey возвращает уникальный ключ объекта для архива версии мода.
func NewObjectKey(modID string) string {
	return fmt.Sprintf("mods/%s/%s.zst", modID, uuid.NewString())
}
