package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
)

// appendAction пишет запись журнала от имени actor.
func appendAction(ctx context.Context, store repository.Store, actor models.Identity, at time.Time, text string) error {
	_, err := store.Actions().AppendAction(ctx, &models.ActionEntry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    actor.Name + " " + text,
		CreatedAt: at,
	})
	return err
}

// checksum возвращает SHA-256 исходного архива в hex.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
