package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
)

// DeleteVersion удаляет одну версию. Удаление последней версии удаляет и
// проекцию, удаление текущей переводит проекцию на предыдущую версию.
func (s *modService) DeleteVersion(ctx context.Context, actor models.Identity, modID, version string) error {
	unlock, err := s.locker.Lock(ctx, modID)
	if err != nil {
		return unavailable("блокировка мода", err)
	}
	defer unlock()

	txCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	var deleted *models.ModVersionEntry
	err = s.store.WithinTx(txCtx, func(tx repository.Store) error {
		mod, err := tx.Mods().GetMod(txCtx, modID)
		if err != nil {
			return err
		}
		if deleted, err = tx.Versions().DeleteVersion(txCtx, modID, version); err != nil {
			return err
		}

		latest, err := tx.Versions().GetLatestVersion(txCtx, modID)
		switch {
		case errors.Is(err, repository.ErrVersionNotFound):
			if err = tx.Mods().DeleteMod(txCtx, modID); err != nil {
				return err
			}
		case err != nil:
			return err
		case latest.Version != mod.Version():
			if err = tx.Mods().UpdateCurrent(txCtx, modID, latest.Manifest, latest.UploadTime, mod.Seq); err != nil {
				return err
			}
		}

		return appendAction(txCtx, tx, actor, s.clock.now(),
			fmt.Sprintf("удалил версию %s мода %s (%s)", version, mod.Manifest.Name, modID))
	})
	if err != nil {
		return s.mapLineageError(err, "удаление версии")
	}

	s.removeObjects([]models.ModVersionEntry{*deleted})
	s.log.Info("Версия удалена",
		zap.String("modID", modID), zap.String("version", version), zap.String("actor", actor.ID))
	return nil
}

// DeleteMod удаляет всю линейку мода.
func (s *modService) DeleteMod(ctx context.Context, actor models.Identity, modID string) error {
	return s.deleteLineage(ctx, actor, modID, "удалил мод")
}

func (s *modService) deleteLineage(ctx context.Context, actor models.Identity, modID, verb string) error {
	unlock, err := s.locker.Lock(ctx, modID)
	if err != nil {
		return unavailable("блокировка мода", err)
	}
	defer unlock()

	txCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	var versions []models.ModVersionEntry
	err = s.store.WithinTx(txCtx, func(tx repository.Store) error {
		mod, err := tx.Mods().GetMod(txCtx, modID)
		if err != nil {
			return err
		}
		if versions, err = tx.Versions().DeleteAllVersions(txCtx, modID); err != nil {
			return err
		}
		if err = tx.Mods().DeleteMod(txCtx, modID); err != nil {
			return err
		}
		return appendAction(txCtx, tx, actor, s.clock.now(),
			fmt.Sprintf("%s %s (%s)", verb, mod.Manifest.Name, modID))
	})
	if err != nil {
		return s.mapLineageError(err, "удаление мода")
	}

	s.removeObjects(versions)
	s.log.Info("Линейка мода удалена",
		zap.String("modID", modID), zap.Int("versions", len(versions)), zap.String("actor", actor.ID))
	return nil
}

func (s *modService) mapLineageError(err error, op string) error {
	switch {
	case errors.Is(err, repository.ErrModNotFound):
		return ErrModNotFound
	case errors.Is(err, repository.ErrVersionNotFound):
		return ErrVersionNotFound
	default:
		s.log.Error("Ошибка изменения линейки", zap.String("op", op), zap.Error(err))
		return unavailable(op, err)
	}
}

// removeObjects удаляет архивы после фиксации транзакции. Ошибки только
// логируются: запись о версии уже удалена.
func (s *modService) removeObjects(versions []models.ModVersionEntry) {
	if len(versions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeouts.Storage)
	defer cancel()
	for _, v := range versions {
		if err := s.files.DeleteFile(ctx, v.ObjectKey); err != nil {
			s.log.Warn("Не удалось удалить архив", zap.String("key", v.ObjectKey), zap.Error(err))
		}
	}
}
