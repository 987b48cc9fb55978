package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
)

var rolePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// AdminService - действия модерации. Наличие роли admin у вызывающего
// проверяет слой сессий до вызова сервиса.
type AdminService interface {
	Verify(ctx context.Context, admin models.Identity, modID string) error
	Deny(ctx context.Context, admin models.Identity, modID string) error
	DeleteVersion(ctx context.Context, admin models.Identity, modID, version string) error
	Ban(ctx context.Context, admin models.Identity, authorID string) error
	Unban(ctx context.Context, admin models.Identity, authorID string) error
	GrantRole(ctx context.Context, admin models.Identity, authorID, role string) error
	RevokeRole(ctx context.Context, admin models.Identity, authorID, role string) error
}

var _ AdminService = (*adminService)(nil)

type adminService struct {
	mods    *modService
	store   repository.Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewAdminService создает сервис модерации. Locker в deps должен быть
// общим с сервисом модов, иначе удаление и загрузка не сериализуются.
func NewAdminService(deps ModServiceDeps) AdminService {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	mods := newModService(deps)
	return &adminService{
		mods:    mods,
		store:   mods.store,
		metrics: mods.metrics,
		log:     deps.Log.Named("AdminService"),
	}
}

// Verify вручную помечает мод проверенным. Повторная проверка ничего не меняет.
func (s *adminService) Verify(ctx context.Context, admin models.Identity, modID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.mods.timeouts.Store)
	defer cancel()

	changed := false
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		mod, err := tx.Mods().GetMod(ctx, modID)
		if err != nil {
			return err
		}
		if changed, err = tx.Mods().SetVerified(ctx, modID); err != nil || !changed {
			return err
		}
		return appendAction(ctx, tx, admin, s.mods.clock.now(),
			fmt.Sprintf("проверил мод %s (%s)", mod.Manifest.Name, modID))
	})
	if err != nil {
		return s.mods.mapLineageError(err, "проверка мода")
	}
	if changed {
		s.metrics.Verified("manual")
		s.log.Info("Мод проверен администратором", zap.String("modID", modID), zap.String("admin", admin.ID))
	}
	return nil
}

// Deny отклоняет мод: удаляет всю его линейку.
func (s *adminService) Deny(ctx context.Context, admin models.Identity, modID string) error {
	return s.mods.deleteLineage(ctx, admin, modID, "отклонил мод")
}

// DeleteVersion удаляет одну версию мода.
func (s *adminService) DeleteVersion(ctx context.Context, admin models.Identity, modID, version string) error {
	return s.mods.DeleteVersion(ctx, admin, modID, version)
}

// Ban блокирует загрузки автора.
func (s *adminService) Ban(ctx context.Context, admin models.Identity, authorID string) error {
	return s.updateAuthor(ctx, admin, authorID, "заблокировал автора "+authorID,
		func(ctx context.Context, repo repository.AuthorRepository) error {
			return repo.SetBanned(ctx, authorID, true)
		})
}

// Unban снимает блокировку.
func (s *adminService) Unban(ctx context.Context, admin models.Identity, authorID string) error {
	return s.updateAuthor(ctx, admin, authorID, "разблокировал автора "+authorID,
		func(ctx context.Context, repo repository.AuthorRepository) error {
			return repo.SetBanned(ctx, authorID, false)
		})
}

// GrantRole выдает роль автору.
func (s *adminService) GrantRole(ctx context.Context, admin models.Identity, authorID, role string) error {
	if !rolePattern.MatchString(role) {
		return ErrInvalidRole
	}
	return s.updateAuthor(ctx, admin, authorID, fmt.Sprintf("выдал роль %s автору %s", role, authorID),
		func(ctx context.Context, repo repository.AuthorRepository) error {
			return repo.AddPermission(ctx, authorID, role)
		})
}

// RevokeRole отзывает роль у автора.
func (s *adminService) RevokeRole(ctx context.Context, admin models.Identity, authorID, role string) error {
	if !rolePattern.MatchString(role) {
		return ErrInvalidRole
	}
	if role == models.RoleAdmin && authorID == admin.ID {
		return ErrSelfDemotion
	}
	return s.updateAuthor(ctx, admin, authorID, fmt.Sprintf("отозвал роль %s у автора %s", role, authorID),
		func(ctx context.Context, repo repository.AuthorRepository) error {
			return repo.RemovePermission(ctx, authorID, role)
		})
}

func (s *adminService) updateAuthor(
	ctx context.Context,
	admin models.Identity,
	authorID, text string,
	update func(ctx context.Context, repo repository.AuthorRepository) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.mods.timeouts.Store)
	defer cancel()

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := update(ctx, tx.Authors()); err != nil {
			return err
		}
		return appendAction(ctx, tx, admin, s.mods.clock.now(), text)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAuthorNotFound) {
			return ErrAuthorNotFound
		}
		s.log.Error("Ошибка изменения автора", zap.String("authorID", authorID), zap.Error(err))
		return unavailable("изменение автора", err)
	}
	s.log.Info("Автор изменен", zap.String("authorID", authorID), zap.String("admin", admin.ID), zap.String("action", text))
	return nil
}
