package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/maynagashev/modhub/internal/locks"
	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
)

const defaultReconcilePage = 200

// Reconciler восстанавливает инвариант: версия в проекции мода совпадает с
// последней загруженной версией.
type Reconciler struct {
	store    repository.Store
	locker   locks.Locker
	pageSize int
	timeouts Timeouts
	clock    Clock
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewReconciler создает Reconciler. locker должен быть общим с сервисом модов.
func NewReconciler(
	store repository.Store,
	locker locks.Locker,
	pageSize int,
	timeouts Timeouts,
	clock Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *Reconciler {
	if pageSize <= 0 {
		pageSize = defaultReconcilePage
	}
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		locker:   locker,
		pageSize: pageSize,
		timeouts: timeouts.withDefaults(),
		clock:    clock,
		metrics:  m,
		log:      log.Named("Reconciler"),
	}
}

// Reconcile обходит все проекции постранично и возвращает число исправленных.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	fixed := 0
	after := ""
	for {
		page, latest, err := r.loadPage(ctx, after)
		if err != nil {
			return fixed, err
		}
		if len(page) == 0 {
			break
		}

		for _, mod := range page {
			newest, ok := latest[mod.ModID]
			if !ok {
				r.log.Warn("Проекция без версий", zap.String("modID", mod.ModID))
				continue
			}
			if newest.Version == mod.Version() {
				continue
			}
			ok, err = r.fix(ctx, mod, newest)
			if err != nil {
				return fixed, err
			}
			if ok {
				fixed++
			}
		}

		after = page[len(page)-1].ModID
		if len(page) < r.pageSize {
			break
		}
	}

	r.metrics.Reconciled(fixed)
	if fixed > 0 {
		r.log.Info("Проекции исправлены", zap.Int("count", fixed))
	}
	return fixed, nil
}

func (r *Reconciler) loadPage(
	ctx context.Context,
	after string,
) ([]models.ModEntry, map[string]models.ModVersionEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Store)
	defer cancel()

	page, err := r.store.Mods().ListPage(ctx, after, r.pageSize)
	if err != nil {
		return nil, nil, unavailable("получение страницы модов", err)
	}
	ids := make([]string, 0, len(page))
	for _, mod := range page {
		ids = append(ids, mod.ModID)
	}
	latest, err := r.store.Versions().LatestVersions(ctx, ids)
	if err != nil {
		return nil, nil, unavailable("получение последних версий", err)
	}
	return page, latest, nil
}

// fix переписывает устаревшую проекцию. Если ее успела изменить загрузка,
// исправление пропускается до следующего прохода.
func (r *Reconciler) fix(ctx context.Context, mod models.ModEntry, newest models.ModVersionEntry) (bool, error) {
	unlock, err := r.locker.Lock(ctx, mod.ModID)
	if err != nil {
		return false, unavailable("блокировка мода", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Store)
	defer cancel()

	err = r.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Mods().UpdateCurrent(ctx, mod.ModID, newest.Manifest, newest.UploadTime, mod.Seq); err != nil {
			return err
		}
		return appendAction(ctx, tx, models.SystemActor, r.clock.now(),
			fmt.Sprintf("исправил проекцию мода %s: версия %s заменена на %s", mod.ModID, mod.Version(), newest.Version))
	})
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		r.log.Info("Проекция изменилась во время исправления", zap.String("modID", mod.ModID))
		return false, nil
	}
	if err != nil {
		return false, unavailable("исправление проекции", err)
	}
	r.log.Warn("Исправлено расхождение проекции",
		zap.String("modID", mod.ModID), zap.String("was", mod.Version()), zap.String("now", newest.Version))
	return true, nil
}
