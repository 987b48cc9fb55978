package services

import (
	"context"
	"fmt"
	"time"

	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultVerificationWindow = 72 * time.Hour
	defaultSweepBatch         = 50
)

// VerifierConfig - параметры автоматической проверки.
type VerifierConfig struct {
	// Window - сколько должно пройти с первой версии мода до автопроверки.
	Window    time.Duration `mapstructure:"window"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Verifier переводит моды из unverified в verified по истечении окна,
// отсчитанного от самой старой версии линейки.
type Verifier struct {
	store    repository.Store
	cfg      VerifierConfig
	timeouts Timeouts
	clock    Clock
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewVerifier создает Verifier.
func NewVerifier(
	store repository.Store,
	cfg VerifierConfig,
	timeouts Timeouts,
	clock Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *Verifier {
	if cfg.Window <= 0 {
		cfg.Window = defaultVerificationWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		store:    store,
		cfg:      cfg,
		timeouts: timeouts.withDefaults(),
		clock:    clock,
		metrics:  m,
		log:      log.Named("Verifier"),
	}
}

// Sweep проверяет одну порцию непроверенных модов и возвращает число
// переведенных в verified.
func (v *Verifier) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeouts.Store)
	defer cancel()

	now := v.clock.now()
	cutoff := now.Add(-v.cfg.Window)
	pending, err := v.store.Mods().ListUnverified(ctx, cutoff, v.cfg.BatchSize)
	if err != nil {
		return 0, unavailable("получение непроверенных модов", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(pending))
	for _, mod := range pending {
		ids = append(ids, mod.ModID)
	}
	oldest, err := v.store.Versions().OldestVersions(ctx, ids)
	if err != nil {
		return 0, unavailable("получение первых версий", err)
	}

	verified := 0
	for _, mod := range pending {
		first, ok := oldest[mod.ModID]
		if !ok {
			v.log.Warn("У мода нет версий, пропускаем", zap.String("modID", mod.ModID))
			continue
		}
		// Окно должно быть превышено строго.
		if !first.UploadTime.Before(cutoff) {
			continue
		}

		changed := false
		err = v.store.WithinTx(ctx, func(tx repository.Store) error {
			var txErr error
			if changed, txErr = tx.Mods().SetVerified(ctx, mod.ModID); txErr != nil || !changed {
				return txErr
			}
			return appendAction(ctx, tx, models.SystemActor, now,
				fmt.Sprintf("автоматически проверил мод %s (%s)", mod.Manifest.Name, mod.ModID))
		})
		if err != nil {
			return verified, unavailable("автопроверка мода", err)
		}
		if changed {
			verified++
			v.metrics.Verified("auto")
		}
	}

	if verified > 0 {
		v.log.Info("Моды проверены автоматически", zap.Int("count", verified))
	}
	return verified, nil
}
