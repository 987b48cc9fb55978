package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maynagashev/modhub/internal/archive"
	"github.com/maynagashev/modhub/internal/compress"
	"github.com/maynagashev/modhub/internal/manifest"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/maynagashev/modhub/internal/storage"
	"go.uber.org/zap"
)

// maxLineageAttempts ограничивает повторы, если проекция изменилась между
// чтением и условной записью.
const maxLineageAttempts = 3

var errLineageChanged = errors.New("проекция изменилась во время загрузки")

// Upload принимает архив мода. Отказы возвращаются как результат со
// статусом rejected, ошибка означает сбой инфраструктуры.
func (s *modService) Upload(
	ctx context.Context,
	data []byte,
	filename string,
	claim models.Identity,
	opts models.UploadOptions,
) (*models.UploadResult, error) {
	started := time.Now()
	res, err := s.upload(ctx, data, filename, claim, opts)

	status, reason := "error", ""
	if res != nil {
		status, reason = string(res.Status), string(res.Reason)
	}
	s.metrics.ObserveUpload(status, reason, time.Since(started).Seconds())
	return res, err
}

func (s *modService) upload(
	ctx context.Context,
	data []byte,
	filename string,
	claim models.Identity,
	opts models.UploadOptions,
) (*models.UploadResult, error) {
	log := s.log.With(zap.String("file", filename), zap.String("authorID", claim.ID))

	if len(data) == 0 {
		log.Info("Загрузка без файла")
		return models.Rejected(models.ReasonMissingPayload, "файл архива не передан"), nil
	}

	// 1. Личность загружающего.
	author, rejected, err := s.resolveAuthor(ctx, claim, opts)
	if err != nil || rejected != nil {
		return rejected, err
	}

	// 2. Нормализация архива и извлечение манифеста.
	arch, stripped, err := archive.Normalize(data)
	if err != nil {
		log.Info("Некорректный архив", zap.Error(err))
		return models.Rejected(models.ReasonInvalidArchive, err.Error()), nil
	}
	m, err := s.extractor.Extract(arch)
	if err != nil {
		var extractErr *manifest.Error
		if errors.As(err, &extractErr) {
			log.Info("Манифест отклонен", zap.Error(err))
			res := models.Rejected(extractErr.Reason, extractErr.Message)
			res.Key, res.Source = extractErr.Key, string(extractErr.Source)
			return res, nil
		}
		return models.Rejected(models.ReasonManifestInvalid, err.Error()), nil
	}
	log = log.With(zap.String("modID", m.ModID), zap.String("version", m.Version), zap.Bool("stripped", stripped))

	// 3-5. Решение по линейке и запись под блокировкой modID.
	unlock, err := s.locker.Lock(ctx, m.ModID)
	if err != nil {
		log.Error("Не удалось получить блокировку мода", zap.Error(err))
		return nil, unavailable("блокировка мода", err)
	}
	defer unlock()

	p := &pendingUpload{author: author, manifest: m, archive: arch.Bytes()}
	for attempt := 1; ; attempt++ {
		res, err := s.resolveAndPersist(ctx, p, opts)
		if !errors.Is(err, errLineageChanged) {
			if err != nil {
				log.Error("Ошибка сохранения загрузки", zap.Error(err))
			} else {
				logUploadResult(log, res)
			}
			return res, err
		}
		if attempt == maxLineageAttempts {
			log.Error("Проекция меняется быстрее, чем проходит загрузка")
			s.discardPayload(p)
			return nil, unavailable("запись версии", err)
		}
		log.Warn("Проекция изменилась, повторяем решение", zap.Int("attempt", attempt))
	}
}

func logUploadResult(log *zap.Logger, res *models.UploadResult) {
	switch res.Status {
	case models.StatusConflict:
		log.Warn("Конфликт владельца modID")
	case models.StatusRejected:
		log.Info("Загрузка отклонена", zap.String("reason", string(res.Reason)))
	default:
		log.Info("Загрузка обработана", zap.String("status", string(res.Status)))
	}
}

// resolveAuthor проверяет личность и возвращает автора, создавая его при
// первой загрузке.
func (s *modService) resolveAuthor(
	ctx context.Context,
	claim models.Identity,
	opts models.UploadOptions,
) (*models.Author, *models.UploadResult, error) {
	if claim.ID == "" {
		return nil, models.Rejected(models.ReasonInvalidIdentity, "не указан автор"), nil
	}

	if !opts.SkipIdentityCheck {
		if claim.BearerToken == "" || s.identity == nil {
			return nil, models.Rejected(models.ReasonInvalidIdentity, "identity validation failed"), nil
		}
		idCtx, cancel := context.WithTimeout(ctx, s.timeouts.Identity)
		ok, err := s.identity.Verify(idCtx, claim.ID, claim.BearerToken)
		cancel()
		if err != nil {
			s.log.Error("Провайдер личности недоступен", zap.Error(err))
			return nil, nil, unavailable("проверка личности", err)
		}
		if !ok {
			s.log.Warn("Личность не подтверждена", zap.String("authorID", claim.ID))
			return nil, models.Rejected(models.ReasonInvalidIdentity, "identity validation failed"), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	author, err := s.store.Authors().GetAuthor(ctx, claim.ID)
	if errors.Is(err, repository.ErrAuthorNotFound) {
		author = &models.Author{ID: claim.ID, Name: claim.Name, JoinedAt: s.clock.now()}
		if author.Name == "" {
			author.Name = claim.ID
		}
		err = s.store.Authors().CreateAuthor(ctx, author)
		if errors.Is(err, repository.ErrAuthorExists) {
			author, err = s.store.Authors().GetAuthor(ctx, claim.ID)
		} else if err == nil {
			s.log.Info("Зарегистрирован новый автор", zap.String("authorID", author.ID))
		}
	}
	if err != nil {
		return nil, nil, unavailable("получение автора", err)
	}

	if author.Banned {
		s.log.Warn("Загрузка от заблокированного автора", zap.String("authorID", author.ID))
		return nil, models.Rejected(models.ReasonBannedAuthor, "автор заблокирован"), nil
	}
	return author, nil, nil
}

type pendingUpload struct {
	author   *models.Author
	manifest *models.Manifest
	archive  []byte

	// Заполняются при первой записи и переиспользуются при повторе.
	compressed []byte
	objectKey  string
}

// resolveAndPersist принимает решение по линейке и, если нужно, сохраняет
// версию. errLineageChanged означает, что решение надо принять заново.
func (s *modService) resolveAndPersist(
	ctx context.Context,
	p *pendingUpload,
	opts models.UploadOptions,
) (*models.UploadResult, error) {
	m := p.manifest
	result := &models.UploadResult{ModID: m.ModID, Version: m.Version}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	current, err := s.store.Mods().GetMod(storeCtx, m.ModID)
	cancel()
	switch {
	case errors.Is(err, repository.ErrModNotFound):
		current = nil
	case err != nil:
		return nil, unavailable("получение мода", err)
	}

	if current != nil {
		if current.AuthorID != p.author.ID && !opts.Bypass {
			result.Status = models.StatusConflict
			result.Message = "modID уже принадлежит другому автору"
			return result, nil
		}

		storeCtx, cancel = context.WithTimeout(ctx, s.timeouts.Store)
		exists, err := s.store.Versions().VersionExists(storeCtx, m.ModID, m.Version)
		cancel()
		if err != nil {
			return nil, unavailable("проверка версии", err)
		}
		if exists {
			return duplicateVersion(m), nil
		}

		if !opts.ConfirmUpdate && !opts.Bypass {
			result.Status = models.StatusConfirm
			result.Message = fmt.Sprintf("мод будет обновлен с %s до %s, подтвердите загрузку",
				current.Version(), m.Version)
			return result, nil
		}
	}

	if err = s.storePayload(ctx, p); err != nil {
		return nil, err
	}

	now := s.clock.now()
	txCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	err = s.store.WithinTx(txCtx, func(tx repository.Store) error {
		if current == nil {
			mod := &models.ModEntry{
				ModID:      m.ModID,
				Manifest:   *m,
				AuthorID:   p.author.ID,
				AuthorName: p.author.Name,
				UploadTime: now,
			}
			if err := tx.Mods().CreateMod(txCtx, mod); err != nil {
				if errors.Is(err, repository.ErrModExists) {
					return errLineageChanged
				}
				return err
			}
		} else if err := tx.Mods().UpdateCurrent(txCtx, m.ModID, *m, now, current.Seq); err != nil {
			if errors.Is(err, repository.ErrConcurrentUpdate) {
				return errLineageChanged
			}
			return err
		}

		_, err := tx.Versions().CreateVersion(txCtx, &models.ModVersionEntry{
			ModID:      m.ModID,
			Version:    m.Version,
			ObjectKey:  p.objectKey,
			Checksum:   checksum(p.archive),
			SizeBytes:  int64(len(p.compressed)),
			Manifest:   *m,
			UploadTime: now,
		})
		if err != nil {
			return err
		}

		text := fmt.Sprintf("загрузил новый мод %s (%s) версии %s", m.Name, m.ModID, m.Version)
		if current != nil {
			text = fmt.Sprintf("обновил мод %s (%s) до версии %s", m.Name, m.ModID, m.Version)
		}
		return appendAction(txCtx, tx, models.Identity{ID: p.author.ID, Name: p.author.Name}, now, text)
	})

	if err != nil {
		if errors.Is(err, errLineageChanged) {
			return nil, err
		}
		s.discardPayload(p)
		if errors.Is(err, repository.ErrDuplicateVersion) {
			return duplicateVersion(m), nil
		}
		return nil, unavailable("запись версии", err)
	}

	result.Status = models.StatusCreated
	if current != nil {
		result.Status = models.StatusUpdated
	}
	return result, nil
}

func duplicateVersion(m *models.Manifest) *models.UploadResult {
	res := models.Rejected(models.ReasonDuplicateVersion,
		fmt.Sprintf("версия %s мода %s уже загружена", m.Version, m.ModID))
	res.ModID, res.Version = m.ModID, m.Version
	return res
}

// storePayload сжимает архив и кладет его в объектное хранилище один раз
// на загрузку.
func (s *modService) storePayload(ctx context.Context, p *pendingUpload) error {
	if p.objectKey != "" {
		return nil
	}

	compressed, err := s.compress(ctx, p.archive)
	if err != nil {
		return err
	}

	key := storage.NewObjectKey(p.manifest.ModID)
	fileCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	defer cancel()
	err = s.files.UploadFile(fileCtx, key, bytes.NewReader(compressed), int64(len(compressed)), compress.ContentType)
	if err != nil {
		return unavailable("сохранение архива", err)
	}
	p.compressed, p.objectKey = compressed, key
	return nil
}

// discardPayload удаляет архив, для которого не удалось записать версию.
func (s *modService) discardPayload(p *pendingUpload) {
	if p.objectKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeouts.Storage)
	defer cancel()
	if err := s.files.DeleteFile(ctx, p.objectKey); err != nil {
		s.log.Warn("Не удалось удалить осиротевший архив", zap.String("key", p.objectKey), zap.Error(err))
	}
}

// compress выполняет сжатие с ограничением по времени.
func (s *modService) compress(ctx context.Context, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Compress)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.compressor.Compress(data, s.level)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, unavailable("сжатие архива", r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, unavailable("сжатие архива", ctx.Err())
	}
}
