package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage хранит объекты в памяти процесса.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ FileStorage = (*MemoryStorage)(nil)

// NewMemoryStorage создает пустое хранилище.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: map[string][]byte{}}
}

// UploadFile сохраняет объект. size = -1 означает неизвестный размер.
func (s *MemoryStorage) UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("ошибка чтения загружаемого файла: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("размер файла %d не совпадает с заявленным %d", len(data), size)
	}
	s.mu.Lock()
	s.objects[objectKey] = data
	s.mu.Unlock()
	return nil
}

// DownloadFile возвращает копию объекта.
func (s *MemoryStorage) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.objects[objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// DeleteFile удаляет объект.
func (s *MemoryStorage) DeleteFile(ctx context.Context, objectKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, objectKey)
	s.mu.Unlock()
	return nil
}

// Len возвращает число хранимых объектов.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
