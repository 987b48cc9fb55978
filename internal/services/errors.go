package services

import (
	"errors"
	"fmt"
)

// Кастомные ошибки сервиса.
var (
	ErrModNotFound     = errors.New("мод не найден")
	ErrVersionNotFound = errors.New("версия мода не найдена")
	ErrAuthorNotFound  = errors.New("автор не найден")
	ErrPayloadMissing  = errors.New("архив версии отсутствует в хранилище")
	ErrInvalidRole     = errors.New("некорректное имя роли")
	ErrSelfDemotion    = errors.New("нельзя снять роль администратора с самого себя")
	ErrInvalidRequest  = errors.New("некорректный запрос")
	// ErrUnavailable - сбой инфраструктуры (БД, хранилище, провайдер
	// личности). Запрос можно повторить позже.
	ErrUnavailable = errors.New("сервис временно недоступен")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
