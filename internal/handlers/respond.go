// Package handlers содержит HTTP-обработчики API модов.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maynagashev/modhub/internal/services"
	"go.uber.org/zap"
)

// writeJSON отправляет v со статусом status.
func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Ошибка кодирования ответа", zap.Error(err))
	}
}

// writeServiceError переводит ошибку сервиса в HTTP-статус.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, services.ErrModNotFound):
		http.Error(w, "Мод не найден", http.StatusNotFound)
	case errors.Is(err, services.ErrVersionNotFound):
		http.Error(w, "Версия не найдена", http.StatusNotFound)
	case errors.Is(err, services.ErrAuthorNotFound):
		http.Error(w, "Автор не найден", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrInvalidRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrSelfDemotion):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrUnavailable):
		log.Error("Сервис недоступен", zap.String("op", op), zap.Error(err))
		http.Error(w, "Сервис временно недоступен", http.StatusServiceUnavailable)
	default:
		log.Error("Внутренняя ошибка", zap.String("op", op), zap.Error(err))
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}
