package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maynagashev/modhub/internal/middleware"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/services"
	"go.uber.org/zap"
)

// AdminHandler обрабатывает действия модерации. Роль проверяет
// middleware.RequireAdmin.
type AdminHandler struct {
	admin services.AdminService
	log   *zap.Logger
}

// NewAdminHandler создает новый экземпляр AdminHandler.
func NewAdminHandler(admin services.AdminService, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{admin: admin, log: log.Named("AdminHandler")}
}

// Verify помечает мод проверенным.
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "verify", func(actor models.Identity) error {
		return h.admin.Verify(r.Context(), actor, chi.URLParam(r, "modID"))
	})
}

// Deny отклоняет мод вместе со всеми версиями.
func (h *AdminHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "deny", func(actor models.Identity) error {
		return h.admin.Deny(r.Context(), actor, chi.URLParam(r, "modID"))
	})
}

// DeleteVersion удаляет одну версию мода.
func (h *AdminHandler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "delete version", func(actor models.Identity) error {
		return h.admin.DeleteVersion(r.Context(), actor, chi.URLParam(r, "modID"), chi.URLParam(r, "version"))
	})
}

// Ban блокирует автора.
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "ban", func(actor models.Identity) error {
		return h.admin.Ban(r.Context(), actor, chi.URLParam(r, "authorID"))
	})
}

// Unban снимает блокировку автора.
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "unban", func(actor models.Identity) error {
		return h.admin.Unban(r.Context(), actor, chi.URLParam(r, "authorID"))
	})
}

// GrantRole выдает роль.
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "grant role", func(actor models.Identity) error {
		return h.admin.GrantRole(r.Context(), actor, chi.URLParam(r, "authorID"), chi.URLParam(r, "role"))
	})
}

// RevokeRole отзывает роль.
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "revoke role", func(actor models.Identity) error {
		return h.admin.RevokeRole(r.Context(), actor, chi.URLParam(r, "authorID"), chi.URLParam(r, "role"))
	})
}

func (h *AdminHandler) do(w http.ResponseWriter, r *http.Request, op string, action func(models.Identity) error) {
	actor, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.log.Error("Личность отсутствует в контексте", zap.String("op", op))
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}
	if err := action(actor); err != nil {
		writeServiceError(w, h.log, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
