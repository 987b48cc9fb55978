package handlers_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/maynagashev/modhub/internal/handlers"
	"github.com/maynagashev/modhub/internal/middleware"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testAdmin = models.Identity{ID: "root", Name: "Root", BearerToken: "root-token"}

func adminRouter(h *handlers.AdminHandler, withIdentity bool) *chi.Mux {
	r := chi.NewRouter()
	if withIdentity {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), testAdmin)))
			})
		})
	}
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/mods/{modID}/verify", h.Verify)
		r.Post("/mods/{modID}/deny", h.Deny)
		r.Delete("/mods/{modID}/versions/{version}", h.DeleteVersion)
		r.Post("/authors/{authorID}/ban", h.Ban)
		r.Post("/authors/{authorID}/unban", h.Unban)
		r.Post("/authors/{authorID}/roles/{role}", h.GrantRole)
		r.Delete("/authors/{authorID}/roles/{role}", h.RevokeRole)
	})
	return r
}

func TestAdminHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		setup          func(m *MockAdminService)
		expectedStatus int
	}{
		{
			name:   "Проверка мода",
			method: http.MethodPost,
			path:   "/api/admin/mods/cool-mod/verify",
			setup: func(m *MockAdminService) {
				m.On("Verify", mock.Anything, testAdmin, "cool-mod").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "Отклонение неизвестного мода",
			method: http.MethodPost,
			path:   "/api/admin/mods/missing/deny",
			setup: func(m *MockAdminService) {
				m.On("Deny", mock.Anything, testAdmin, "missing").Return(services.ErrModNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "Удаление версии",
			method: http.MethodDelete,
			path:   "/api/admin/mods/cool-mod/versions/1.0.0",
			setup: func(m *MockAdminService) {
				m.On("DeleteVersion", mock.Anything, testAdmin, "cool-mod", "1.0.0").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "Блокировка",
			method: http.MethodPost,
			path:   "/api/admin/authors/alice/ban",
			setup: func(m *MockAdminService) {
				m.On("Ban", mock.Anything, testAdmin, "alice").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "Разблокировка недоступна",
			method: http.MethodPost,
			path:   "/api/admin/authors/alice/unban",
			setup: func(m *MockAdminService) {
				m.On("Unban", mock.Anything, testAdmin, "alice").Return(fmt.Errorf("%w: db", services.ErrUnavailable))
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "Некорректная роль",
			method: http.MethodPost,
			path:   "/api/admin/authors/alice/roles/BAD",
			setup: func(m *MockAdminService) {
				m.On("GrantRole", mock.Anything, testAdmin, "alice", "BAD").Return(services.ErrInvalidRole)
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "Снятие роли с себя",
			method: http.MethodDelete,
			path:   "/api/admin/authors/root/roles/admin",
			setup: func(m *MockAdminService) {
				m.On("RevokeRole", mock.Anything, testAdmin, "root", "admin").Return(services.ErrSelfDemotion)
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := new(MockAdminService)
			tt.setup(admin)

			rr := httptest.NewRecorder()
			adminRouter(handlers.NewAdminHandler(admin, nil), true).
				ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			admin.AssertExpectations(t)
		})
	}
}

func TestAdminHandler_NoIdentity(t *testing.T) {
	admin := new(MockAdminService)
	rr := httptest.NewRecorder()
	adminRouter(handlers.NewAdminHandler(admin, nil), false).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/mods/cool-mod/verify", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	admin.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}
