package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maynagashev/modhub/internal/middleware"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/services"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes ограничивает тело запроса загрузки.
const DefaultMaxUploadBytes = 64 << 20

// multipartMemory - сколько multipart-формы держать в памяти до записи на диск.
const multipartMemory = 32 << 20

// ModHandler обрабатывает публичные запросы к модам.
type ModHandler struct {
	mods      services.ModService
	maxUpload int64
	log       *zap.Logger
}

// NewModHandler создает новый экземпляр ModHandler.
func NewModHandler(mods services.ModService, maxUpload int64, log *zap.Logger) *ModHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ModHandler{mods: mods, maxUpload: maxUpload, log: log.Named("ModHandler")}
}

// uploadInput - разобранный запрос загрузки.
type uploadInput struct {
	filename string
	data     []byte
	claim    models.Identity
	confirm  bool
}

// Upload принимает архив мода в multipart (поле file) или JSON с base64.
func (h *ModHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	in, err := h.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Архив слишком большой", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Info("Неверный формат запроса загрузки", zap.Error(err))
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	opts := models.UploadOptions{ConfirmUpdate: in.confirm}
	if middleware.IsTrusted(r.Context()) {
		opts.Bypass = true
		opts.SkipIdentityCheck = true
	} else if token, ok := middleware.BearerToken(r); ok {
		in.claim.BearerToken = token
	}

	res, err := h.mods.Upload(r.Context(), in.data, in.filename, in.claim, opts)
	if err != nil {
		writeServiceError(w, h.log, "upload", err)
		return
	}
	writeJSON(w, h.log, uploadStatusCode(res), res)
}

func (h *ModHandler) readUpload(r *http.Request) (*uploadInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
		in := &uploadInput{
			claim:   models.Identity{ID: r.FormValue("authorID"), Name: r.FormValue("authorName")},
			confirm: parseBool(r.FormValue("confirm")),
		}
		file, header, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			// Пустая загрузка отклоняется сервисом с причиной missing_payload.
			return in, nil
		}
		if err != nil {
			return nil, err
		}
		defer file.Close()
		in.filename = header.Filename
		if in.data, err = io.ReadAll(file); err != nil {
			return nil, err
		}
		return in, nil
	}

	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, fmt.Errorf("поле data не в base64: %w", err)
	}
	return &uploadInput{
		filename: req.Filename,
		data:     data,
		claim:    models.Identity{ID: req.AuthorID, Name: req.AuthorName},
		confirm:  req.Confirm,
	}, nil
}

func uploadStatusCode(res *models.UploadResult) int {
	switch res.Status {
	case models.StatusCreated:
		return http.StatusCreated
	case models.StatusUpdated:
		return http.StatusOK
	case models.StatusConfirm:
		return http.StatusAccepted
	case models.StatusConflict:
		return http.StatusConflict
	case models.StatusRejected:
		switch res.Reason {
		case models.ReasonInvalidIdentity:
			return http.StatusUnauthorized
		case models.ReasonBannedAuthor:
			return http.StatusForbidden
		default:
			return http.StatusBadRequest
		}
	default:
		return http.StatusInternalServerError
	}
}

// Search ищет моды: ?q=&tags=a,b&verified=true|false|all&page=&limit=.
func (h *ModHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := models.ModSearch{Query: query.Get("q"), Tags: splitList(query.Get("tags"))}
	switch query.Get("verified") {
	case "", "true":
		q.Verified = models.VerifiedOnly
	case "false":
		q.Verified = models.UnverifiedOnly
	case "all":
		q.Verified = models.VerifiedAny
	default:
		http.Error(w, "Параметр verified: true, false или all", http.StatusBadRequest)
		return
	}

	// Некорректные page и limit заменяются значениями по умолчанию.
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	q.Page, _ = strconv.Atoi(query.Get("page"))

	result, err := h.mods.Search(r.Context(), q)
	if err != nil {
		writeServiceError(w, h.log, "search", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, result)
}

// VersionsBatch возвращает списки версий: ?ids=a,b,c.
func (h *ModHandler) VersionsBatch(w http.ResponseWriter, r *http.Request) {
	versions, err := h.mods.ListVersions(r.Context(), splitList(r.URL.Query().Get("ids")))
	if err != nil {
		writeServiceError(w, h.log, "versions batch", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, versions)
}

// GetMod возвращает проекцию мода.
func (h *ModHandler) GetMod(w http.ResponseWriter, r *http.Request) {
	mod, err := h.mods.GetMod(r.Context(), chi.URLParam(r, "modID"))
	if err != nil {
		writeServiceError(w, h.log, "get mod", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, mod)
}

// ListVersions возвращает версии одного мода, новые первыми.
func (h *ModHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	modID := chi.URLParam(r, "modID")
	versions, err := h.mods.ListVersions(r.Context(), []string{modID})
	if err != nil {
		writeServiceError(w, h.log, "list versions", err)
		return
	}
	list, ok := versions[modID]
	if !ok {
		http.Error(w, "Мод не найден", http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, http.StatusOK, models.VersionList{ModID: modID, Versions: list})
}

// GetVersion возвращает метаданные версии; "latest" означает последнюю.
func (h *ModHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	entry, err := h.mods.GetVersion(r.Context(), chi.URLParam(r, "modID"), chi.URLParam(r, "version"), false)
	if err != nil {
		writeServiceError(w, h.log, "get version", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, entry)
}

// Download отдает zip-архив версии.
func (h *ModHandler) Download(w http.ResponseWriter, r *http.Request) {
	modID, version := chi.URLParam(r, "modID"), chi.URLParam(r, "version")

	entry, body, err := h.mods.Download(r.Context(), modID, version)
	if err != nil {
		if errors.Is(err, services.ErrPayloadMissing) {
			h.log.Error("Архив версии отсутствует", zap.String("modID", modID), zap.String("version", version))
			http.Error(w, "Архив версии недоступен", http.StatusInternalServerError)
			return
		}
		writeServiceError(w, h.log, "download", err)
		return
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			h.log.Warn("Ошибка закрытия потока архива", zap.Error(closeErr))
		}
	}()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-%s.zip"`, entry.ModID, entry.Version))
	w.Header().Set("X-Checksum-Sha256", entry.Checksum)
	w.WriteHeader(http.StatusOK)

	if _, err = io.Copy(w, body); err != nil {
		h.log.Warn("Ошибка отправки архива", zap.String("modID", modID), zap.Error(err))
		return
	}
	h.log.Debug("Архив отправлен", zap.String("modID", entry.ModID), zap.String("version", entry.Version))
}

// Vote добавляет голос моду.
func (h *ModHandler) Vote(w http.ResponseWriter, r *http.Request) {
	if err := h.mods.Vote(r.Context(), chi.URLParam(r, "modID")); err != nil {
		writeServiceError(w, h.log, "vote", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthorProfile возвращает автора и его моды.
func (h *ModHandler) AuthorProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.mods.AuthorProfile(r.Context(), chi.URLParam(r, "authorID"))
	if err != nil {
		writeServiceError(w, h.log, "author profile", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, profile)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) bool {
	v, _ := strconv.ParseBool(raw)
	return v
}
