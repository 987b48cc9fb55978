package models

// UploadStatus - исход загрузки мода.
type UploadStatus string

const (
	StatusRejected UploadStatus = "rejected"
	StatusCreated  UploadStatus = "created"
	StatusUpdated  UploadStatus = "updated"
	StatusConflict UploadStatus = "conflict"
	// StatusConfirm означает, что загрузка обновит существующий мод и
	// требует подтверждения от загружающего.
	StatusConfirm UploadStatus = "confirm"
)

// RejectReason - машиночитаемая причина отказа.
type RejectReason string

const (
	ReasonMissingPayload   RejectReason = "missing_payload"
	ReasonInvalidIdentity  RejectReason = "invalid_identity"
	ReasonBannedAuthor     RejectReason = "banned_author"
	ReasonInvalidArchive   RejectReason = "invalid_archive"
	ReasonManifestMissing  RejectReason = "manifest_missing"
	ReasonManifestInvalid  RejectReason = "manifest_invalid"
	ReasonSchemaViolation  RejectReason = "schema_violation"
	ReasonDuplicateVersion RejectReason = "duplicate_version"
)

// UploadOptions управляет поведением конвейера загрузки.
type UploadOptions struct {
	// SkipIdentityCheck отключает проверку личности. Только для доверенных
	// пакетных задач.
	SkipIdentityCheck bool
	// ConfirmUpdate - загружающий подтвердил обновление своего мода.
	ConfirmUpdate bool
	// Bypass - доверенный вызов: разрешает обновление чужого мода и не
	// требует подтверждения.
	Bypass bool
}

// UploadResult - результат загрузки. Отказы являются данными, а не ошибками.
type UploadResult struct {
	Status  UploadStatus `json:"status"`
	ModID   string       `json:"modID,omitempty"`
	Version string       `json:"version,omitempty"`
	Reason  RejectReason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	// Key и Source заполняются при нарушении схемы.
	Key    string `json:"key,omitempty"`
	Source string `json:"source,omitempty"`
}

// Rejected создает результат с отказом.
func Rejected(reason RejectReason, message string) *UploadResult {
	return &UploadResult{Status: StatusRejected, Reason: reason, Message: message}
}
