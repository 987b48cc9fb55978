// Package manifest извлекает и проверяет modinfo.json из архива мода.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/maynagashev/modhub/internal/archive"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Имена файлов внутри архива.
const (
	FileName   = "modinfo.json"
	ReadmeName = "README.md"
)

// Error - отказ извлечения. Это данные для ответа загружающему.
type Error struct {
	Reason  models.RejectReason
	Key     string
	Source  schema.Source
	Message string
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", e.Reason, e.Key, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// SchemaSource отдает действующее дерево схемы.
type SchemaSource interface {
	Current() map[string]any
}

// Extractor находит, очищает и проверяет манифест.
type Extractor struct {
	schemas   SchemaSource
	validator *schema.Validator
	sanitizer *Sanitizer
}

// NewExtractor создает экстрактор.
func NewExtractor(schemas SchemaSource, validator *schema.Validator) *Extractor {
	if validator == nil {
		validator = schema.NewValidator()
	}
	return &Extractor{
		schemas:   schemas,
		validator: validator,
		sanitizer: NewSanitizer(),
	}
}

// Extract читает манифест из нормализованного архива. Все отказы
// возвращаются как *Error.
func (e *Extractor) Extract(a *archive.Archive) (*models.Manifest, error) {
	files := a.Files()

	manifestPath, ok := findShallowest(files, func(base string) bool { return base == FileName })
	if !ok {
		return nil, &Error{Reason: models.ReasonManifestMissing, Message: "в архиве нет " + FileName}
	}
	data, err := a.ReadFile(manifestPath)
	if err != nil {
		return nil, &Error{Reason: models.ReasonInvalidArchive, Message: err.Error()}
	}

	raw := map[string]any{}
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Reason: models.ReasonManifestInvalid, Message: "ошибка разбора " + FileName + ": " + err.Error()}
	}
	if raw == nil {
		return nil, &Error{Reason: models.ReasonManifestInvalid, Message: FileName + " должен быть объектом"}
	}

	// Описание из README всегда важнее поля description.
	if readmePath, found := findShallowest(files, func(base string) bool {
		return strings.EqualFold(base, ReadmeName)
	}); found {
		readme, readErr := a.ReadFile(readmePath)
		if readErr != nil {
			return nil, &Error{Reason: models.ReasonInvalidArchive, Message: readErr.Error()}
		}
		raw["description"] = string(readme)
	}

	raw = e.sanitize(raw)

	if err = e.validator.Validate(raw, e.schemas.Current()); err != nil {
		var schemaErr *schema.Error
		if !errors.As(err, &schemaErr) {
			return nil, &Error{Reason: models.ReasonSchemaViolation, Source: schema.SourceTarget, Message: err.Error()}
		}
		return nil, &Error{
			Reason:  models.ReasonSchemaViolation,
			Key:     schemaErr.Key,
			Source:  schemaErr.Source,
			Message: schemaErr.Message,
		}
	}

	manifest := &models.Manifest{}
	if err = mapstructure.Decode(raw, manifest); err != nil {
		return nil, &Error{Reason: models.ReasonManifestInvalid, Message: "некорректные поля манифеста: " + err.Error()}
	}

	if err = checkConfigSchema(manifest.ConfigSchema); err != nil {
		return nil, &Error{
			Reason:  models.ReasonSchemaViolation,
			Key:     "configSchema",
			Source:  schema.SourceTarget,
			Message: err.Error(),
		}
	}
	return manifest, nil
}

func (e *Extractor) sanitize(raw map[string]any) map[string]any {
	desc, hasDesc := raw["description"].(string)
	if hasDesc {
		delete(raw, "description")
	}
	out, _ := e.sanitizer.Value(raw).(map[string]any)
	if hasDesc {
		out["description"] = e.sanitizer.Description(desc)
	}
	return out
}

// checkConfigSchema проверяет, что configSchema - корректная JSON Schema.
func checkConfigSchema(cfg map[string]any) error {
	if len(cfg) == 0 {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации configSchema: %w", err)
	}
	const resource = "inmemory://configSchema"
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(resource, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("некорректная configSchema: %w", err)
	}
	if _, err = compiler.Compile(resource); err != nil {
		return fmt.Errorf("configSchema не компилируется: %w", err)
	}
	return nil
}

// findShallowest выбирает подходящий файл с наименьшей глубиной.
func findShallowest(files []string, match func(base string) bool) (string, bool) {
	candidates := make([]string, 0, 1)
	for _, name := range files {
		if strings.HasSuffix(name, "/") {
			continue
		}
		if match(path.Base(name)) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}
