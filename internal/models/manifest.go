package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Manifest описывает одну версию мода: содержимое modinfo.json из архива
// после валидации по схеме и подстановки значений по умолчанию.
type Manifest struct {
	ModID                   string            `json:"modID" mapstructure:"modID"`
	Name                    string            `json:"name" mapstructure:"name"`
	Version                 string            `json:"version" mapstructure:"version"`
	Author                  string            `json:"author" mapstructure:"author"`
	ShortDescription        string            `json:"shortDescription" mapstructure:"shortDescription"`
	Description             string            `json:"description" mapstructure:"description"`
	LoaderVersionConstraint string            `json:"loaderVersionConstraint" mapstructure:"loaderVersionConstraint"`
	Dependencies            map[string]string `json:"dependencies" mapstructure:"dependencies"`
	Tags                    []string          `json:"tags" mapstructure:"tags"`
	// Точки входа: основной процесс хоста, воркер и песочница игры.
	HostEntrypoint   string         `json:"hostEntrypoint" mapstructure:"hostEntrypoint"`
	WorkerEntrypoint string         `json:"workerEntrypoint" mapstructure:"workerEntrypoint"`
	GameEntrypoint   string         `json:"gameEntrypoint" mapstructure:"gameEntrypoint"`
	ConfigSchema     map[string]any `json:"configSchema" mapstructure:"configSchema"`
}

// Value сериализует манифест в JSONB.
func (m Manifest) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan читает манифест из JSONB-колонки.
func (m *Manifest) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Manifest{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("неподдерживаемый тип для Manifest: %T", src)
	}
	if len(data) == 0 {
		return errors.New("пустое значение манифеста")
	}
	return json.Unmarshal(data, m)
}
