package schema

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifestSchema []byte

// Registry хранит текущее дерево схемы. Перезагрузка строит новое дерево
// целиком и подменяет указатель, поэтому читатели никогда не видят
// частично собранную схему.
type Registry struct {
	current atomic.Pointer[map[string]any]
	log     *zap.Logger
}

// NewRegistry создает реестр со встроенной схемой манифеста.
func NewRegistry(log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{log: log.Named("SchemaRegistry")}
	if err := r.LoadBytes(defaultManifestSchema); err != nil {
		return nil, fmt.Errorf("встроенная схема некорректна: %w", err)
	}
	return r, nil
}

// Current возвращает действующее дерево схемы. Дерево нельзя изменять.
func (r *Registry) Current() map[string]any {
	return *r.current.Load()
}

// LoadBytes разбирает YAML, проверяет форму схемы и атомарно подменяет ее.
// При ошибке остается прежняя схема.
func (r *Registry) LoadBytes(data []byte) error {
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("ошибка разбора схемы: %w", err)
	}
	if len(tree) == 0 {
		return errors.New("схема пуста")
	}
	if err := Check(tree); err != nil {
		return err
	}
	r.current.Store(&tree)
	return nil
}

// LoadFile загружает схему из файла.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла схемы '%s': %w", path, err)
	}
	if err = r.LoadBytes(data); err != nil {
		return err
	}
	r.log.Info("Схема загружена", zap.String("path", path))
	return nil
}

// Watch перезагружает схему при изменении файла, пока не отменен ctx.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ошибка создания наблюдателя: %w", err)
	}
	// Следим за каталогом: редакторы часто заменяют файл целиком.
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("ошибка подписки на '%s': %w", path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if loadErr := r.LoadFile(path); loadErr != nil {
					r.log.Error("Схема не перезагружена, используется прежняя", zap.Error(loadErr))
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("Ошибка наблюдателя схемы", zap.Error(watchErr))
			}
		}
	}()
	return nil
}

// Check проверяет форму дерева схемы без данных. Все найденные дефекты
// имеют источник SourceSchema.
func Check(tree map[string]any) error {
	if err := checkTree(tree, ""); err != nil {
		return err
	}
	return nil
}

func checkTree(tree map[string]any, prefix string) *Error {
	for _, key := range sortedKeys(tree) {
		path := joinKey(prefix, key)
		node, ok := tree[key].(map[string]any)
		if !ok {
			return &Error{Key: path, Source: SourceSchema, Message: "узел схемы должен быть объектом"}
		}
		if _, isLeaf := node["type"]; !isLeaf {
			if err := checkTree(node, path); err != nil {
				return err
			}
			continue
		}
		if err := checkLeafShape(node, path); err != nil {
			return err
		}
		if err := checkLeafDefinition(node, path); err != nil {
			return err
		}
	}
	return nil
}

func checkLeafDefinition(node map[string]any, path string) *Error {
	switch node["type"] {
	case TypeBoolean, TypeSemver, TypeObject, TypeArray:
	case TypeString:
		if raw, ok := node["pattern"]; ok {
			pattern, isStr := raw.(string)
			if !isStr {
				return &Error{Key: path, Source: SourceSchema, Message: "pattern должен быть строкой"}
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("некорректный pattern: %v", err)}
			}
		}
	case TypeNumber:
		for _, k := range []string{"min", "max", "step"} {
			if raw, ok := node[k]; ok {
				if _, isNum := toFloat(raw); !isNum {
					return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("%s должен быть числом", k)}
				}
			}
		}
	case TypeDropdown:
		if _, ok := node["options"].([]any); !ok {
			return &Error{Key: path, Source: SourceSchema, Message: "dropdown требует список options"}
		}
	default:
		return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("неизвестный тип %v", node["type"])}
	}
	return nil
}
