// Package schema проверяет манифесты модов по декларативной схеме.
//
// Узел схемы - это либо лист (содержит ключ "type" и ограничения типа),
// либо внутренний узел (отображение ключей на дочерние узлы без "type").
package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Source указывает, где находится дефект: в схеме или в проверяемых данных.
type Source string

const (
	SourceSchema Source = "schema"
	SourceTarget Source = "target"
)

// Типы листовых узлов.
const (
	TypeBoolean  = "boolean"
	TypeString   = "string"
	TypeSemver   = "semver"
	TypeNumber   = "number"
	TypeDropdown = "dropdown"
	TypeObject   = "object"
	TypeArray    = "array"
)

const stepEpsilon = 1e-9

// Ключи, допустимые в листовом узле.
var leafKeys = map[string]struct{}{
	"type":        {},
	"default":     {},
	"description": {},
	"pattern":     {},
	"min":         {},
	"max":         {},
	"step":        {},
	"options":     {},
}

// UnknownKeyPolicy определяет обработку ключей, которых нет в схеме.
type UnknownKeyPolicy int

const (
	UnknownIgnore UnknownKeyPolicy = iota
	UnknownDelete
	UnknownError
)

// ParseUnknownKeyPolicy разбирает политику из строки конфигурации.
func ParseUnknownKeyPolicy(s string) (UnknownKeyPolicy, error) {
	switch s {
	case "", "ignore":
		return UnknownIgnore, nil
	case "delete":
		return UnknownDelete, nil
	case "error":
		return UnknownError, nil
	default:
		return UnknownIgnore, fmt.Errorf("неизвестная политика для лишних ключей: %q", s)
	}
}

// Error - первое найденное нарушение.
type Error struct {
	Key     string
	Source  Source
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Key, e.Message, e.Source)
}

// Validator проверяет данные по схеме. Безопасен для параллельного
// использования.
type Validator struct {
	unknown  UnknownKeyPolicy
	patterns sync.Map // string -> *regexp.Regexp
}

// Option настраивает Validator.
type Option func(*Validator)

// WithUnknownKeys задает политику для ключей, отсутствующих в схеме.
func WithUnknownKeys(p UnknownKeyPolicy) Option {
	return func(v *Validator) { v.unknown = p }
}

// NewValidator создает валидатор.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate проверяет target по schema, подставляя значения по умолчанию
// прямо в target. Возвращает *Error при первом нарушении.
func (v *Validator) Validate(target, schema map[string]any) error {
	if target == nil {
		return &Error{Key: "", Source: SourceTarget, Message: "данные отсутствуют"}
	}
	if err := v.validateNode(target, schema, ""); err != nil {
		return err
	}
	return nil
}

// Validate проверяет target по schema с политиками по умолчанию.
func Validate(target, schema map[string]any) error {
	return NewValidator().Validate(target, schema)
}

func (v *Validator) validateNode(target, schema map[string]any, prefix string) *Error {
	for _, key := range sortedKeys(target) {
		if _, ok := schema[key]; ok {
			continue
		}
		switch v.unknown {
		case UnknownDelete:
			delete(target, key)
		case UnknownError:
			return &Error{Key: joinKey(prefix, key), Source: SourceTarget, Message: "ключ не описан в схеме"}
		case UnknownIgnore:
		}
	}

	for _, key := range sortedKeys(schema) {
		path := joinKey(prefix, key)
		node, ok := schema[key].(map[string]any)
		if !ok {
			return &Error{Key: path, Source: SourceSchema, Message: "узел схемы должен быть объектом"}
		}

		if _, isLeaf := node["type"]; isLeaf {
			if err := checkLeafShape(node, path); err != nil {
				return err
			}
			value, present := target[key]
			if !present {
				def, hasDefault := node["default"]
				if !hasDefault {
					return &Error{Key: path, Source: SourceTarget, Message: "обязательный ключ отсутствует"}
				}
				target[key] = deepCopy(def)
				continue
			}
			if err := v.checkLeaf(value, node, path); err != nil {
				return err
			}
			continue
		}

		child, present := target[key]
		if !present {
			child = map[string]any{}
			target[key] = child
		}
		childMap, ok := child.(map[string]any)
		if !ok || childMap == nil {
			return &Error{Key: path, Source: SourceTarget, Message: "значение должно быть объектом"}
		}
		if err := v.validateNode(childMap, node, path); err != nil {
			return err
		}
	}
	return nil
}

// checkLeafShape отсекает узлы, смешивающие лист и внутренний узел.
func checkLeafShape(node map[string]any, path string) *Error {
	for k, val := range node {
		if _, ok := leafKeys[k]; ok {
			continue
		}
		if _, nested := val.(map[string]any); nested {
			return &Error{Key: path, Source: SourceSchema, Message: "узел смешивает лист и вложенные ключи"}
		}
		return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("недопустимый ключ листа %q", k)}
	}
	if _, ok := node["type"].(string); !ok {
		return &Error{Key: path, Source: SourceSchema, Message: "type должен быть строкой"}
	}
	return nil
}

func (v *Validator) checkLeaf(value any, node map[string]any, path string) *Error {
	typ, _ := node["type"].(string)
	switch typ {
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return targetErr(path, "ожидается логическое значение")
		}
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return targetErr(path, "ожидается строка")
		}
		return v.checkPattern(s, node, path)
	case TypeSemver:
		s, ok := value.(string)
		if !ok {
			return targetErr(path, "ожидается строка с версией")
		}
		if _, err := semver.NewVersion(s); err != nil {
			return targetErr(path, fmt.Sprintf("некорректная версия %q", s))
		}
	case TypeNumber:
		return checkNumber(value, node, path)
	case TypeDropdown:
		options, ok := node["options"].([]any)
		if !ok {
			return &Error{Key: path, Source: SourceSchema, Message: "dropdown требует список options"}
		}
		for _, opt := range options {
			if reflect.DeepEqual(normalizeNumber(opt), normalizeNumber(value)) {
				return nil
			}
		}
		return targetErr(path, fmt.Sprintf("значение %v не входит в список допустимых", value))
	case TypeObject:
		m, ok := value.(map[string]any)
		if !ok || m == nil {
			return targetErr(path, "ожидается объект")
		}
	case TypeArray:
		if value == nil || reflect.TypeOf(value).Kind() != reflect.Slice {
			return targetErr(path, "ожидается массив")
		}
	default:
		return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("неизвестный тип %q", typ)}
	}
	return nil
}

func (v *Validator) checkPattern(s string, node map[string]any, path string) *Error {
	raw, ok := node["pattern"]
	if !ok {
		return nil
	}
	pattern, ok := raw.(string)
	if !ok {
		return &Error{Key: path, Source: SourceSchema, Message: "pattern должен быть строкой"}
	}
	re, err := v.compile(pattern)
	if err != nil {
		return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("некорректный pattern: %v", err)}
	}
	if !re.MatchString(s) {
		return targetErr(path, fmt.Sprintf("значение не соответствует шаблону %s", pattern))
	}
	return nil
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := v.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil //nolint:errcheck // в кеше только *regexp.Regexp
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(pattern, re)
	return re, nil
}

func checkNumber(value any, node map[string]any, path string) *Error {
	n, ok := toFloat(value)
	if !ok {
		return targetErr(path, "ожидается число")
	}
	bounds := map[string]float64{}
	for _, k := range []string{"min", "max", "step"} {
		raw, present := node[k]
		if !present {
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			return &Error{Key: path, Source: SourceSchema, Message: fmt.Sprintf("%s должен быть числом", k)}
		}
		bounds[k] = f
	}
	if lo, ok := bounds["min"]; ok && n < lo {
		return targetErr(path, fmt.Sprintf("значение меньше минимума %v", lo))
	}
	if hi, ok := bounds["max"]; ok && n > hi {
		return targetErr(path, fmt.Sprintf("значение больше максимума %v", hi))
	}
	if step, ok := bounds["step"]; ok {
		if step <= 0 {
			return &Error{Key: path, Source: SourceSchema, Message: "step должен быть положительным"}
		}
		rem := math.Mod(math.Abs(n-bounds["min"]), step)
		if rem > stepEpsilon && step-rem > stepEpsilon {
			return targetErr(path, fmt.Sprintf("значение не кратно шагу %v", step))
		}
	}
	return nil
}

func targetErr(path, msg string) *Error {
	return &Error{Key: path, Source: SourceTarget, Message: msg}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func normalizeNumber(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// deepCopy копирует значения по умолчанию, чтобы данные не делили
// изменяемые значения со схемой.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
