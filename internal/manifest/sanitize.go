package manifest

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer удаляет разметку и исполняемое содержимое из строк манифеста.
type Sanitizer struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

// NewSanitizer создает санитайзер: строгая политика для коротких полей,
// UGC-политика для длинного описания.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// Text очищает обычное строковое поле.
func (s *Sanitizer) Text(v string) string {
	return clean(s.strict, v)
}

// Description очищает длинное описание, сохраняя безопасную разметку.
func (s *Sanitizer) Description(v string) string {
	return clean(s.ugc, v)
}

// Value рекурсивно очищает строки (и ключи) во вложенных структурах.
func (s *Sanitizer) Value(v any) any {
	switch t := v.(type) {
	case string:
		return s.Text(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[s.Text(k)] = s.Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.Value(val)
		}
		return out
	default:
		return v
	}
}

// clean возвращает текст без экранирования, если он стабилен относительно
// политики, иначе экранированный результат политики. Так ">=1.0.0"
// остается как есть, а экранированный тег не превращается обратно в тег.
func clean(p *bluemonday.Policy, v string) string {
	sanitized := p.Sanitize(v)
	plain := html.UnescapeString(sanitized)
	if html.UnescapeString(p.Sanitize(plain)) == plain {
		return plain
	}
	return sanitized
}
