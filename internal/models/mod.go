package models

import "time"

// ModEntry - текущая проекция мода: одна запись на modID с последним
// принятым манифестом.
type ModEntry struct {
	ModID      string    `db:"mod_id" json:"modID"`
	Manifest   Manifest  `db:"manifest" json:"manifest"`
	AuthorID   string    `db:"author_id" json:"authorID"`
	AuthorName string    `db:"author_name" json:"authorName"`
	UploadTime time.Time `db:"upload_time" json:"uploadTime"`
	Votes      int64     `db:"votes" json:"votes"`
	Verified   bool      `db:"verified" json:"verified"`
	// Seq увеличивается при каждой перезаписи проекции и используется
	// для условного обновления.
	Seq int64 `db:"seq" json:"-"`
}

// Version возвращает закешированную в проекции версию.
func (m *ModEntry) Version() string {
	return m.Manifest.Version
}

// VerifiedFilter задает фильтр поиска по состоянию проверки.
type VerifiedFilter int

const (
	VerifiedOnly VerifiedFilter = iota
	UnverifiedOnly
	VerifiedAny
)

// ModSearch описывает параметры поиска по модам.
type ModSearch struct {
	Query    string
	Tags     []string
	Verified VerifiedFilter
	Limit    int
	Offset   int
	// Page - номер страницы с 1. Если больше 1, смещение считается
	// от итогового Limit и заменяет Offset.
	Page int
}

// ModPage - страница результатов поиска вместе с версиями каждого мода.
type ModPage struct {
	Mods     []ModEntry          `json:"mods"`
	Versions map[string][]string `json:"versions"`
	Total    int64               `json:"total"`
}
