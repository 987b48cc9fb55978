package models

import "time"

// ModVersionEntry - неизменяемая запись об одной принятой загрузке.
// Сжатый архив лежит в объектном хранилище по ключу ObjectKey.
type ModVersionEntry struct {
	ID            int64     `db:"id" json:"id"`
	ModID         string    `db:"mod_id" json:"modID"`
	Version       string    `db:"version" json:"version"`
	ObjectKey     string    `db:"object_key" json:"-"`
	Checksum      string    `db:"checksum" json:"checksum"`
	SizeBytes     int64     `db:"size_bytes" json:"size"`
	Manifest      Manifest  `db:"manifest" json:"manifest"`
	UploadTime    time.Time `db:"upload_time" json:"uploadTime"`
	DownloadCount int64     `db:"download_count" json:"downloadCount"`
	// Payload заполняется только по явному запросу.
	Payload []byte `db:"-" json:"-"`
}

// LatestVersion - специальное значение версии для запроса последней версии.
const LatestVersion = "latest"
