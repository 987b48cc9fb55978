package models

// UploadRequest - JSON-вариант загрузки, архив передается в base64.
type UploadRequest struct {
	Filename   string `json:"filename"`
	Data       string `json:"data"`
	AuthorID   string `json:"authorID"`
	AuthorName string `json:"authorName"`
	Confirm    bool   `json:"confirm"`
}

// VersionList - список версий одного мода.
type VersionList struct {
	ModID    string   `json:"modID"`
	Versions []string `json:"versions"`
}

// AuthorProfile - автор вместе с его модами.
type AuthorProfile struct {
	Author Author     `json:"author"`
	Mods   []ModEntry `json:"mods"`
}

