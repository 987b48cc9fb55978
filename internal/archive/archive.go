// Package archive открывает загруженные zip-архивы модов и приводит их
// к единой структуре.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// MaxUncompressedSize ограничивает суммарный распакованный размер архива.
const MaxUncompressedSize = 256 << 20

// Ошибки архива. Все они считаются ошибками входных данных.
var (
	ErrInvalidArchive = errors.New("файл не является zip-архивом")
	ErrTooLarge       = errors.New("распакованный архив слишком большой")
	ErrFileNotFound   = errors.New("файл не найден в архиве")
)

// Archive - прочитанный в память zip-архив.
type Archive struct {
	data   []byte
	reader *zip.Reader
	files  []string
	byName map[string]*zip.File
}

// Open разбирает архив из байтов.
func Open(data []byte) (*Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	var total uint64
	a := &Archive{
		data:   data,
		reader: reader,
		files:  make([]string, 0, len(reader.File)),
		byName: make(map[string]*zip.File, len(reader.File)),
	}
	for _, f := range reader.File {
		total += f.UncompressedSize64
		if total > MaxUncompressedSize {
			return nil, ErrTooLarge
		}
		name := normalizePath(f.Name)
		a.files = append(a.files, name)
		a.byName[name] = f
	}
	return a, nil
}

// Files возвращает пути всех записей с разделителем "/".
func (a *Archive) Files() []string {
	out := make([]string, len(a.files))
	copy(out, a.files)
	return out
}

// Bytes возвращает содержимое архива.
func (a *Archive) Bytes() []byte {
	return a.data
}

// ReadFile читает запись архива по нормализованному пути.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия '%s': %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxUncompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения '%s': %w", name, err)
	}
	if len(data) > MaxUncompressedSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func normalizePath(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}
