package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Normalize убирает общий каталог верхнего уровня, если все записи архива
// лежат внутри него. Так архив папки проекта и архив ее содержимого дают
// одинаковый результат. Возвращает архив и признак перезаписи.
func Normalize(data []byte) (*Archive, bool, error) {
	a, err := Open(data)
	if err != nil {
		return nil, false, err
	}

	prefix, ok := commonRoot(a.files)
	if !ok {
		return a, false, nil
	}

	rewritten, err := stripRoot(a, prefix)
	if err != nil {
		return nil, false, err
	}
	out, err := Open(rewritten)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения перезаписанного архива: %w", err)
	}
	return out, true, nil
}

// commonRoot возвращает единственный каталог верхнего уровня, если ни одна
// запись не лежит в корне.
func commonRoot(files []string) (string, bool) {
	if len(files) == 0 {
		return "", false
	}
	root := ""
	for _, name := range files {
		idx := strings.Index(name, "/")
		if idx <= 0 {
			return "", false
		}
		top := name[:idx]
		if root == "" {
			root = top
			continue
		}
		if top != root {
			return "", false
		}
	}
	return root, true
}

func stripRoot(a *Archive, root string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for i, f := range a.reader.File {
		name := strings.TrimPrefix(a.files[i], root+"/")
		if name == "" {
			// Запись самого каталога.
			continue
		}

		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		}
		header.SetMode(f.Mode())
		if f.FileInfo().IsDir() {
			header.Method = zip.Store
			if !strings.HasSuffix(header.Name, "/") {
				header.Name += "/"
			}
		}

		dst, err := w.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("ошибка записи заголовка '%s': %w", name, err)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if err = copyEntry(dst, f); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ошибка завершения архива: %w", err)
	}
	return buf.Bytes(), nil
}

func copyEntry(dst io.Writer, f *zip.File) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("ошибка открытия '%s': %w", f.Name, err)
	}
	defer src.Close()
	if _, err = io.Copy(dst, io.LimitReader(src, MaxUncompressedSize)); err != nil {
		return fmt.Errorf("ошибка копирования '%s': %w", f.Name, err)
	}
	return nil
}
