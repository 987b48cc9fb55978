// Package compress сжимает архивы модов перед сохранением.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DefaultLevel - уровень сжатия по умолчанию (в шкале zstd 1..22).
const DefaultLevel = 9

// ContentType - тип содержимого сжатых архивов.
const ContentType = "application/zstd"

// Compressor сжимает данные.
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
}

// Zstd реализует Compressor на zstd.
type Zstd struct{}

var _ Compressor = Zstd{}

// Compress сжимает data. level задается в шкале zstd и приводится к
// ближайшему уровню энкодера.
func (Zstd) Compress(data []byte, level int) ([]byte, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания энкодера zstd: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress распаковывает данные, сжатые Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания декодера zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки zstd: %w", err)
	}
	return out, nil
}

// NewReader возвращает потоковый распаковщик поверх r. Закрытие
// освобождает и декодер, и r.
func NewReader(r io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("ошибка создания декодера zstd: %w", err)
	}
	return &decodeReader{dec: dec, src: r}, nil
}

type decodeReader struct {
	dec *zstd.Decoder
	src io.Closer
}

func (d *decodeReader) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *decodeReader) Close() error {
	d.dec.Close()
	return d.src.Close()
}
