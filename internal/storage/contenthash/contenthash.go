// Пакет contenthash - вычисление content id (SHA-256) загружаемых данных.
// Spool записывает поток во временный файл с подсчётом SHA-256 на лету,
// чтобы content id был известен до отправки в хранилище объектов.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Длина content id в hex-символах.
const idLength = sha256.Size * 2

// ErrTooLarge - поток превышает допустимый размер.
var ErrTooLarge = errors.New("размер данных превышает допустимый")

// Digest - content id и размер потока.
type Digest struct {
	// ContentID - SHA-256 содержимого в нижнем регистре hex
	ContentID string
	// Size - количество прочитанных байт
	Size int64
}

// Sum вычисляет Digest по всему потоку.
func Sum(r io.Reader) (Digest, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, fmt.Errorf("ошибка чтения данных: %w", err)
	}
	return Digest{ContentID: hex.EncodeToString(hasher.Sum(nil)), Size: n}, nil
}

// Valid проверяет формат content id: 64 символа [0-9a-f].
func Valid(contentID string) bool {
	if len(contentID) != idLength {
		return false
	}
	for i := 0; i < len(contentID); i++ {
		c := contentID[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SpoolFile - временный файл с вычисленным Digest.
// Вызывающий код обязан вызвать Remove.
type SpoolFile struct {
	Digest
	// Path - путь к временному файлу
	Path string
}

// Spool записывает данные из reader во временный файл в dir
// с подсчётом SHA-256 на лету.
// maxSize > 0 ограничивает размер: при превышении возвращается ErrTooLarge.
//
// Паттерн: temp файл → запись + SHA-256 → fsync.
// При ошибке temp файл удаляется.
func Spool(r io.Reader, dir string, maxSize int64) (*SpoolFile, error) {
	f, err := os.CreateTemp(dir, "vault-upload-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	src := r
	if maxSize > 0 {
		// +1 байт, чтобы отличить «ровно maxSize» от превышения
		src = io.LimitReader(r, maxSize+1)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if maxSize > 0 && size > maxSize {
		cleanup()
		return nil, fmt.Errorf("%w: более %d байт", ErrTooLarge, maxSize)
	}

	if err := f.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &SpoolFile{
		Digest: Digest{
			ContentID: hex.EncodeToString(hasher.Sum(nil)),
			Size:      size,
		},
		Path: tmpPath,
	}, nil
}

// Open открывает временный файл для чтения.
func (s *SpoolFile) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// Remove удаляет временный файл. Повторный вызов безопасен.
func (s *SpoolFile) Remove() error {
	err := os.Remove(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления временного файла %s: %w", s.Path, err)
	}
	return nil
}
