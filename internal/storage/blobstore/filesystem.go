package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/vault-module/internal/storage/contenthash"
)

// FilesystemStore - хранилище объектов на локальном диске.
// Путь объекта: {dataDir}/{id[0:2]}/{id[2:4]}/{id}.
type FilesystemStore struct {
	dataDir string
}

// NewFilesystemStore создаёт хранилище. Создаёт dataDir, если её нет.
func NewFilesystemStore(dataDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FilesystemStore{dataDir: dataDir}, nil
}

// objectPath возвращает путь объекта на диске.
func (fs *FilesystemStore) objectPath(contentID string) string {
	return filepath.Join(fs.dataDir, contentID[0:2], contentID[2:4], contentID)
}

// Put записывает объект, если его ещё нет.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Конкурентные Put одного содержимого безопасны: rename заменяет
// файл идентичными байтами.
func (fs *FilesystemStore) Put(ctx context.Context, in PutInput) (*PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !contenthash.Valid(in.ContentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentID, in.ContentID)
	}

	fullPath := fs.objectPath(in.ContentID)
	if info, err := os.Stat(fullPath); err == nil {
		return &PutResult{Locator: fs.locator(fullPath), Size: info.Size(), Created: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("%w: ошибка создания директории: %v", ErrUnavailable, err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), in.ContentID+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка создания временного файла: %v", ErrUnavailable, err)
	}
	tmpPath := f.Name()

	// Запись с подсчётом SHA-256: под ключом content id не может
	// оказаться чужое содержимое
	digest, err := contenthash.Sum(io.TeeReader(in.Body, f))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка записи данных: %v", ErrUnavailable, err)
	}
	if digest.ContentID != in.ContentID {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ожидался %s, получен %s", ErrContentMismatch, in.ContentID, digest.ContentID)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка fsync: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка закрытия файла: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка атомарного переименования: %v", ErrUnavailable, err)
	}

	return &PutResult{Locator: fs.locator(fullPath), Size: digest.Size, Created: true}, nil
}

// Delete удаляет объект. Возвращает nil, если объекта уже нет.
func (fs *FilesystemStore) Delete(ctx context.Context, contentID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !contenthash.Valid(contentID) {
		return fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}

	err := os.Remove(fs.objectPath(contentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: ошибка удаления объекта %s: %v", ErrUnavailable, contentID, err)
	}
	return nil
}

// Open открывает объект для чтения.
func (fs *FilesystemStore) Open(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !contenthash.Valid(contentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}

	f, err := os.Open(fs.objectPath(contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
		}
		return nil, fmt.Errorf("%w: ошибка открытия объекта %s: %v", ErrUnavailable, contentID, err)
	}
	return f, nil
}

// Exists проверяет наличие объекта на диске.
func (fs *FilesystemStore) Exists(_ context.Context, contentID string) (bool, error) {
	if !contenthash.Valid(contentID) {
		return false, fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}
	_, err := os.Stat(fs.objectPath(contentID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Check проверяет, что директория данных доступна.
func (fs *FilesystemStore) Check(_ context.Context) error {
	info, err := os.Stat(fs.dataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s не является директорией", ErrUnavailable, fs.dataDir)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (fs *FilesystemStore) DataDir() string {
	return fs.dataDir
}

func (fs *FilesystemStore) locator(fullPath string) string {
	return "file://" + filepath.ToSlash(fullPath)
}
