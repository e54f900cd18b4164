// Package session содержит файловую реализацию tdsession.Storage.
// Используется временным клиентом входа: сессия живёт в отдельном файле,
// после входа выгружается в артефакт, а сам файл удаляется.
package session

import (
	"context"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"delivery-userbot/internal/infra/logger"
	"delivery-userbot/internal/infra/storage"

	"go.uber.org/zap"
)

// FileStorage реализует tdsession.Storage поверх одного файла.
// Операции защищены мьютексом, запись атомарная.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии. Отсутствие файла: tdsession.ErrNotFound.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return errors.Wrap(err, "atomic write session")
	}
	logger.Debug("Session stored", zap.String("path", f.Path), zap.Int("bytes", len(data)))
	return nil
}

// Remove удаляет файл сессии; отсутствующий файл ошибкой не считается.
func (f *FileStorage) Remove() error {
	if f == nil {
		return nil
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	return storage.RemoveFile(f.Path)
}
