// Package storage содержит утилиты работы с локальными файлами, в которых лежат данные,
// способные сами по себе авторизоваться в Telegram (файлы временных сессий входа).
// Поэтому права всегда 0600/0700, а запись атомарна.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"delivery-userbot/internal/infra/logger"
)

// DefaultFilePerm задаёт права итоговых файлов: только владелец процесса.
const DefaultFilePerm os.FileMode = 0o600

// EnsureDir гарантирует наличие каталога для файла path (права 0700).
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile пишет data во временный файл рядом с path, делает fsync,
// выставляет DefaultFilePerm и переименовывает поверх path. Либо старое
// содержимое остаётся целым, либо новое записано полностью.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// fsync каталога: best effort, на части ФС не поддерживается.
	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Debugf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}

// RemoveFile удаляет файл; отсутствие файла ошибкой не считается.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
