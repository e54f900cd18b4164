package tgclient

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"

	"delivery-userbot/internal/domain/account"
)

// artifactPrefix версионирует формат: за ним идёт base64 от JSON-сессии gotd.
const artifactPrefix = "v1:"

// ErrBadArtifact: строку нельзя превратить в сессию.
var ErrBadArtifact = errors.New("malformed session artifact")

// EncodeArtifact упаковывает сырые данные tdsession.Storage в переносимую строку.
func EncodeArtifact(raw []byte) (account.Artifact, error) {
	if len(raw) == 0 {
		return "", errors.Wrap(ErrBadArtifact, "empty session")
	}
	return account.Artifact(artifactPrefix + base64.StdEncoding.EncodeToString(raw)), nil
}

// DecodeArtifact возвращает сырые данные сессии из артефакта.
func DecodeArtifact(a account.Artifact) ([]byte, error) {
	s := strings.TrimSpace(string(a))
	if !strings.HasPrefix(s, artifactPrefix) {
		return nil, errors.Wrap(ErrBadArtifact, "unknown format")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, artifactPrefix))
	if err != nil {
		return nil, errors.Wrap(ErrBadArtifact, err.Error())
	}
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrBadArtifact, "empty session")
	}
	return raw, nil
}

// memoryStorage поднимает сессию из артефакта в память для постоянного клиента.
func memoryStorage(ctx context.Context, a account.Artifact) (*session.StorageMemory, error) {
	raw, err := DecodeArtifact(a)
	if err != nil {
		return nil, err
	}
	mem := new(session.StorageMemory)
	if err := mem.StoreSession(ctx, raw); err != nil {
		return nil, errors.Wrap(err, "load session into memory")
	}
	return mem, nil
}

// ImportTelethon переводит строковую сессию Telethon в артефакт. Нужен, чтобы
// подключить уже авторизованный где-то ещё аккаунт без повторного входа.
func ImportTelethon(ctx context.Context, str string) (account.Artifact, error) {
	data, err := session.TelethonSession(strings.TrimSpace(str))
	if err != nil {
		return "", errors.Wrap(err, "decode telethon session")
	}
	mem := new(session.StorageMemory)
	loader := session.Loader{Storage: mem}
	if err := loader.Save(ctx, data); err != nil {
		return "", errors.Wrap(err, "convert telethon session")
	}
	raw, err := mem.LoadSession(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read converted session")
	}
	return EncodeArtifact(raw)
}
