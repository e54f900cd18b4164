package tgclient

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
	tgsession "delivery-userbot/internal/infra/telegram/session"
)

// loginHandle: временный клиент входа. Код и пароль подтверждаются на одном
// и том же клиенте: phone code hash привязан к его auth key.
type loginHandle struct {
	creds account.Credentials
	store *tgsession.FileStorage
	run   *runner

	closeOnce sync.Once
	closeErr  error
}

var _ transport.LoginHandle = (*loginHandle)(nil)

func (h *loginHandle) SendCode(ctx context.Context) (string, error) {
	sent, err := h.run.client.Auth().SendCode(ctx, h.creds.Phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (h *loginHandle) SignIn(ctx context.Context, code, codeHash string) error {
	_, err := h.run.client.Auth().SignIn(ctx, h.creds.Phone, code, codeHash)
	return mapError(err)
}

func (h *loginHandle) Password(ctx context.Context, password string) error {
	_, err := h.run.client.Auth().Password(ctx, password)
	return mapError(err)
}

// Export читает файл сессии, который клиент записал после авторизации.
func (h *loginHandle) Export(ctx context.Context) (account.Artifact, error) {
	raw, err := h.store.LoadSession(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read login session")
	}
	return EncodeArtifact(raw)
}

// Close останавливает клиент и удаляет временный файл сессии.
func (h *loginHandle) Close() error {
	h.closeOnce.Do(func() {
		stopErr := h.run.stop()
		rmErr := h.store.Remove()
		if rmErr != nil {
			logger.Warnf("Remove temp session %s: %v", h.store.Path, rmErr)
		}
		h.closeErr = stopErr
		if h.closeErr == nil {
			h.closeErr = rmErr
		}
	})
	return h.closeErr
}
