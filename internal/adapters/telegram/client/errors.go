package tgclient

import (
	"context"
	"io"
	"net"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"delivery-userbot/internal/domain/transport"
)

// Коды ошибок Telegram, которые домен различает.
var (
	codeInvalid     = []string{"PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"}
	codeExpired     = []string{"PHONE_CODE_EXPIRED"}
	phoneInvalid    = []string{"PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_FLOOD"}
	passwordInvalid = []string{"PASSWORD_HASH_INVALID"}
	notRegistered   = []string{"PHONE_NUMBER_UNOCCUPIED"}
	sessionDead     = []string{
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"AUTH_KEY_DUPLICATED",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	}
	usernameMissing = []string{"USERNAME_NOT_OCCUPIED"}
	usernameBad     = []string{"USERNAME_INVALID"}
	peerFlood       = []string{"PEER_FLOOD"}
)

// mapError переводит ошибку gotd в таксономию transport. Исходная ошибка
// остаётся в цепочке для логов.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &transport.RateLimitError{Wait: wait, Err: err}
	}
	if tgerr.Is(err, peerFlood...) {
		return &transport.RateLimitError{Err: err}
	}

	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return wrap(transport.ErrPasswordNeeded, err)
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, passwordInvalid...):
		return wrap(transport.ErrInvalidPassword, err)
	case tgerr.Is(err, codeInvalid...):
		return wrap(transport.ErrInvalidCode, err)
	case tgerr.Is(err, codeExpired...):
		return wrap(transport.ErrCodeExpired, err)
	case tgerr.Is(err, phoneInvalid...):
		return wrap(transport.ErrInvalidPhone, err)
	case tgerr.Is(err, notRegistered...):
		return wrap(transport.ErrNotRegistered, err)
	case tgerr.Is(err, sessionDead...):
		return wrap(transport.ErrSessionExpired, err)
	case tgerr.Is(err, usernameMissing...):
		return wrap(transport.ErrUsernameNotFound, err)
	case tgerr.Is(err, usernameBad...):
		return wrap(transport.ErrUsernameInvalid, err)
	}

	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return wrap(transport.ErrNotRegistered, err)
	}
	if isNetwork(err) {
		return wrap(transport.ErrConnection, err)
	}
	return err
}

func isNetwork(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// mappedError держит sentinel домена и исходную ошибку gotd.
type mappedError struct {
	kind  error
	cause error
}

func (e *mappedError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *mappedError) Is(target error) bool { return target == e.kind }

func (e *mappedError) Unwrap() error { return e.cause }

func wrap(kind, cause error) error {
	return &mappedError{kind: kind, cause: cause}
}
