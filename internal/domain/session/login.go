package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
)

// LoginState возвращает текущее состояние машины входа.
func (m *Manager) LoginState() LoginState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loginState
}

// StartLogin открывает временный клиент и запрашивает код (NEW → CODE_REQUESTED).
// Незавершённый предыдущий вход закрывается. Из FAILED можно начинать заново.
func (m *Manager) StartLogin(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	if !m.record.HasCredentials() {
		return ErrNotConfigured
	}
	creds := m.record.Credentials
	m.closeLoginHandleLocked()

	handle, err := m.dialer.OpenLogin(ctx, creds)
	if err != nil {
		m.update(func() {
			m.loginState = LoginFailed
			m.lastErr = err.Error()
		})
		return errors.Wrap(err, "open login client")
	}
	m.update(func() { m.login = &loginSession{creds: creds, handle: handle} })

	hash, err := handle.SendCode(ctx)
	if err != nil {
		m.failLoginLocked(err)
		return errors.Wrap(err, "send code")
	}

	m.update(func() {
		m.login.codeHash = hash
		m.loginState = LoginCodeRequested
	})
	m.log().Info("Verification code requested")
	return nil
}

// SubmitCode проверяет формат кода локально и подтверждает его
// (CODE_REQUESTED → CODE_SUBMITTED → AUTHENTICATED | 2FA_REQUIRED | FAILED).
func (m *Manager) SubmitCode(ctx context.Context, code string) (LoginState, error) {
	clean, err := account.ValidateCode(code)
	if err != nil {
		return m.LoginState(), err
	}

	m.op.Lock()
	defer m.op.Unlock()

	if m.login == nil || m.loginState != LoginCodeRequested {
		return m.loginState, errors.Wrapf(ErrNoLogin, "code is not expected in state %s", m.loginState)
	}
	m.update(func() { m.loginState = LoginCodeSubmitted })

	err = m.login.handle.SignIn(ctx, clean, m.login.codeHash)
	switch {
	case err == nil:
		return m.completeLoginLocked(ctx)
	case errors.Is(err, transport.ErrPasswordNeeded):
		// Временный клиент не закрываем: пароль проверяется на нём же.
		m.update(func() { m.loginState = LoginPasswordRequired })
		m.log().Info("Two-factor password required")
		return LoginPasswordRequired, nil
	default:
		m.failLoginLocked(err)
		return LoginFailed, err
	}
}

// SubmitPassword проверяет пароль второго фактора (2FA_REQUIRED → PASSWORD_SUBMITTED → AUTHENTICATED | FAILED).
func (m *Manager) SubmitPassword(ctx context.Context, password string) (LoginState, error) {
	if err := account.ValidatePassword(password); err != nil {
		return m.LoginState(), err
	}

	m.op.Lock()
	defer m.op.Unlock()

	if m.login == nil || m.loginState != LoginPasswordRequired {
		return m.loginState, errors.Wrapf(ErrNoLogin, "password is not expected in state %s", m.loginState)
	}
	m.update(func() { m.loginState = LoginPasswordSubmitted })

	if err := m.login.handle.Password(ctx, password); err != nil {
		m.failLoginLocked(err)
		return LoginFailed, err
	}
	return m.completeLoginLocked(ctx)
}

// AbortLogin бросает незавершённый вход и закрывает временный клиент.
func (m *Manager) AbortLogin() {
	m.op.Lock()
	defer m.op.Unlock()

	if m.login == nil {
		return
	}
	m.closeLoginHandleLocked()
	m.update(func() { m.loginState = LoginNew })
	m.log().Info("Login abandoned")
}

// completeLoginLocked выгружает артефакт, закрывает временный клиент и сохраняет запись.
// Ошибка сохранения не отменяет входа: артефакт остаётся в памяти и виден в статусе.
func (m *Manager) completeLoginLocked(ctx context.Context) (LoginState, error) {
	artifact, err := m.login.handle.Export(ctx)
	if err == nil && artifact == "" {
		err = errors.New("empty session artifact")
	}
	if err != nil {
		m.failLoginLocked(err)
		return LoginFailed, errors.Wrap(err, "export session")
	}

	creds := m.login.creds
	m.closeLoginHandleLocked()
	if err := m.disconnectLocked(); err != nil {
		m.log().Warn("Disconnect of previous session failed", zap.Error(err))
	}

	rec := account.Record{Credentials: creds, Session: artifact}
	m.update(func() {
		m.record = rec
		m.loginState = LoginAuthenticated
		m.state.RetryCount = 0
		m.state.LastAttempt = time.Time{}
		m.lastErr = ""
	})
	m.log().Info("Login completed")

	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			return LoginAuthenticated, errors.Wrap(err, "save session")
		}
	}
	return LoginAuthenticated, nil
}

// failLoginLocked переводит вход в FAILED и обязательно закрывает временный клиент.
func (m *Manager) failLoginLocked(err error) {
	m.closeLoginHandleLocked()
	m.update(func() {
		m.loginState = LoginFailed
		m.lastErr = err.Error()
	})
	m.log().Warn("Login failed", zap.Error(err))
}

func (m *Manager) closeLoginHandleLocked() {
	login := m.login
	m.update(func() { m.login = nil })
	if login == nil || login.handle == nil {
		return
	}
	if err := login.handle.Close(); err != nil {
		m.log().Warn("Close login client failed", zap.Error(err))
	}
}
