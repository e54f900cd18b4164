// Package session содержит менеджер сессии одного userbot-аккаунта.
// Отвечает за:
//   - машину состояний входа (код → опциональный 2FA → артефакт сессии);
//   - подключение по сохранённому артефакту с проверкой живости через Self;
//   - политику переподключения с ограничением попыток и паузой между ними;
//   - снимок состояния для статуса.
//
// Сетевые операции сериализуются мьютексом op: два вызова не могут одновременно
// открыть подключение и «потерять» один из клиентов. Снимок состояния защищён
// отдельным mu, поэтому Status() не ждёт окончания долгих сетевых вызовов.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
	"delivery-userbot/internal/infra/retry"
)

// LoginState: состояние машины входа.
type LoginState string

const (
	LoginNew               LoginState = "NEW"
	LoginCodeRequested     LoginState = "CODE_REQUESTED"
	LoginCodeSubmitted     LoginState = "CODE_SUBMITTED"
	LoginPasswordRequired  LoginState = "2FA_REQUIRED"
	LoginPasswordSubmitted LoginState = "PASSWORD_SUBMITTED"
	LoginAuthenticated     LoginState = "AUTHENTICATED"
	LoginFailed            LoginState = "FAILED"
)

// Configuration: насколько запись аккаунта заполнена.
type Configuration string

const (
	NotConfigured Configuration = "not_configured"
	NoSession     Configuration = "no_session"
	Ready         Configuration = "ready"
)

var (
	ErrNotConfigured    = errors.New("account credentials are not configured")
	ErrNoSession        = errors.New("no session artifact, login required")
	ErrNotConnected     = errors.New("not connected")
	ErrReconnectRefused = errors.New("not connected, retry limit or cooldown in effect")
	ErrNoLogin          = errors.New("no login in progress")
)

// CredentialStore: внешнее хранилище записи аккаунта. Менеджер читает его при
// Init и пишет при смене учётных данных и успешном входе.
type CredentialStore interface {
	Load(ctx context.Context) (account.Record, bool, error)
	Save(ctx context.Context, rec account.Record) error
}

// Config: политика переподключения.
type Config struct {
	Name          string
	AutoReconnect bool
	MaxRetries    int
	RetryDelay    time.Duration
}

// ConnectionState: изменяется только менеджером.
// Authenticated без Connected не бывает.
type ConnectionState struct {
	Connected        bool
	Authenticated    bool
	RetryCount       int
	LastAttempt      time.Time
	RateLimitedUntil time.Time
}

// Status: снимок для опроса, без побочных эффектов.
type Status struct {
	Account          string
	Phone            string
	Connected        bool
	Authenticated    bool
	HasCredentials   bool
	HasSession       bool
	RetryCount       int
	MaxRetries       int
	LoginState       LoginState
	Configuration    Configuration
	LastError        string
	LastAttempt      time.Time
	RateLimitedUntil time.Time
}

type loginSession struct {
	creds    account.Credentials
	codeHash string
	handle   transport.LoginHandle
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleeper подменяет ожидание flood wait.
func WithSleeper(s retry.Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// Manager: менеджер сессии одного аккаунта.
type Manager struct {
	cfg    Config
	dialer transport.Dialer
	store  CredentialStore
	now    func() time.Time
	sleep  retry.Sleeper

	op sync.Mutex

	mu         sync.RWMutex
	record     account.Record
	login      *loginSession
	loginState LoginState
	conn       transport.Conn
	state      ConnectionState
	lastErr    string
}

// New создаёт менеджер. store может быть nil: тогда запись живёт только в памяти.
func New(dialer transport.Dialer, store CredentialStore, cfg Config, opts ...Option) *Manager {
	if dialer == nil {
		panic("session: dialer must not be nil")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		store:      store,
		now:        time.Now,
		sleep:      retry.Sleep,
		loginState: LoginNew,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name: имя аккаунта в пуле.
func (m *Manager) Name() string { return m.cfg.Name }

func (m *Manager) log() *zap.Logger {
	return logger.Logger().With(zap.String("account", m.cfg.Name))
}

// update применяет fn к полям состояния под mu.
func (m *Manager) update(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// Init загружает запись из хранилища. Отсутствие записи: не ошибка.
// Запись с учётными данными, не прошедшими локальную проверку, не принимается:
// аккаунт остаётся ненастроенным до нового SetCredentials.
func (m *Manager) Init(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	rec, ok, err := m.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load credentials")
	}
	if ok && rec.HasCredentials() {
		if err := rec.Credentials.Validate(); err != nil {
			m.log().Warn("Stored account record is invalid, credentials required", zap.Error(err))
			return nil
		}
	}
	if ok {
		m.update(func() { m.record = rec })
		m.log().Info("Account record loaded",
			zap.String("phone", logger.MaskPhone(rec.Phone)),
			zap.Bool("has_session", rec.HasSession()))
	}
	return nil
}

// Credentials возвращает текущие учётные данные, если они заданы.
func (m *Manager) Credentials() (account.Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Credentials, m.record.HasCredentials()
}

// SetCredentials проверяет и сохраняет новые учётные данные. Старая сессия и
// незавершённый вход отбрасываются: новая запись начинается без артефакта.
func (m *Manager) SetCredentials(ctx context.Context, creds account.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	m.op.Lock()
	defer m.op.Unlock()

	m.closeLoginHandleLocked()
	if err := m.disconnectLocked(); err != nil {
		m.log().Warn("Disconnect before credentials change failed", zap.Error(err))
	}

	rec := account.Record{Credentials: creds}
	m.update(func() {
		m.record = rec
		m.state = ConnectionState{}
		m.lastErr = ""
		m.loginState = LoginNew
	})
	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			return errors.Wrap(err, "save credentials")
		}
	}
	m.log().Info("Credentials updated", zap.String("phone", logger.MaskPhone(creds.Phone)))
	return nil
}

// Status возвращает снимок состояния.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfgState := Ready
	switch {
	case !m.record.HasCredentials():
		cfgState = NotConfigured
	case !m.record.HasSession():
		cfgState = NoSession
	}

	return Status{
		Account:          m.cfg.Name,
		Phone:            logger.MaskPhone(m.record.Phone),
		Connected:        m.state.Connected,
		Authenticated:    m.state.Authenticated,
		HasCredentials:   m.record.HasCredentials(),
		HasSession:       m.record.HasSession(),
		RetryCount:       m.state.RetryCount,
		MaxRetries:       m.cfg.MaxRetries,
		LoginState:       m.loginState,
		Configuration:    cfgState,
		LastError:        m.lastErr,
		LastAttempt:      m.state.LastAttempt,
		RateLimitedUntil: m.state.RateLimitedUntil,
	}
}

// Ready сообщает, что у аккаунта есть учётные данные и артефакт сессии.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readyLocked() == nil
}

// Messenger возвращает живое подключение для доставки.
func (m *Manager) Messenger() (transport.Messenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil || !m.state.Authenticated {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// Connect подключается по сохранённому артефакту. Успех фиксируется только
// после ответа на Self. Flood wait выдерживается, и подключение повторяется
// ровно один раз; эта попытка не учитывается в счётчике переподключений.
func (m *Manager) Connect(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.connectLocked(ctx)
}

// EnsureConnected: no-op для живого подключения. Иначе переподключается, только
// если это разрешено политикой: auto-reconnect включён, лимит попыток не исчерпан
// и выдержана пауза с прошлой попытки. Счётчик растёт до попытки и сбрасывается
// при успехе.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	if m.conn != nil && m.state.Connected && m.state.Authenticated {
		return nil
	}
	if err := m.readyLocked(); err != nil {
		return err
	}

	switch {
	case !m.cfg.AutoReconnect:
		return errors.Wrap(ErrReconnectRefused, "auto-reconnect disabled")
	case m.state.RetryCount >= m.cfg.MaxRetries:
		return errors.Wrapf(ErrReconnectRefused, "retry limit %d reached", m.cfg.MaxRetries)
	case !m.state.LastAttempt.IsZero() && m.now().Sub(m.state.LastAttempt) < m.cfg.RetryDelay:
		return errors.Wrap(ErrReconnectRefused, "cooldown")
	}

	m.update(func() { m.state.RetryCount++ })
	m.log().Info("Reconnecting",
		zap.Int("attempt", m.state.RetryCount),
		zap.Int("max_retries", m.cfg.MaxRetries))
	return m.connectLocked(ctx)
}

// Disconnect закрывает подключение. Повторный вызов: успех. Флаги сбрасываются
// в любом случае, даже если закрытие вернуло ошибку.
func (m *Manager) Disconnect() error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.disconnectLocked()
}

// ResetRetries обнуляет счётчик переподключений и паузу (ручной сброс).
func (m *Manager) ResetRetries() {
	m.update(func() {
		m.state.RetryCount = 0
		m.state.LastAttempt = time.Time{}
	})
}

// AdoptSession принимает артефакт, полученный вне машины входа (импорт
// сессии). Текущее подключение и незавершённый вход закрываются.
func (m *Manager) AdoptSession(ctx context.Context, artifact account.Artifact) error {
	m.op.Lock()
	defer m.op.Unlock()

	if !m.record.HasCredentials() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(string(artifact)) == "" {
		return ErrNoSession
	}
	m.closeLoginHandleLocked()
	if err := m.disconnectLocked(); err != nil {
		m.log().Warn("Disconnect before session import failed", zap.Error(err))
	}

	m.update(func() {
		m.record.Session = artifact
		m.state = ConnectionState{}
		m.lastErr = ""
		m.loginState = LoginNew
	})
	if m.store != nil {
		if err := m.store.Save(ctx, m.record); err != nil {
			return errors.Wrap(err, "save imported session")
		}
	}
	m.log().Info("Session artifact imported")
	return nil
}

// ForceReconnect закрывает текущее подключение, сбрасывает счётчик и подключается заново.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.disconnectLocked(); err != nil {
		m.log().Warn("Disconnect during force reconnect failed", zap.Error(err))
	}
	m.update(func() { m.state.RetryCount = 0 })
	return m.connectLocked(ctx)
}

// HealthCheck спрашивает Self у живого подключения. Неудача (кроме отмены
// контекста) переводит менеджер в отключённое состояние.
func (m *Manager) HealthCheck(ctx context.Context) error {
	_, err := m.Self(ctx)
	return err
}

// Self возвращает информацию о текущем пользователе.
func (m *Manager) Self(ctx context.Context) (transport.Self, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if m.conn == nil {
		return transport.Self{}, ErrNotConnected
	}
	self, err := m.conn.Self(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log().Warn("Health check failed", zap.Error(err))
			_ = m.disconnectLocked()
			m.update(func() { m.lastErr = err.Error() })
			if errors.Is(err, transport.ErrSessionExpired) {
				m.dropSessionLocked(ctx)
			}
		}
		return transport.Self{}, err
	}
	return self, nil
}

func (m *Manager) readyLocked() error {
	switch {
	case !m.record.HasCredentials():
		return ErrNotConfigured
	case !m.record.HasSession():
		return ErrNoSession
	}
	return nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if err := m.readyLocked(); err != nil {
		return err
	}
	if m.conn != nil {
		_ = m.disconnectLocked()
	}
	rec := m.record

	m.update(func() { m.state.LastAttempt = m.now() })
	conn, err := m.dialAndCheck(ctx, rec)
	if rl, ok := transport.AsRateLimit(err); ok {
		m.log().Warn("Connect rate limited, waiting before the single retry", zap.Duration("wait", rl.Wait))
		m.update(func() { m.state.RateLimitedUntil = m.now().Add(rl.Wait) })
		if sleepErr := m.sleep(ctx, rl.Wait); sleepErr != nil {
			return errors.Wrap(sleepErr, "wait flood")
		}
		conn, err = m.dialAndCheck(ctx, rec)
	}

	if err != nil {
		m.update(func() {
			m.state.Connected = false
			m.state.Authenticated = false
			m.lastErr = err.Error()
			if rl, ok := transport.AsRateLimit(err); ok {
				m.state.RateLimitedUntil = m.now().Add(rl.Wait)
			}
		})
		if errors.Is(err, transport.ErrSessionExpired) {
			m.dropSessionLocked(ctx)
		}
		m.log().Error("Connect failed", zap.Error(err))
		return err
	}

	m.update(func() {
		m.conn = conn
		m.state.Connected = true
		m.state.Authenticated = true
		m.state.RetryCount = 0
		m.state.RateLimitedUntil = time.Time{}
		m.lastErr = ""
	})
	return nil
}

func (m *Manager) dialAndCheck(ctx context.Context, rec account.Record) (transport.Conn, error) {
	conn, err := m.dialer.Connect(ctx, rec.Credentials, rec.Session)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	self, err := conn.Self(ctx)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			m.log().Warn("Close after failed liveness check", zap.Error(closeErr))
		}
		return nil, errors.Wrap(err, "liveness check")
	}
	m.log().Info("Connected", zap.Int64("user_id", self.ID), zap.String("username", self.Username))
	return conn, nil
}

func (m *Manager) disconnectLocked() error {
	conn := m.conn
	m.update(func() {
		m.conn = nil
		m.state.Connected = false
		m.state.Authenticated = false
	})
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "close connection")
	}
	m.log().Info("Disconnected")
	return nil
}

// dropSessionLocked забывает отозванный артефакт: дальше нужен новый вход.
func (m *Manager) dropSessionLocked(ctx context.Context) {
	m.update(func() { m.record.Session = "" })
	m.log().Warn("Session artifact is no longer valid; login required")
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, m.record); err != nil {
		m.log().Error("Persist dropped session failed", zap.Error(err))
	}
}
