package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/domain/session"
	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
	versioninfo "delivery-userbot/internal/support/version"
)

// CommandExecutor - реализация интерфейса Executor
type CommandExecutor struct {
	accounts []Account
	binder   Binder
	disp     Deliverer
	importer SessionImporter
	channel  delivery.ChannelKind

	mu      sync.RWMutex
	current string
}

var _ Executor = (*CommandExecutor)(nil)

// Option настраивает CommandExecutor.
type Option func(*CommandExecutor)

// WithImporter включает импорт внешних строковых сессий.
func WithImporter(fn SessionImporter) Option {
	return func(e *CommandExecutor) { e.importer = fn }
}

// WithDefaultChannel задаёт канал для запросов без явного предпочтения.
func WithDefaultChannel(ch delivery.ChannelKind) Option {
	return func(e *CommandExecutor) { e.channel = ch }
}

// NewExecutor создает новый экземпляр CommandExecutor. Текущим становится
// первый аккаунт.
func NewExecutor(accounts []Account, binder Binder, disp Deliverer, opts ...Option) *CommandExecutor {
	if len(accounts) == 0 || binder == nil || disp == nil {
		panic("commands: accounts, binder and dispatcher are required")
	}
	e := &CommandExecutor{
		accounts: accounts,
		binder:   binder,
		disp:     disp,
		channel:  delivery.DirectMessage,
		current:  accounts[0].Name(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func ok(format string, a ...any) Result {
	return Result{OK: true, Message: fmt.Sprintf(format, a...)}
}

// fail превращает ошибку в Result. Неклассифицированные ошибки логируются
// целиком: молчаливый отказ здесь означает недоставленную покупку.
func fail(op, acc string, err error) Result {
	msg, known := Describe(err)
	if !known {
		logger.Error("Command failed", zap.String("op", op), zap.String("account", acc), zap.Error(err))
	}
	return Result{OK: false, Message: msg}
}

func (e *CommandExecutor) find(name string) (Account, bool) {
	for _, a := range e.accounts {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

func (e *CommandExecutor) active() Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, _ := e.find(e.current)
	return acc
}

// Accounts возвращает состояние аккаунтов в порядке пула.
func (e *CommandExecutor) Accounts() []AccountInfo {
	e.mu.RLock()
	current := e.current
	e.mu.RUnlock()

	marks := make(map[string]delivery.PoolEntryStatus)
	for _, st := range e.disp.Pool().Snapshot() {
		marks[st.Name] = st
	}
	out := make([]AccountInfo, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, AccountInfo{
			Current: a.Name() == current,
			Session: a.Status(),
			Pool:    marks[a.Name()],
		})
	}
	return out
}

// Use переключает текущий аккаунт.
func (e *CommandExecutor) Use(name string) Result {
	name = strings.TrimSpace(name)
	if _, found := e.find(name); !found {
		return Result{Message: fmt.Sprintf("unknown account %q", name)}
	}
	e.mu.Lock()
	e.current = name
	e.mu.Unlock()
	return ok("current account: %s", name)
}

// SetCredentials проверяет ввод локально и только потом сохраняет.
func (e *CommandExecutor) SetCredentials(ctx context.Context, apiID, apiHash, phone string) Result {
	acc := e.active()
	creds, err := account.ParseCredentials(apiID, apiHash, phone)
	if err != nil {
		return fail("set_credentials", acc.Name(), err)
	}
	if err := acc.SetCredentials(ctx, creds); err != nil {
		return fail("set_credentials", acc.Name(), err)
	}
	return ok("credentials saved for %s, login required", acc.Name())
}

func (e *CommandExecutor) StartLogin(ctx context.Context) Result {
	acc := e.active()
	if err := acc.StartLogin(ctx); err != nil {
		return fail("start_login", acc.Name(), err)
	}
	return ok("verification code sent to %s", acc.Status().Phone)
}

func (e *CommandExecutor) SubmitCode(ctx context.Context, code string) Result {
	acc := e.active()
	state, err := acc.SubmitCode(ctx, code)
	if err != nil {
		return fail("submit_code", acc.Name(), err)
	}
	return loginResult(state)
}

func (e *CommandExecutor) SubmitPassword(ctx context.Context, password string) Result {
	acc := e.active()
	state, err := acc.SubmitPassword(ctx, password)
	if err != nil {
		return fail("submit_password", acc.Name(), err)
	}
	return loginResult(state)
}

func loginResult(state session.LoginState) Result {
	if state == session.LoginPasswordRequired {
		return ok("two-factor password required")
	}
	return ok("login complete, session saved")
}

func (e *CommandExecutor) AbortLogin() Result {
	acc := e.active()
	acc.AbortLogin()
	return ok("login aborted for %s", acc.Name())
}

// ImportSession переводит строку в артефакт и отдаёт его текущему аккаунту.
func (e *CommandExecutor) ImportSession(ctx context.Context, str string) Result {
	acc := e.active()
	if e.importer == nil {
		return Result{Message: "session import is not available"}
	}
	if strings.TrimSpace(str) == "" {
		return Result{Message: "session string is empty"}
	}
	artifact, err := e.importer(ctx, str)
	if err != nil {
		logger.Warn("Session import rejected", zap.String("account", acc.Name()), zap.Error(err))
		return Result{Message: fmt.Sprintf("session string rejected: %v", err)}
	}
	if err := acc.AdoptSession(ctx, artifact); err != nil {
		return fail("import_session", acc.Name(), err)
	}
	return ok("session imported for %s, use connect", acc.Name())
}

func (e *CommandExecutor) Connect(ctx context.Context) Result {
	acc := e.active()
	if err := acc.Connect(ctx); err != nil {
		return fail("connect", acc.Name(), err)
	}
	return ok("%s connected", acc.Name())
}

func (e *CommandExecutor) Disconnect() Result {
	acc := e.active()
	if err := acc.Disconnect(); err != nil {
		return fail("disconnect", acc.Name(), err)
	}
	return ok("%s disconnected", acc.Name())
}

func (e *CommandExecutor) Reconnect(ctx context.Context) Result {
	acc := e.active()
	if err := acc.ForceReconnect(ctx); err != nil {
		return fail("reconnect", acc.Name(), err)
	}
	return ok("%s reconnected", acc.Name())
}

func (e *CommandExecutor) ResetRetries() Result {
	acc := e.active()
	acc.ResetRetries()
	return ok("retry counter reset for %s", acc.Name())
}

func (e *CommandExecutor) Health(ctx context.Context) Result {
	acc := e.active()
	if err := acc.HealthCheck(ctx); err != nil {
		return fail("health", acc.Name(), err)
	}
	return ok("%s is alive", acc.Name())
}

// Whoami возвращает краткую информацию о текущем аккаунте (имя, username, id).
func (e *CommandExecutor) Whoami(ctx context.Context) Result {
	acc := e.active()
	self, err := acc.Self(ctx)
	if err != nil {
		return fail("whoami", acc.Name(), err)
	}
	fullname := strings.TrimSpace(strings.Join([]string{self.FirstName, self.LastName}, " "))
	if fullname == "" {
		fullname = "<unknown>"
	}
	if self.Username != "" {
		return ok("You are: %s (@%s), id=%d", fullname, self.Username, self.ID)
	}
	return ok("You are: %s, id=%d", fullname, self.ID)
}

// Bind проверяет username до записи, чтобы справочник не копил мусор.
func (e *CommandExecutor) Bind(ctx context.Context, userID int64, username string) Result {
	if userID <= 0 {
		return Result{Message: "user id must be positive"}
	}
	name, err := delivery.NormalizeUsername(username)
	if err != nil {
		return Result{Message: err.Error()}
	}
	if err := e.binder.SetUsername(ctx, userID, strings.TrimPrefix(name, "@")); err != nil {
		return fail("bind", "", err)
	}
	return ok("user %d bound to %s", userID, name)
}

// Deliver подставляет канал по умолчанию и передаёт запрос диспетчеру.
func (e *CommandExecutor) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	if req.Preference == "" {
		req.Preference = e.channel
	}
	return e.disp.Deliver(ctx, req)
}

// Version возвращает информацию о версии приложения
func (e *CommandExecutor) Version() VersionResult {
	return VersionResult{Name: versioninfo.Name, Version: versioninfo.Version}
}

// Describe переводит ошибку в сообщение для администратора. known == false :
// ошибка не из таксономии, её нужно залогировать с контекстом.
func Describe(err error) (msg string, known bool) {
	var verr *account.ValidationError
	switch {
	case err == nil:
		return "ok", true
	case errors.As(err, &verr):
		return verr.Error(), true
	case errors.Is(err, session.ErrNotConfigured):
		return "account is not configured, set credentials first", true
	case errors.Is(err, session.ErrNoSession):
		return "no session, login required", true
	case errors.Is(err, session.ErrNoLogin):
		return err.Error() + ", start with login", true
	case errors.Is(err, session.ErrNotConnected):
		return "not connected", true
	case errors.Is(err, session.ErrReconnectRefused):
		return "reconnect refused: retry limit or cooldown in effect, use reset", true
	case errors.Is(err, transport.ErrInvalidCode):
		return "invalid verification code, restart login", true
	case errors.Is(err, transport.ErrCodeExpired):
		return "verification code expired, restart login", true
	case errors.Is(err, transport.ErrInvalidPhone):
		return "invalid phone number", true
	case errors.Is(err, transport.ErrInvalidPassword):
		return "invalid two-factor password, restart login", true
	case errors.Is(err, transport.ErrNotRegistered):
		return "phone number is not registered in Telegram", true
	case errors.Is(err, transport.ErrSessionExpired):
		return "session expired or revoked, login required", true
	case errors.Is(err, transport.ErrConnection):
		return fmt.Sprintf("connection error: %v", err), true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("aborted: %v", err), true
	}
	if rl, isRL := transport.AsRateLimit(err); isRL {
		if rl.Wait > 0 {
			return fmt.Sprintf("rate limited, retry in %s", rl.Wait), true
		}
		return "rate limited", true
	}
	return fmt.Sprintf("unexpected error: %v", err), false
}
