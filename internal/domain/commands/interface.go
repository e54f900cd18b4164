// Package commands предоставляет общий интерфейс для выполнения команд управления
// userbot доставки. Команды используются консолью и внешним ботом-администратором.
// Ни один метод не возвращает error наружу: любой исход сворачивается в Result
// с флагом успеха и читаемой причиной.
package commands

import (
	"context"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/domain/session"
	"delivery-userbot/internal/domain/transport"
)

// Executor: интерфейс для выполнения команд управления.
// Команды над аккаунтом применяются к текущему аккаунту (см. Use).
type Executor interface {
	// Accounts возвращает состояние всех аккаунтов пула
	Accounts() []AccountInfo
	// Use выбирает текущий аккаунт
	Use(name string) Result

	// SetCredentials проверяет и сохраняет api_id, api_hash и телефон
	SetCredentials(ctx context.Context, apiID, apiHash, phone string) Result
	// StartLogin запрашивает код подтверждения
	StartLogin(ctx context.Context) Result
	// SubmitCode отправляет код подтверждения
	SubmitCode(ctx context.Context, code string) Result
	// SubmitPassword отправляет пароль второго фактора
	SubmitPassword(ctx context.Context, password string) Result
	// AbortLogin прерывает вход и закрывает временного клиента
	AbortLogin() Result
	// ImportSession принимает строковую сессию, авторизованную вне бота
	ImportSession(ctx context.Context, str string) Result

	Connect(ctx context.Context) Result
	Disconnect() Result
	Reconnect(ctx context.Context) Result
	ResetRetries() Result
	Health(ctx context.Context) Result
	Whoami(ctx context.Context) Result

	// Bind связывает внутренний id покупателя с его username
	Bind(ctx context.Context, userID int64, username string) Result
	// Deliver доставляет товар покупателю
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome

	// Version возвращает информацию о версии приложения
	Version() VersionResult
}

// Result: явный исход публичной операции.
type Result struct {
	OK      bool
	Message string
}

// AccountInfo: строка статуса аккаунта.
type AccountInfo struct {
	Current bool
	Session session.Status
	Pool    delivery.PoolEntryStatus
}

// VersionResult - результат команды Version
type VersionResult struct {
	Name    string // название приложения
	Version string // версия
}

// Account: то, что исполнитель требует от менеджера сессии аккаунта.
// Реализуется *session.Manager.
type Account interface {
	Name() string
	Status() session.Status
	SetCredentials(ctx context.Context, creds account.Credentials) error
	StartLogin(ctx context.Context) error
	SubmitCode(ctx context.Context, code string) (session.LoginState, error)
	SubmitPassword(ctx context.Context, password string) (session.LoginState, error)
	AbortLogin()
	AdoptSession(ctx context.Context, artifact account.Artifact) error
	Connect(ctx context.Context) error
	Disconnect() error
	ForceReconnect(ctx context.Context) error
	ResetRetries()
	HealthCheck(ctx context.Context) error
	Self(ctx context.Context) (transport.Self, error)
}

// Binder записывает привязку покупателя в справочник.
type Binder interface {
	SetUsername(ctx context.Context, userID int64, username string) error
}

// Deliverer: диспетчер доставки.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome
	Pool() *delivery.Pool
}

// SessionImporter переводит внешнюю строковую сессию в артефакт.
type SessionImporter func(ctx context.Context, str string) (account.Artifact, error)

var _ Deliverer = (*delivery.Dispatcher)(nil)
