// Package transport задаёт границу между доменом и конкретным Telegram-клиентом.
// Домен видит только эти интерфейсы и таксономию ошибок; реализация на gotd
// живёт в adapters/telegram/client, в тестах: фейки.
package transport

import (
	"context"

	"delivery-userbot/internal/domain/account"
)

// Dialer открывает клиентов: временный для входа и постоянный по артефакту.
type Dialer interface {
	OpenLogin(ctx context.Context, creds account.Credentials) (LoginHandle, error)
	Connect(ctx context.Context, creds account.Credentials, artifact account.Artifact) (Conn, error)
}

// LoginHandle: временный клиент на время входа. Close обязателен на любом пути
// выхода: вместе с ним удаляются временные файлы сессии.
type LoginHandle interface {
	// SendCode просит Telegram прислать код и возвращает phone code hash.
	SendCode(ctx context.Context) (string, error)
	// SignIn подтверждает код. ErrPasswordNeeded означает переход ко второму фактору.
	SignIn(ctx context.Context, code, codeHash string) error
	// Password проверяет пароль второго фактора на том же клиенте.
	Password(ctx context.Context, password string) error
	// Export выгружает артефакт сессии после успешного входа.
	Export(ctx context.Context) (account.Artifact, error)
	Close() error
}

// Self: ответ на «кто я».
type Self struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Conn: живое подключение аккаунта.
type Conn interface {
	Messenger
	// Self служит проверкой живости: подключение без ответа на Self живым не считается.
	Self(ctx context.Context) (Self, error)
	Close() error
}

// Peer: разрешённый получатель.
type Peer struct {
	ID         int64
	AccessHash int64
	Username   string
}

// Messenger: то, что нужно диспетчеру доставки от подключения.
type Messenger interface {
	// ResolveUsername находит пользователя по @username.
	ResolveUsername(ctx context.Context, username string) (Peer, error)
	// Direct возвращает обычный личный канал до peer.
	Direct(peer Peer) Channel
	// SecretChats возвращает фабрику секретных чатов или nil, если клиент их не умеет.
	SecretChats() SecretChatOpener
}

// Channel: возможности конкретного канала доставки. Реализуется один раз на тип канала.
type Channel interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, path, caption string) error
	SendVideo(ctx context.Context, path, caption string) error
	SendDocument(ctx context.Context, path, caption string) error
	// SupportsCaptions: можно ли прикрепить текст подписью к вложению.
	SupportsCaptions() bool
}

// ChannelRef: непрозрачная ссылка на созданный секретный чат.
type ChannelRef int64

// SecretChatOpener создаёт секретные чаты и выдаёт канал по ссылке.
type SecretChatOpener interface {
	Create(ctx context.Context, peer Peer) (ChannelRef, error)
	Channel(ref ChannelRef) Channel
}
