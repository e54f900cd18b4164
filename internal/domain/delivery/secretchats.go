package delivery

import (
	"context"
	"sync"

	"delivery-userbot/internal/domain/transport"
)

// HandleKind говорит, откуда взялся канал: создан сейчас или переиспользован.
type HandleKind int

const (
	HandleCreated HandleKind = iota + 1
	HandleReused
)

func (k HandleKind) String() string {
	if k == HandleReused {
		return "reused"
	}
	return "created"
}

// ChannelHandle: единый результат открытия секретного чата.
type ChannelHandle struct {
	Kind HandleKind
	Ref  transport.ChannelRef
}

type chatKey struct {
	account string
	userID  int64
}

// SecretChats помнит открытые секретные чаты по паре (аккаунт, получатель).
// Создание чата само по себе ограничено flood-лимитами, поэтому сначала
// переиспользуем уже известный.
type SecretChats struct {
	mu    sync.Mutex
	chats map[chatKey]transport.ChannelRef
}

// NewSecretChats создаёт пустой реестр.
func NewSecretChats() *SecretChats {
	return &SecretChats{chats: make(map[chatKey]transport.ChannelRef)}
}

// Acquire возвращает известный чат или создаёт новый. Созданный чат
// регистрируется сразу, до первой отправки.
func (s *SecretChats) Acquire(ctx context.Context, account string, peer transport.Peer, opener transport.SecretChatOpener) (ChannelHandle, error) {
	key := chatKey{account: account, userID: peer.ID}

	s.mu.Lock()
	ref, ok := s.chats[key]
	s.mu.Unlock()
	if ok {
		return ChannelHandle{Kind: HandleReused, Ref: ref}, nil
	}

	ref, err := opener.Create(ctx, peer)
	if err != nil {
		return ChannelHandle{}, err
	}

	s.mu.Lock()
	s.chats[key] = ref
	s.mu.Unlock()
	return ChannelHandle{Kind: HandleCreated, Ref: ref}, nil
}

// Forget убирает чат из реестра (например, он перестал принимать сообщения).
func (s *SecretChats) Forget(account string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatKey{account: account, userID: userID})
}

// Len: число отслеживаемых чатов.
func (s *SecretChats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}
