package tgclient

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
)

// conn: постоянное подключение аккаунта поверх запущенного клиента.
type conn struct {
	owner    string
	run      *runner
	api      *tg.Client
	sender   *message.Sender
	uploader *uploader.Uploader
	peers    PeerCache
}

var _ transport.Conn = (*conn)(nil)

func newConn(owner string, run *runner, peers PeerCache) *conn {
	api := run.client.API()
	return &conn{
		owner:    owner,
		run:      run,
		api:      api,
		sender:   message.NewSender(api),
		uploader: uploader.NewUploader(api),
		peers:    peers,
	}
}

// Self проверяет живость: клиент должен быть запущен и ответить users.getUsers(self).
func (c *conn) Self(ctx context.Context) (transport.Self, error) {
	if !c.run.alive() {
		return transport.Self{}, wrap(transport.ErrConnection, errors.Wrap(c.run.Err(), "client stopped"))
	}
	me, err := c.run.client.Self(ctx)
	if err != nil {
		return transport.Self{}, mapError(err)
	}
	return transport.Self{
		ID:        me.ID,
		Username:  me.Username,
		FirstName: me.FirstName,
		LastName:  me.LastName,
	}, nil
}

func (c *conn) Close() error {
	return c.run.stop()
}

// ResolveUsername разрешает @username в пользователя. Каналы и чаты получателями
// доставки быть не могут.
func (c *conn) ResolveUsername(ctx context.Context, username string) (transport.Peer, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return transport.Peer{}, transport.ErrUsernameInvalid
	}

	if c.peers != nil {
		peer, ok, err := c.peers.LookupUsername(ctx, c.owner, name)
		if err != nil {
			logger.Warn("Peer cache lookup failed", zap.String("username", name), zap.Error(err))
		} else if ok {
			return peer, nil
		}
	}

	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	if err != nil {
		return transport.Peer{}, mapError(err)
	}
	userPeer, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return transport.Peer{}, errors.Wrapf(transport.ErrUsernameNotFound, "@%s is not a user", name)
	}

	peer := transport.Peer{ID: userPeer.UserID, Username: name}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.ID == userPeer.UserID {
			peer.AccessHash = user.AccessHash
			break
		}
	}

	if c.peers != nil {
		if err := c.peers.RememberUsername(ctx, c.owner, peer); err != nil {
			logger.Warn("Peer cache store failed", zap.String("username", name), zap.Error(err))
		}
	}
	return peer, nil
}

func (c *conn) Direct(peer transport.Peer) transport.Channel {
	return &directChannel{
		conn: c,
		to:   &tg.InputPeerUser{UserID: peer.ID, AccessHash: peer.AccessHash},
	}
}

// SecretChatsSupported сообщает, умеет ли адаптер секретные чаты.
const SecretChatsSupported = false

// SecretChats: gotd не умеет end-to-end чаты, поэтому nil. Диспетчер в таком
// случае отказывает в доставке, а не опускается до обычного чата.
func (c *conn) SecretChats() transport.SecretChatOpener {
	return nil
}
