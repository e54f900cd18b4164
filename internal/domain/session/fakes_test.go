package session_test

import (
	"context"
	"sync"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
)

// fakeHandle: временный клиент входа со сценарием ответов.
type fakeHandle struct {
	sendCodeErr error
	signInErr   error
	passwordErr error
	artifact    account.Artifact

	signInCalls   int
	passwordCalls int
	closed        bool
}

func (h *fakeHandle) SendCode(context.Context) (string, error) {
	if h.sendCodeErr != nil {
		return "", h.sendCodeErr
	}
	return "hash-1", nil
}

func (h *fakeHandle) SignIn(ctx context.Context, code, hash string) error {
	h.signInCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash != "hash-1" {
		return transport.ErrInvalidCode
	}
	return h.signInErr
}

func (h *fakeHandle) Password(ctx context.Context, _ string) error {
	h.passwordCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.passwordErr
}

func (h *fakeHandle) Export(context.Context) (account.Artifact, error) {
	return h.artifact, nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

// fakeConn: подключение, отвечающее на Self по сценарию.
type fakeConn struct {
	selfErr error
	closed  bool
}

func (c *fakeConn) Self(context.Context) (transport.Self, error) {
	if c.selfErr != nil {
		return transport.Self{}, c.selfErr
	}
	return transport.Self{ID: 42, Username: "seller"}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) ResolveUsername(context.Context, string) (transport.Peer, error) {
	return transport.Peer{}, nil
}

func (c *fakeConn) Direct(transport.Peer) transport.Channel   { return nil }
func (c *fakeConn) SecretChats() transport.SecretChatOpener { return nil }

// fakeDialer выдаёт заранее заготовленные ответы и считает сетевые вызовы.
type fakeDialer struct {
	mu sync.Mutex

	handle     *fakeHandle
	openErr    error
	connectErr []error // ошибки по очереди; пустой срез: успех
	selfErr    error

	connectCalls int
	conns        []*fakeConn
}

func (d *fakeDialer) OpenLogin(context.Context, account.Credentials) (transport.LoginHandle, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.handle, nil
}

func (d *fakeDialer) Connect(context.Context, account.Credentials, account.Artifact) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectCalls++
	if len(d.connectErr) > 0 {
		err := d.connectErr[0]
		d.connectErr = d.connectErr[1:]
		if err != nil {
			return nil, err
		}
	}
	conn := &fakeConn{selfErr: d.selfErr}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

// memStore: хранилище записи в памяти.
type memStore struct {
	rec   account.Record
	ok    bool
	saves int
}

func (s *memStore) Load(context.Context) (account.Record, bool, error) { return s.rec, s.ok, nil }

func (s *memStore) Save(_ context.Context, rec account.Record) error {
	s.rec = rec
	s.ok = true
	s.saves++
	return nil
}
