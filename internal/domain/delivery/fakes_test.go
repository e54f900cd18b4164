package delivery_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"delivery-userbot/internal/domain/transport"
)

type call struct {
	kind    string
	path    string
	caption string
}

type fakeChannel struct {
	mu        sync.Mutex
	captions  bool
	textErrs  []error
	mediaErrs map[string][]error
	calls     []call
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (c *fakeChannel) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: "text", caption: text})
	return pop(&c.textErrs)
}

func (c *fakeChannel) media(kind, path, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: kind, path: path, caption: caption})
	if c.mediaErrs == nil {
		return nil
	}
	errs := c.mediaErrs[path]
	err := pop(&errs)
	c.mediaErrs[path] = errs
	return err
}

func (c *fakeChannel) SendPhoto(_ context.Context, path, caption string) error {
	return c.media("photo", path, caption)
}

func (c *fakeChannel) SendVideo(_ context.Context, path, caption string) error {
	return c.media("video", path, caption)
}

func (c *fakeChannel) SendDocument(_ context.Context, path, caption string) error {
	return c.media("document", path, caption)
}

func (c *fakeChannel) SupportsCaptions() bool { return c.captions }

func (c *fakeChannel) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, cl := range c.calls {
		out = append(out, cl.kind)
	}
	return out
}

type fakeOpener struct {
	createErrs []error
	created    int
	channel    *fakeChannel
}

func (o *fakeOpener) Create(context.Context, transport.Peer) (transport.ChannelRef, error) {
	if err := pop(&o.createErrs); err != nil {
		return 0, err
	}
	o.created++
	return transport.ChannelRef(100 + o.created), nil
}

func (o *fakeOpener) Channel(transport.ChannelRef) transport.Channel { return o.channel }

type fakeMessenger struct {
	resolveErr error
	resolved   []string
	direct     *fakeChannel
	opener     *fakeOpener
}

func (m *fakeMessenger) ResolveUsername(_ context.Context, username string) (transport.Peer, error) {
	m.resolved = append(m.resolved, username)
	if m.resolveErr != nil {
		return transport.Peer{}, m.resolveErr
	}
	return transport.Peer{ID: 777, AccessHash: 1, Username: username}, nil
}

func (m *fakeMessenger) Direct(transport.Peer) transport.Channel { return m.direct }

func (m *fakeMessenger) SecretChats() transport.SecretChatOpener {
	if m.opener == nil {
		return nil
	}
	return m.opener
}

type fakeAccount struct {
	name        string
	notReady    bool
	connectErr  error
	dialErr     error
	connects    int
	dials       int
	disconnects int
	connected   bool
	messenger   *fakeMessenger
}

var errNotConnected = errors.New("not connected")

func (a *fakeAccount) Name() string { return a.name }
func (a *fakeAccount) Ready() bool  { return !a.notReady }

func (a *fakeAccount) EnsureConnected(context.Context) error {
	a.connects++
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	return nil
}

func (a *fakeAccount) Connect(context.Context) error {
	a.dials++
	if a.dialErr != nil {
		return a.dialErr
	}
	a.connected = true
	return nil
}

func (a *fakeAccount) Disconnect() error {
	a.disconnects++
	a.connected = false
	return nil
}

func (a *fakeAccount) Messenger() (transport.Messenger, error) {
	if !a.connected {
		return nil, errNotConnected
	}
	return a.messenger, nil
}

type mapDirectory map[int64]string

func (d mapDirectory) Username(_ context.Context, id int64) (string, bool, error) {
	name, ok := d[id]
	return name, ok, nil
}

type sleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func nowFunc() time.Time { return fixedNow }
