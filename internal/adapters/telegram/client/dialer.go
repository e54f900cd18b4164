// Package tgclient содержит реализацию transport.Dialer на gotd. Открывает временный
// клиент для входа и постоянный клиент по артефакту сессии; FLOOD_WAIT до
// порога гасится middleware, более длинные отдаются домену как RateLimitError.
package tgclient

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
	"delivery-userbot/internal/infra/storage"
	tgsession "delivery-userbot/internal/infra/telegram/session"
	"delivery-userbot/internal/support/version"
)

// PeerCache запоминает разрешённые username, чтобы не тратить лимит
// contacts.resolveUsername на повторных доставках.
type PeerCache interface {
	LookupUsername(ctx context.Context, owner, username string) (transport.Peer, bool, error)
	RememberUsername(ctx context.Context, owner string, peer transport.Peer) error
}

// Options: настройки клиентов gotd.
type Options struct {
	// TestDC переключает клиента на тестовые DC Telegram.
	TestDC bool
	// TempDir: каталог временных файлов сессии на время входа.
	TempDir string
	// FloodWaitMax: FLOOD_WAIT не длиннее этого ждём молча внутри middleware.
	FloodWaitMax time.Duration
	// RPS: ограничение частоты RPC-вызовов на клиента.
	RPS int
	// Peers: необязательный кэш username → peer.
	Peers PeerCache
}

// Dialer создаёт клиентов gotd.
type Dialer struct {
	opts Options
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer нормализует опции и возвращает Dialer.
func NewDialer(opts Options) *Dialer {
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if strings.TrimSpace(opts.TempDir) == "" {
		opts.TempDir = filepath.Join("data", "tmp")
	}
	return &Dialer{opts: opts}
}

func (d *Dialer) newClient(creds account.Credentials, store tdsession.Storage) (*telegram.Client, *floodwait.Waiter) {
	waiter := floodwait.NewWaiter()
	if d.opts.FloodWaitMax > 0 {
		waiter = waiter.WithMaxWait(d.opts.FloodWaitMax)
	}

	options := telegram.Options{
		SessionStorage: store,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(d.opts.RPS), d.opts.RPS*2), //nolint:mnd // burst = 2*rate
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "DeliveryBot",
			SystemVersion: "linux",
			AppVersion:    version.Version,
		},
		Logger: logger.Logger().Named("mtproto").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
	}
	if d.opts.TestDC {
		options.DCList = dcs.Test()
	}
	return telegram.NewClient(creds.APIID, creds.APIHash, options), waiter
}

// OpenLogin поднимает временный клиент с файловой сессией в TempDir.
func (d *Dialer) OpenLogin(ctx context.Context, creds account.Credentials) (transport.LoginHandle, error) {
	path := filepath.Join(d.opts.TempDir, "login-"+uuid.NewString()+".session")
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "prepare temp session dir")
	}
	store := &tgsession.FileStorage{Path: path}

	client, waiter := d.newClient(creds, store)
	run, err := startRunner(ctx, client, waiter)
	if err != nil {
		_ = store.Remove()
		return nil, errors.Wrap(err, "start login client")
	}
	logger.Debug("Login client started", zap.String("phone", logger.MaskPhone(creds.Phone)))
	return &loginHandle{creds: creds, store: store, run: run}, nil
}

// Connect поднимает постоянный клиент из артефакта сессии.
func (d *Dialer) Connect(ctx context.Context, creds account.Credentials, artifact account.Artifact) (transport.Conn, error) {
	mem, err := memoryStorage(ctx, artifact)
	if err != nil {
		return nil, errors.Wrap(transport.ErrSessionExpired, err.Error())
	}

	client, waiter := d.newClient(creds, mem)
	run, err := startRunner(ctx, client, waiter)
	if err != nil {
		return nil, errors.Wrap(err, "start client")
	}
	return newConn(creds.Phone, run, d.opts.Peers), nil
}
