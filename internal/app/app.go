// Package app собирает верхний уровень userbot доставки.
// Здесь связываются конфигурация, хранилище записей аккаунтов (bbolt), справочник
// покупателей (SQLite), фабрика клиентов gotd, менеджеры сессий пула и диспетчер
// доставки. Отсюда стартует консоль и обеспечивается корректный shutdown.
package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	sqlitedir "delivery-userbot/internal/adapters/directory/sqlite"
	boltstore "delivery-userbot/internal/adapters/store/bolt"
	tgclient "delivery-userbot/internal/adapters/telegram/client"
	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/commands"
	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/domain/session"
	"delivery-userbot/internal/infra/config"
	"delivery-userbot/internal/infra/logger"
)

// App агрегирует зависимости userbot и управляет их связью.
// Отвечает за:
//   - открытие хранилищ и их закрытие при остановке;
//   - по одному session.Manager на каждый аккаунт пула;
//   - засев первого аккаунта учётными данными из .env;
//   - сборку диспетчера доставки и исполнителя команд.
type App struct {
	cfg        *config.Config            // Конфигурация приложения
	mainCtx    context.Context           // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc        // Инициирует отмену mainCtx.
	store      *boltstore.Store          // Записи аккаунтов и кэш пиров.
	dir        *sqlitedir.Directory      // Справочник покупателей.
	managers   []*session.Manager        // Менеджеры сессий в порядке пула.
	dispatcher *delivery.Dispatcher      // Доставка через пул.
	executor   *commands.CommandExecutor // Общий исполнитель команд.
	runner     *Runner                   // Оркестратор жизненного цикла и CLI.
	warnings   []string                  // Предупреждения, найденные при сборке.
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация выполняется в Init().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, cfg *config.Config) *App {
	return &App{
		cfg:        cfg,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Init открывает хранилища и собирает доменные сервисы. Сетевых вызовов нет:
// подключение аккаунтов происходит в Run.
func (a *App) Init() error {
	logger.Info("Userbot initializing...")

	store, err := boltstore.Open(a.cfg.StoreFile)
	if err != nil {
		return errors.Wrap(err, "open account store")
	}
	a.store = store

	dir, err := sqlitedir.Open(a.mainCtx, a.cfg.DirectoryDB)
	if err != nil {
		a.Close()
		return errors.Wrap(err, "open directory")
	}
	a.dir = dir

	dialer := tgclient.NewDialer(tgclient.Options{
		TestDC:       a.cfg.TestDC,
		TempDir:      a.cfg.TempSessionDir,
		FloodWaitMax: a.cfg.FloodWaitAutoMax,
		RPS:          a.cfg.ThrottleRPS,
		Peers:        a.store,
	})

	poolAccounts := make([]delivery.Account, 0, len(a.cfg.PoolAccounts))
	cmdAccounts := make([]commands.Account, 0, len(a.cfg.PoolAccounts))
	for _, name := range a.cfg.PoolAccounts {
		m := session.New(dialer, a.store.Account(name), session.Config{
			Name:          name,
			AutoReconnect: a.cfg.AutoReconnect,
			MaxRetries:    a.cfg.MaxRetries,
			RetryDelay:    a.cfg.RetryDelay,
		})
		if err := m.Init(a.mainCtx); err != nil {
			a.Close()
			return errors.Wrapf(err, "init account %s", name)
		}
		a.managers = append(a.managers, m)
		poolAccounts = append(poolAccounts, m)
		cmdAccounts = append(cmdAccounts, m)
	}
	if len(a.managers) == 0 {
		a.Close()
		return errors.New("POOL_ACCOUNTS is empty")
	}
	a.seedBootstrap()

	channel, err := delivery.ParseChannelKind(a.cfg.DeliveryChannel, delivery.DirectMessage)
	if err != nil {
		a.Close()
		return errors.Wrap(err, "delivery channel")
	}
	if channel == delivery.SecretChat && !tgclient.SecretChatsSupported {
		a.warn("DELIVERY_CHANNEL=secret_chat, but the Telegram client has no secret chat support: " +
			"deliveries without an explicit direct_message preference will fail")
	}

	opts := delivery.DefaultOptions()
	opts.RateLimitDefault = a.cfg.RateLimitDefault
	opts.SecretChatTTL = a.cfg.SecretChatTTL
	a.dispatcher = delivery.NewDispatcher(a.dir, delivery.NewPool(nil, poolAccounts...), delivery.NewSecretChats(), opts)

	a.executor = commands.NewExecutor(cmdAccounts, a.dir, a.dispatcher,
		commands.WithImporter(tgclient.ImportTelethon),
		commands.WithDefaultChannel(channel),
	)
	return nil
}

// seedBootstrap кладёт API_ID/API_HASH/PHONE_NUMBER в первый аккаунт пула,
// если у него ещё нет записи. Существующие записи .env не перетирает.
func (a *App) seedBootstrap() {
	if !a.cfg.HasBootstrapCredentials() {
		return
	}
	first := a.managers[0]
	if _, ok := first.Credentials(); ok {
		return
	}
	creds := account.Credentials{APIID: a.cfg.APIID, APIHash: a.cfg.APIHash, Phone: a.cfg.PhoneNumber}
	if err := first.SetCredentials(a.mainCtx, creds); err != nil {
		logger.Warn("Bootstrap credentials from .env rejected",
			zap.String("account", first.Name()), zap.Error(err))
		return
	}
	logger.Info("Bootstrap credentials applied", zap.String("account", first.Name()))
}

func (a *App) warn(msg string) {
	a.warnings = append(a.warnings, msg)
	logger.Warn(msg)
}

// Warnings возвращает предупреждения, накопленные в Init.
func (a *App) Warnings() []string {
	result := make([]string, len(a.warnings))
	copy(result, a.warnings)
	return result
}

// Executor возвращает исполнитель команд. До Init: nil.
func (a *App) Executor() commands.Executor {
	if a.executor == nil {
		return nil
	}
	return a.executor
}

// Run подключает готовые аккаунты, стартует консоль и блокируется до отмены
// mainCtx, после чего останавливает всё в обратном порядке.
func (a *App) Run() error {
	if a.executor == nil {
		return errors.New("app is not initialised")
	}
	a.runner = NewRunner(a.mainCtx, a.mainCancel, a.managers, a.executor)
	err := a.runner.Run()
	a.Close()
	return err
}

// Close закрывает хранилища. Повторный вызов безопасен.
func (a *App) Close() {
	if a.dir != nil {
		if err := a.dir.Close(); err != nil {
			logger.Errorf("failed to close directory: %v", err)
		}
		a.dir = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Errorf("failed to close account store: %v", err)
		}
		a.store = nil
	}
}
