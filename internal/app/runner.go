// Файл runner.go отвечает за оркестрацию: здесь сервисы запускаются в правильном
// порядке и останавливаются в обратном, чтобы при выходе все клиенты gotd
// были закрыты до того, как закроются хранилища.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"delivery-userbot/internal/adapters/cli"
	"delivery-userbot/internal/domain/commands"
	"delivery-userbot/internal/domain/session"
	"delivery-userbot/internal/infra/logger"
)

const (
	connectTimeout = 60 * time.Second
	healthTimeout  = 15 * time.Second
	healthInterval = 5 * time.Minute
)

// Runner инкапсулирует сценарий запуска и остановки сервисов.
// Отвечает за:
//   - подключение аккаунтов с сохранённой сессией при старте;
//   - фоновую проверку живости подключений;
//   - интеграцию с CLI и корректное завершение.
type Runner struct {
	mainCtx    context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel context.CancelFunc // Функция, инициирующая общий shutdown.
	managers   []*session.Manager // Менеджеры сессий пула.
	exec       commands.Executor  // Исполнитель команд для CLI.
	cliService *cli.Service       // CLI сервис для интерактивных команд.
	healthWG   sync.WaitGroup     // WaitGroup для health_monitor.
	healthStop context.CancelFunc // Отмена health_monitor.
	interval   time.Duration      // Период health_monitor.
}

// NewRunner подготавливает Runner. Возвращает объект, готовый к запуску Run().
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	managers []*session.Manager,
	exec commands.Executor,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		managers:   managers,
		exec:       exec,
		interval:   healthInterval,
	}
}

// Run стартует сервисы и блокируется до отмены mainCtx.
func (r *Runner) Run() error {
	if err := r.startAllServices(); err != nil {
		r.stopAllServices()
		return err
	}
	logger.Info("Userbot running...")

	<-r.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping runner...")
	r.stopAllServices()
	return nil
}

func (r *Runner) startAllServices() error {
	// accounts
	logger.Debug("connecting pool accounts")
	r.connectReady()
	logger.Debug("pool accounts processed")

	// health_monitor
	logger.Debug("starting service health_monitor")
	healthCtx, healthStop := context.WithCancel(r.mainCtx)
	r.healthStop = healthStop
	r.healthWG.Go(func() {
		r.monitorHealth(healthCtx)
	})
	logger.Debug("service health_monitor started")

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.exec, r.mainCancel)
	r.cliService.Start(r.mainCtx)
	logger.Debug("service cli started")

	return nil
}

// connectReady подключает аккаунты, у которых есть сессия. Ошибка одного
// аккаунта не мешает остальным: он останется в пуле отключённым.
func (r *Runner) connectReady() {
	for _, m := range r.managers {
		if m.Status().Configuration != session.Ready {
			logger.Info("Account is not ready, login required", zap.String("account", m.Name()))
			continue
		}
		ctx, cancel := context.WithTimeout(r.mainCtx, connectTimeout)
		err := m.Connect(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("Startup connect failed", zap.String("account", m.Name()), zap.Error(err))
			continue
		}
		logger.Info("Account connected", zap.String("account", m.Name()))
	}
}

// monitorHealth периодически проверяет подключённые аккаунты и пытается
// вернуть отвалившиеся в пределах политики переподключения.
func (r *Runner) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll(ctx)
		}
	}
}

func (r *Runner) checkAll(ctx context.Context) {
	for _, m := range r.managers {
		st := m.Status()
		if st.Configuration != session.Ready {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		var err error
		if st.Connected {
			err = m.HealthCheck(probeCtx)
		} else {
			err = m.EnsureConnected(probeCtx)
		}
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("Health check failed", zap.String("account", m.Name()), zap.Error(err))
		}
	}
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}

	// health_monitor
	logger.Debug("stopping service health_monitor")
	if r.healthStop != nil {
		r.healthStop()
	}
	r.healthWG.Wait()
	logger.Debug("service health_monitor stopped")

	// accounts
	for _, m := range r.managers {
		logger.Debug("disconnecting account", zap.String("account", m.Name()))
		if err := m.Disconnect(); err != nil {
			logger.Errorf("failed to disconnect account %s: %v", m.Name(), err)
		}
		m.AbortLogin()
	}
	logger.Debug("accounts disconnected")
}
