package tgclient

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
)

// runner держит telegram.Client запущенным в фоне. client.Run блокирующий,
// поэтому он крутится в своей горутине, а вызывающий ждёт готовности.
type runner struct {
	client *telegram.Client
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// startRunner поднимает клиент и ждёт, пока соединение будет готово к RPC.
// Жизненный цикл клиента не привязан к ctx: ctx ограничивает только ожидание.
func startRunner(ctx context.Context, client *telegram.Client, waiter *floodwait.Waiter) (*runner, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{client: client, cancel: cancel, done: make(chan struct{})}
	ready := make(chan struct{})

	go func() {
		defer close(r.done)
		err := waiter.Run(runCtx, func(ctx context.Context) error {
			return client.Run(ctx, func(ctx context.Context) error {
				close(ready)
				<-ctx.Done()
				return ctx.Err()
			})
		})
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()

	select {
	case <-ready:
		return r, nil
	case <-r.done:
		cancel()
		err := r.Err()
		if err == nil {
			err = errors.New("client stopped before becoming ready")
		}
		return nil, mapError(err)
	case <-ctx.Done():
		r.stop()
		return nil, ctx.Err()
	}
}

// Err: ошибка, с которой завершился Run.
func (r *runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// alive: Run ещё не вернулся.
func (r *runner) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// stop отменяет Run и дожидается выхода горутины. Повторный вызов безопасен.
func (r *runner) stop() error {
	if r == nil {
		return nil
	}
	r.cancel()
	<-r.done
	if err := r.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
