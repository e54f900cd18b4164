// Package retry реализует ограниченные повторы с линейно растущей паузой.
// Паузы прерываются отменой контекста; между попытками контекст проверяется,
// так что брошенная вызывающим доставка не продолжает слать запросы.
package retry

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sleeper ждёт d или отмены ctx. В тестах подменяется записывающей реализацией.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep: реальная реализация Sleeper на таймере.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// permanentError помечает ошибку, после которой повторять бессмысленно.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent оборачивает err так, что Linear.Do прекращает попытки и возвращает исходную ошибку.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Linear описывает политику: Attempts попыток, после n-й неудачной пауза n×Step.
// Пауза выдерживается и после последней попытки: канал на той стороне часто
// «дозревает» асинхронно, и вызывающий продолжает уже после неё.
type Linear struct {
	Attempts int
	Step     time.Duration
}

// Do вызывает fn до успеха, постоянной ошибки, исчерпания попыток или отмены ctx.
// Возвращает число сделанных попыток и последнюю ошибку; при отмене во время
// паузы возвращается ошибка контекста, а не ошибка последней попытки.
func (p Linear) Do(ctx context.Context, sleep Sleeper, fn func(ctx context.Context, attempt int) error) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, errors.Wrap(err, "retry aborted")
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt, perm.err
		}
		if errors.Is(lastErr, context.Canceled) {
			return attempt, lastErr
		}

		if err := sleep(ctx, time.Duration(attempt)*p.Step); err != nil {
			return attempt, errors.Wrap(err, "retry aborted")
		}
	}
	return attempts, lastErr
}
