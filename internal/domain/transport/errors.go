package transport

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Таксономия ошибок, которую домен различает. Адаптеры заворачивают свои
// ошибки так, чтобы errors.Is находил здесь нужный sentinel.
var (
	ErrPasswordNeeded   = errors.New("two-factor password required")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrCodeExpired      = errors.New("verification code expired")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrNotRegistered    = errors.New("phone number is not registered")
	ErrSessionExpired   = errors.New("session expired or revoked")
	ErrUsernameNotFound = errors.New("username not found")
	ErrUsernameInvalid  = errors.New("invalid username")
	ErrConnection       = errors.New("connection error")
)

// RateLimitError описывает flood wait: сервер требует выждать Wait. Wait == 0 значит,
// что длительность из ошибки извлечь не удалось.
type RateLimitError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("rate limited for %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// AsRateLimit извлекает RateLimitError из цепочки.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
