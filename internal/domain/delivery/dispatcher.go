package delivery

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/logger"
	"delivery-userbot/internal/infra/retry"
)

// ChannelKind: канал доставки.
type ChannelKind string

const (
	SecretChat    ChannelKind = "secret_chat"
	DirectMessage ChannelKind = "direct_message"
)

// ParseChannelKind разбирает предпочтение канала; пустое значение: def.
func ParseChannelKind(s string, def ChannelKind) (ChannelKind, error) {
	switch ChannelKind(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case SecretChat:
		return SecretChat, nil
	case DirectMessage:
		return DirectMessage, nil
	}
	return "", errors.Errorf("unknown delivery channel %q", s)
}

// ErrSecretChatUnavailable: клиент не умеет секретные чаты. Это не flood wait,
// поэтому молча опускаться до лички нельзя.
var ErrSecretChatUnavailable = errors.New("secret chat unavailable")

// Directory описывает внешний справочник: внутренний id покупателя → Telegram username.
type Directory interface {
	Username(ctx context.Context, userID int64) (string, bool, error)
}

// Request: одна доставка.
type Request struct {
	RecipientID int64
	Product     Product
	Media       []string
	Preference  ChannelKind
}

// Outcome: окончательный результат доставки.
type Outcome struct {
	ID         string
	Success    bool
	Channel    ChannelKind
	Message    string
	Account    string
	Fallback   bool
	MediaSent  int
	MediaTotal int
}

// Options: политики повторов и оформления.
type Options struct {
	Text             retry.Linear
	Media            retry.Linear
	RateLimitDefault time.Duration
	SecretChatTTL    time.Duration
	Sleep            retry.Sleeper
	Now              func() time.Time
}

// DefaultOptions задаёт 5 попыток текста с шагом 2с и 3 попытки на каждый файл с шагом 1с.
func DefaultOptions() Options {
	return Options{
		Text:             retry.Linear{Attempts: 5, Step: 2 * time.Second},
		Media:            retry.Linear{Attempts: 3, Step: time.Second},
		RateLimitDefault: time.Hour,
		SecretChatTTL:    24 * time.Hour,
	}
}

// Dispatcher доставляет товар через пул аккаунтов.
type Dispatcher struct {
	dir   Directory
	pool  *Pool
	chats *SecretChats
	opts  Options
}

// NewDispatcher собирает диспетчер. Пул должен содержать хотя бы один аккаунт.
func NewDispatcher(dir Directory, pool *Pool, chats *SecretChats, opts Options) *Dispatcher {
	if dir == nil || pool == nil || pool.Len() == 0 {
		panic("delivery: directory and a non-empty pool are required")
	}
	if chats == nil {
		chats = NewSecretChats()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RateLimitDefault <= 0 {
		opts.RateLimitDefault = time.Hour
	}
	return &Dispatcher{dir: dir, pool: pool, chats: chats, opts: opts}
}

// Pool возвращает пул аккаунтов диспетчера.
func (d *Dispatcher) Pool() *Pool { return d.pool }

var usernameRe = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_]{4,31}$`)

// NormalizeUsername приводит username к виду @name и проверяет формат.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name != "" && !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	if !usernameRe.MatchString(name) {
		return "", errors.Wrapf(transport.ErrUsernameInvalid, "invalid username format: %s", name)
	}
	return name, nil
}

// attemptResult: итог попытки на одном аккаунте.
type attemptResult struct {
	err       error
	mediaSent int
	wait      time.Duration
	limited   bool
}

// Deliver выполняет доставку и всегда возвращает Outcome; ошибки не пробрасываются.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) Outcome {
	pref := req.Preference
	if pref == "" {
		pref = DirectMessage
	}
	out := Outcome{
		ID:         uuid.NewString(),
		Channel:    pref,
		MediaTotal: len(req.Media),
	}
	log := logger.Logger().With(
		zap.String("delivery_id", out.ID),
		zap.Int64("recipient", req.RecipientID),
		zap.String("channel", string(pref)),
	)

	fail := func(msg string) Outcome {
		out.Success = false
		out.Message = msg
		log.Warn("Delivery failed", zap.String("reason", msg), zap.String("account", out.Account))
		return out
	}

	// 1) Получатель по справочнику. Ни один из этих отказов не повторяется.
	raw, found, err := d.dir.Username(ctx, req.RecipientID)
	if err != nil {
		log.Error("Directory lookup failed", zap.Error(err))
		return fail(fmt.Sprintf("directory lookup for user %d failed: %v", req.RecipientID, err))
	}
	if !found || strings.TrimSpace(raw) == "" {
		return fail(fmt.Sprintf("no username found for user %d (not found in directory)", req.RecipientID))
	}
	username, err := NormalizeUsername(raw)
	if err != nil {
		return fail(err.Error())
	}

	now := d.opts.Now()
	primaryText := Format(req.Product, FormatOptions{DeliveredAt: now, TTL: d.ttlFor(pref)})

	// 2) Аккаунт пула.
	tried := make(map[string]struct{})
	acc, ok := d.pool.Next(tried)
	if !ok {
		if !d.pool.HasReady() {
			return fail("no pool account has a session, login required")
		}
		return fail("all accounts rate-limited")
	}

	for {
		tried[acc.Name()] = struct{}{}
		out.Account = acc.Name()

		res := d.attempt(ctx, acc, username, primaryText, req.Media, pref)
		out.MediaSent = res.mediaSent
		if res.err == nil {
			return d.succeed(out, log)
		}
		// Брошенная доставка не трогает ни пул, ни подключения.
		if ctx.Err() != nil {
			return fail(fmt.Sprintf("delivery aborted: %v", ctx.Err()))
		}
		if !res.limited {
			return fail(describe(res.err, username))
		}

		log.Warn("Rate limited", zap.String("account", acc.Name()), zap.Duration("wait", res.wait), zap.Error(res.err))

		// 3) Пул: пометить текущий аккаунт и перейти на следующий, который удалось подключить.
		if d.pool.Len() > 1 {
			wait := res.wait
			if wait <= 0 {
				wait = d.opts.RateLimitDefault
			}
			until := d.pool.MarkLimited(acc.Name(), wait)
			log.Info("Account marked rate-limited", zap.String("account", acc.Name()), zap.Time("until", until))

			if next, ok := d.switchAccount(ctx, log, acc, tried); ok {
				acc = next
				continue
			}
			if ctx.Err() != nil {
				return fail(fmt.Sprintf("delivery aborted: %v", ctx.Err()))
			}
		}

		// 4) Альтернатив нет: только для flood wait допускается обычная личка.
		if pref != SecretChat {
			return fail(fmt.Sprintf("rate limited: %v", res.err))
		}
		log.Warn("Falling back to direct message", zap.String("account", acc.Name()))
		fallbackText := FormatFallback(req.Product, FormatOptions{DeliveredAt: now})
		res = d.attempt(ctx, acc, username, fallbackText, req.Media, DirectMessage)
		out.Channel = DirectMessage
		out.Fallback = true
		out.MediaSent = res.mediaSent
		if res.err != nil {
			if ctx.Err() != nil {
				return fail(fmt.Sprintf("delivery aborted: %v", ctx.Err()))
			}
			return fail(fmt.Sprintf("secret chat rate-limited and direct message fallback failed: %s", describe(res.err, username)))
		}
		return d.succeed(out, log)
	}
}

// switchAccount перебирает свободные аккаунты пула и подключает первый, который
// отвечает. Каждый кандидат пробуется один раз: неудачное подключение не
// завершает доставку, а переводит к следующему. Текущий аккаунт отключается
// только после успешного подключения замены, чтобы он остался доступен для
// отката в личку, если замены нет.
func (d *Dispatcher) switchAccount(ctx context.Context, log *zap.Logger, current Account, tried map[string]struct{}) (Account, bool) {
	for {
		next, ok := d.pool.Next(tried)
		if !ok {
			return nil, false
		}
		tried[next.Name()] = struct{}{}

		if err := connectAlternate(ctx, next); err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			log.Warn("Alternate account unavailable", zap.String("account", next.Name()), zap.Error(err))
			continue
		}

		if err := current.Disconnect(); err != nil {
			log.Warn("Disconnect of rate-limited account failed", zap.Error(err))
		}
		log.Info("Switching account", zap.String("from", current.Name()), zap.String("to", next.Name()))
		return next, true
	}
}

// connectAlternate подключает аккаунт пула напрямую, минуя политику автопереподключения.
// Уже живое подключение не переоткрывается.
func connectAlternate(ctx context.Context, acc Account) error {
	if _, err := acc.Messenger(); err == nil {
		return nil
	}
	if err := acc.Connect(ctx); err != nil {
		return err
	}
	_, err := acc.Messenger()
	return err
}

func (d *Dispatcher) ttlFor(ch ChannelKind) time.Duration {
	if ch == SecretChat {
		return d.opts.SecretChatTTL
	}
	return 0
}

func (d *Dispatcher) succeed(out Outcome, log *zap.Logger) Outcome {
	out.Success = true
	msg := fmt.Sprintf("delivered via %s", out.Channel)
	if out.Fallback {
		msg += " (fallback: secret chat rate-limited)"
	}
	if out.MediaTotal > 0 {
		msg += fmt.Sprintf("; sent %d/%d media", out.MediaSent, out.MediaTotal)
	}
	out.Message = msg
	log.Info("Delivery completed",
		zap.String("account", out.Account),
		zap.String("used_channel", string(out.Channel)),
		zap.Bool("fallback", out.Fallback),
		zap.Int("media_sent", out.MediaSent),
		zap.Int("media_total", out.MediaTotal))
	return out
}

// attempt делает полный проход на одном аккаунте: подключение, разрешение username,
// канал, текст и вложения.
func (d *Dispatcher) attempt(ctx context.Context, acc Account, username, text string, media []string, ch ChannelKind) attemptResult {
	if err := acc.EnsureConnected(ctx); err != nil {
		return attemptResult{err: errors.Wrap(err, "not connected")}
	}
	m, err := acc.Messenger()
	if err != nil {
		return attemptResult{err: errors.Wrap(err, "not connected")}
	}

	peer, err := m.ResolveUsername(ctx, username)
	if err != nil {
		return classify(err)
	}

	channel, reused, err := d.openChannel(ctx, acc.Name(), m, peer, ch)
	if err != nil {
		return classify(err)
	}

	sent, err := d.sendContent(ctx, channel, text, media)
	if err != nil {
		if reused {
			if _, limited := transport.AsRateLimit(err); !limited {
				d.chats.Forget(acc.Name(), peer.ID)
			}
		}
		res := classify(err)
		res.mediaSent = sent
		return res
	}
	return attemptResult{mediaSent: sent}
}

func classify(err error) attemptResult {
	if rl, ok := transport.AsRateLimit(err); ok {
		return attemptResult{err: err, limited: true, wait: rl.Wait}
	}
	return attemptResult{err: err}
}

// openChannel выдаёт канал нужного типа; reused сообщает, что секретный чат был известен заранее.
func (d *Dispatcher) openChannel(ctx context.Context, account string, m transport.Messenger, peer transport.Peer, ch ChannelKind) (transport.Channel, bool, error) {
	if ch != SecretChat {
		return m.Direct(peer), false, nil
	}
	opener := m.SecretChats()
	if opener == nil {
		return nil, false, ErrSecretChatUnavailable
	}
	handle, err := d.chats.Acquire(ctx, account, peer, opener)
	if err != nil {
		return nil, false, errors.Wrap(err, "open secret chat")
	}
	logger.Debug("Secret chat acquired", zap.String("account", account), zap.Stringer("kind", handle.Kind))
	return opener.Channel(handle.Ref), handle.Kind == HandleReused, nil
}

// sendContent отправляет текст и вложения по порядку. Если канал умеет подписи,
// текст едет подписью к первому файлу; не доехал: отправляется отдельно.
// Сбой одного файла не останавливает остальные.
func (d *Dispatcher) sendContent(ctx context.Context, ch transport.Channel, text string, media []string) (int, error) {
	captionOnFirst := len(media) > 0 && ch.SupportsCaptions()
	if !captionOnFirst {
		if err := d.sendText(ctx, ch, text); err != nil {
			return 0, err
		}
	}

	sent := 0
	for i, path := range media {
		caption := ""
		if i == 0 && captionOnFirst {
			caption = text
		}
		err := d.sendMedia(ctx, ch, path, caption)
		if err == nil {
			sent++
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		logger.Warn("Media send failed", zap.String("file", path), zap.Error(err))
		if caption != "" {
			if err := d.sendText(ctx, ch, text); err != nil {
				return sent, err
			}
		}
	}
	return sent, nil
}

func (d *Dispatcher) sendText(ctx context.Context, ch transport.Channel, text string) error {
	attempts, err := d.opts.Text.Do(ctx, d.opts.Sleep, func(ctx context.Context, attempt int) error {
		err := ch.SendText(ctx, text)
		if err != nil {
			logger.Debug("Text send attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if errors.Is(err, transport.ErrSessionExpired) {
				return retry.Permanent(err)
			}
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "send text failed after %d attempts", attempts)
	}
	return nil
}

func (d *Dispatcher) sendMedia(ctx context.Context, ch transport.Channel, path, caption string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "media file")
	}
	kind := MediaKindOf(path)
	_, err := d.opts.Media.Do(ctx, d.opts.Sleep, func(ctx context.Context, _ int) error {
		var err error
		switch kind {
		case MediaPhoto:
			err = ch.SendPhoto(ctx, path, caption)
		case MediaVideo:
			err = ch.SendVideo(ctx, path, caption)
		default:
			err = ch.SendDocument(ctx, path, caption)
		}
		if errors.Is(err, transport.ErrSessionExpired) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "send %s %s", kind, path)
	}
	return nil
}

// describe переводит ошибку попытки в человекочитаемую причину.
func describe(err error, username string) string {
	switch {
	case errors.Is(err, transport.ErrUsernameNotFound):
		return fmt.Sprintf("username %s is not occupied (user not found)", username)
	case errors.Is(err, transport.ErrUsernameInvalid):
		return fmt.Sprintf("invalid username format: %s", username)
	case errors.Is(err, ErrSecretChatUnavailable):
		return "secret chat unavailable for this account; not downgrading to a regular chat"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("delivery aborted: %v", err)
	}
	return err.Error()
}
