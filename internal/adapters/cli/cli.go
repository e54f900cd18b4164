// Package cli реализует интерактивную консоль администратора userbot доставки.
// Сервис стартует фоном, читает команды из readline и передаёт их в
// commands.Executor: настройка аккаунтов, вход, подключение, привязка
// покупателей и ручная доставка. Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"delivery-userbot/internal/domain/commands"
	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/infra/logger"
	"delivery-userbot/internal/infra/pr"
)

// commandDescriptor описывает одну CLI-команду: её имя, аргументы и краткое описание для help.
type commandDescriptor struct {
	name        string
	args        string
	description string
}

// commandDescriptors: реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var (
	commandDescriptors = []commandDescriptor{
		{name: "help", description: "Show available commands with short descriptions"},
		{name: "accounts", description: "List pool accounts with connection and rate-limit state"},
		{name: "use", args: "<name>", description: "Select the account the next commands apply to"},
		{name: "creds", args: "<api_id> <api_hash> <phone>", description: "Validate and save account credentials"},
		{name: "login", description: "Request a verification code"},
		{name: "code", args: "<digits>", description: "Submit the verification code"},
		{name: "password", description: "Submit the two-factor password (no echo)"},
		{name: "abort", description: "Abort the login in progress"},
		{name: "import", args: "<session>", description: "Import a Telethon string session"},
		{name: "connect", description: "Connect with the saved session"},
		{name: "disconnect", description: "Close the connection"},
		{name: "reconnect", description: "Disconnect, reset retries and connect again"},
		{name: "reset", description: "Reset the reconnect retry counter"},
		{name: "health", description: "Probe the live connection"},
		{name: "whoami", description: "Display information about the current account"},
		{name: "status", args: "[raw]", description: "Show session status of the current account"},
		{name: "bind", args: "<user_id> <username>", description: "Store a buyer's Telegram username"},
		{name: "deliver", args: "<user_id> [key=value ...] [-- file ...]", description: "Deliver a product to a buyer"},
		{name: "version", description: "Print userbot version"},
		{name: "exit", description: "Stop CLI and terminate the service"},
	}
)

const (
	shortTimeOut   = 10 * time.Second
	mediumTimeOut  = 60 * time.Second
	deliverTimeOut = 10 * time.Minute
)

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
type Service struct {
	exec      commands.Executor  // исполнитель команд
	stopApp   context.CancelFunc // внешняя отмена приложения (exit и Ctrl-C на пустой строке)
	ctx       context.Context    // контекст run-цикла; родитель таймаутов команд
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once          // идемпотентный запуск
	onceStop  sync.Once          // идемпотентная остановка
}

// NewService создаёт CLI-сервис. Параметр stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(exec commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.ctx = runCtx
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения, прерывает
// readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run: основной цикл обработчика CLI.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		rl := pr.Rl()
		if rl == nil {
			logger.Debug("CLI: no terminal, console disabled")
			return
		}

		line, err := rl.Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(cmd) {
			logger.Debug("CLI: exit requested")
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' печатает help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке останавливает приложение;
//   - Ctrl-C на непустой строке очищает строку.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

func (s *Service) timeout(d time.Duration) (context.Context, context.CancelFunc) {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}

// printResult печатает исход команды: успех в stdout, отказ в stderr.
func printResult(res commands.Result) {
	if res.OK {
		pr.Println(res.Message)
		return
	}
	pr.ErrPrintln("error:", res.Message)
}

// handleCommand разбирает введённую команду и выполняет соответствующее действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(line string) bool {
	args := splitArgs(line)
	if len(args) == 0 {
		return false
	}
	name, rest := args[0], args[1:]

	switch name {
	case "help":
		printCommandHelp()
	case "accounts":
		printAccounts(s.exec.Accounts())
	case "use":
		if len(rest) != 1 {
			pr.ErrPrintln("usage: use <name>")
			break
		}
		printResult(s.exec.Use(rest[0]))
	case "creds":
		if len(rest) != 3 { //nolint:mnd // api_id api_hash phone
			pr.ErrPrintln("usage: creds <api_id> <api_hash> <phone>")
			break
		}
		ctx, cancel := s.timeout(shortTimeOut)
		printResult(s.exec.SetCredentials(ctx, rest[0], rest[1], rest[2]))
		cancel()
	case "login":
		ctx, cancel := s.timeout(mediumTimeOut)
		printResult(s.exec.StartLogin(ctx))
		cancel()
	case "code":
		if len(rest) != 1 {
			pr.ErrPrintln("usage: code <digits>")
			break
		}
		ctx, cancel := s.timeout(mediumTimeOut)
		printResult(s.exec.SubmitCode(ctx, rest[0]))
		cancel()
	case "password":
		s.handlePassword()
	case "abort":
		printResult(s.exec.AbortLogin())
	case "import":
		if len(rest) != 1 {
			pr.ErrPrintln("usage: import <session>")
			break
		}
		ctx, cancel := s.timeout(shortTimeOut)
		printResult(s.exec.ImportSession(ctx, rest[0]))
		cancel()
	case "connect":
		ctx, cancel := s.timeout(mediumTimeOut)
		printResult(s.exec.Connect(ctx))
		cancel()
	case "disconnect":
		printResult(s.exec.Disconnect())
	case "reconnect":
		ctx, cancel := s.timeout(mediumTimeOut)
		printResult(s.exec.Reconnect(ctx))
		cancel()
	case "reset":
		printResult(s.exec.ResetRetries())
	case "health":
		ctx, cancel := s.timeout(shortTimeOut)
		printResult(s.exec.Health(ctx))
		cancel()
	case "whoami":
		ctx, cancel := s.timeout(shortTimeOut)
		printResult(s.exec.Whoami(ctx))
		cancel()
	case "status":
		s.handleStatus(len(rest) == 1 && rest[0] == "raw")
	case "bind":
		s.handleBind(rest)
	case "deliver":
		s.handleDeliver(rest)
	case "version":
		v := s.exec.Version()
		pr.ErrPrintln(fmt.Sprintf("%s v%s", v.Name, v.Version))
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", name)
	}
	return false
}

func (s *Service) handlePassword() {
	password, err := pr.ReadPassword("2FA password: ")
	if err != nil {
		pr.ErrPrintln("password input error:", err)
		return
	}
	ctx, cancel := s.timeout(mediumTimeOut)
	defer cancel()
	printResult(s.exec.SubmitPassword(ctx, password))
}

func (s *Service) handleStatus(raw bool) {
	for _, info := range s.exec.Accounts() {
		if !info.Current {
			continue
		}
		if raw {
			pr.PP(info)
			return
		}
		st := info.Session
		pr.Printf("Account:        %s (%s)\n", st.Account, orDash(st.Phone))
		pr.Printf("Configuration:  %s\n", st.Configuration)
		pr.Printf("Login state:    %s\n", st.LoginState)
		pr.Printf("Connected:      %t (authenticated %t)\n", st.Connected, st.Authenticated)
		pr.Printf("Retries:        %d/%d\n", st.RetryCount, st.MaxRetries)
		pr.Printf("Last attempt:   %s\n", formatTime(st.LastAttempt))
		pr.Printf("Rate limited:   %s\n", formatTime(info.Pool.RateLimitedUntil))
		if st.LastError != "" {
			pr.Printf("Last error:     %s\n", st.LastError)
		}
		return
	}
}

func (s *Service) handleBind(rest []string) {
	if len(rest) != 2 { //nolint:mnd // user_id username
		pr.ErrPrintln("usage: bind <user_id> <username>")
		return
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("user_id must be an integer")
		return
	}
	ctx, cancel := s.timeout(shortTimeOut)
	defer cancel()
	printResult(s.exec.Bind(ctx, id, rest[1]))
}

func (s *Service) handleDeliver(rest []string) {
	req, err := parseDeliverArgs(rest)
	if err != nil {
		pr.ErrPrintln("usage: deliver <user_id> [key=value ...] [-- file ...]:", err)
		return
	}
	ctx, cancel := s.timeout(deliverTimeOut)
	defer cancel()

	pr.Printf("Delivering to user %d...\n", req.RecipientID)
	out := s.exec.Deliver(ctx, req)
	printResult(commands.Result{OK: out.Success, Message: out.Message})
	pr.Printf("id=%s account=%s channel=%s media=%d/%d\n",
		out.ID, orDash(out.Account), out.Channel, out.MediaSent, out.MediaTotal)
}

// parseDeliverArgs разбирает "<user_id> [key=value ...] [-- file ...]".
// Ключ channel задаёт предпочтение канала, остальные ключи уходят в товар.
func parseDeliverArgs(args []string) (delivery.Request, error) {
	if len(args) == 0 {
		return delivery.Request{}, errors.New("user_id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return delivery.Request{}, errors.Errorf("bad user_id %q", args[0])
	}

	req := delivery.Request{RecipientID: id}
	fields := make(map[string]string)
	for i := 1; i < len(args); i++ {
		if args[i] == "--" {
			req.Media = append(req.Media, args[i+1:]...)
			break
		}
		key, value, found := strings.Cut(args[i], "=")
		if !found || strings.TrimSpace(key) == "" {
			return delivery.Request{}, errors.Errorf("expected key=value, got %q", args[i])
		}
		if strings.EqualFold(key, "channel") {
			ch, chErr := delivery.ParseChannelKind(value, "")
			if chErr != nil {
				return delivery.Request{}, chErr
			}
			req.Preference = ch
			continue
		}
		fields[key] = value
	}
	req.Product = delivery.ProductFromMap(fields)
	return req, nil
}

// splitArgs режет строку по пробелам, уважая двойные кавычки:
// name="Big box" остаётся одним аргументом.
func splitArgs(line string) []string {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case (r == ' ' || r == '\t') && !quoted:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}

func printAccounts(infos []commands.AccountInfo) {
	for _, info := range infos {
		mark := " "
		if info.Current {
			mark = "*"
		}
		st := info.Session
		state := "offline"
		if st.Connected {
			state = "online"
		}
		limited := ""
		if info.Pool.Limited {
			limited = " rate-limited until " + formatTime(info.Pool.RateLimitedUntil)
		}
		pr.Printf("%s %-12s %-15s %-14s %s%s\n", mark, st.Account, orDash(st.Phone), st.Configuration, state, limited)
	}
	pr.Printf("Total accounts: %d\n", len(infos))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "<never>"
	}
	return t.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> <args> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, d := range descriptors {
		usage := strings.TrimSpace(d.name + " " + d.args)
		lines = append(lines, fmt.Sprintf("  %-40s - %s", usage, d.description))
	}
	return lines
}
