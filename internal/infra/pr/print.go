// Package pr обслуживает вывод и ввод интерактивной консоли. После Init stdout/stderr идут
// через буферы readline, чтобы логи не рвали строку ввода. До Init всё пишется
// в os.Stdout/os.Stderr, поэтому пакет безопасен и в тестах.
package pr

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/go-faster/errors"
	"github.com/kr/pretty"
	"golang.org/x/term"
)

var (
	mu sync.Mutex
	// rl: активный readline; nil до Init.
	rl           *readline.Instance
	out          io.Writer = os.Stdout
	errOut       io.Writer = os.Stderr
	cancelableIn interface{ Close() error }
)

// ErrNoTerminal означает, что ввод недоступен: Init не вызывался.
var ErrNoTerminal = errors.New("interactive input is not initialised")

// Init поднимает readline поверх отменяемого stdin и переключает вывод на его буферы.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	instance, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return errors.Wrap(err, "init readline")
	}

	mu.Lock()
	defer mu.Unlock()
	rl = instance
	cancelableIn = cs
	out = instance.Stdout()
	errOut = instance.Stderr()
	return nil
}

// InterruptReadline закрывает stdin: ожидающий Readline получает io.EOF.
func InterruptReadline() {
	mu.Lock()
	in := cancelableIn
	mu.Unlock()
	if in != nil {
		_ = in.Close()
	}
}

// SetPrompt меняет приглашение; без readline ничего не делает.
func SetPrompt(prompt string) {
	if r := Rl(); r != nil {
		r.SetPrompt(prompt)
	}
}

// Rl возвращает текущий readline или nil.
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

// ReadLine печатает приглашение и читает строку без пробелов по краям.
// Приглашение по умолчанию затем восстанавливается.
func ReadLine(prompt, restore string) (string, error) {
	r := Rl()
	if r == nil {
		return "", ErrNoTerminal
	}
	r.SetPrompt(prompt)
	defer r.SetPrompt(restore)
	line, err := r.Readline()
	return strings.TrimSpace(line), err
}

// ReadPassword читает строку без эха (пароль второго фактора).
func ReadPassword(prompt string) (string, error) {
	Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	Println()
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(raw), nil
}

// Stdout возвращает текущий writer вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// SetWriters подменяет оба потока; nil оставляет поток как есть.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
}

func Print(a ...any)                 { fmt.Fprint(Stdout(), a...) }
func Println(a ...any)               { fmt.Fprintln(Stdout(), a...) }
func Printf(format string, a ...any) { fmt.Fprintf(Stdout(), format, a...) }

func ErrPrintln(a ...any)               { fmt.Fprintln(Stderr(), a...) }
func ErrPrintf(format string, a ...any) { fmt.Fprintf(Stderr(), format, a...) }

// PP pretty-печатает значение, например снимок статуса.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf: pretty-строка значения для логов.
func Pf(v any) string {
	return fmt.Sprintf("%# v", pretty.Formatter(v))
}
