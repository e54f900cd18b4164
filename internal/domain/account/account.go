// Package account описывает учётные данные userbot-аккаунта и их локальную проверку.
// Проверки чистые: ни одна не делает сетевых вызовов, поэтому кривой ввод не
// сжигает попытку входа и не приближает flood-лимиты.
package account

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	apiHashRe = regexp.MustCompile(`^[a-f0-9]{32}$`)
	phoneRe   = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	codeRe    = regexp.MustCompile(`^\d{4,8}$`)
)

// Credentials содержит тройку для входа через MTProto. Не мутируется: замена создаёт новую запись.
type Credentials struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone_number"`
}

// IsZero сообщает, что учётные данные не заданы вовсе.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Artifact: непрозрачная строка сессии, позволяющая переподключаться без кода.
type Artifact string

// Record описывает то, что хранит внешнее хранилище: учётные данные и (опционально) артефакт.
type Record struct {
	Credentials
	Session Artifact `json:"session_artifact,omitempty"`
}

// HasCredentials: запись содержит учётные данные.
func (r Record) HasCredentials() bool { return !r.Credentials.IsZero() }

// HasSession: запись содержит артефакт сессии.
func (r Record) HasSession() bool { return strings.TrimSpace(string(r.Session)) != "" }

// ValidationError: ошибка локальной проверки ввода.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate проверяет уже собранные Credentials.
func (c Credentials) Validate() error {
	if c.APIID <= 0 {
		return invalid("api_id", "must be a positive integer")
	}
	if !apiHashRe.MatchString(c.APIHash) {
		return invalid("api_hash", "must be exactly 32 lowercase hex characters")
	}
	if !phoneRe.MatchString(c.Phone) {
		return invalid("phone_number", "must look like +15551234567")
	}
	return nil
}

// ParseCredentials разбирает сырой ввод администратора (api_id строкой) и проверяет его.
// Пробелы по краям отрезаются, регистр api_hash не нормализуется.
func ParseCredentials(apiID, apiHash, phone string) (Credentials, error) {
	id, err := strconv.Atoi(strings.TrimSpace(apiID))
	if err != nil {
		return Credentials{}, invalid("api_id", "must be a positive integer")
	}
	creds := Credentials{
		APIID:   id,
		APIHash: strings.TrimSpace(apiHash),
		Phone:   strings.TrimSpace(phone),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// ValidateCode возвращает код подтверждения без пробелов: от 4 до 8 цифр.
func ValidateCode(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if !codeRe.MatchString(trimmed) {
		return "", invalid("code", "must be 4 to 8 digits")
	}
	return trimmed, nil
}

// ValidatePassword отклоняет пустой пароль и пароль из одних пробелов.
// Сам пароль возвращается без изменений: пробелы могут быть его частью.
func ValidatePassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return invalid("password", "must not be empty")
	}
	return nil
}
