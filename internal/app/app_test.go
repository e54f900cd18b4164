package app_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"delivery-userbot/internal/app"
	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/domain/session"
	"delivery-userbot/internal/infra/config"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		APIID:            12345,
		APIHash:          "0123456789abcdef0123456789abcdef",
		PhoneNumber:      "+15551234567",
		PoolAccounts:     []string{"primary", "reserve"},
		StoreFile:        filepath.Join(dir, "userbot.bbolt"),
		DirectoryDB:      filepath.Join(dir, "directory.sqlite"),
		TempSessionDir:   filepath.Join(dir, "tmp"),
		AutoReconnect:    true,
		MaxRetries:       3,
		RetryDelay:       5 * time.Second,
		ThrottleRPS:      1,
		FloodWaitAutoMax: 5 * time.Second,
		RateLimitDefault: time.Hour,
		DeliveryChannel:  "direct_message",
		SecretChatTTL:    24 * time.Hour,
	}
}

func TestInitSeedsFirstAccountAndPersists(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(dir)
	a := app.NewApp(ctx, cancel, cfg)
	if err := a.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ex := a.Executor()

	infos := ex.Accounts()
	if len(infos) != 2 {
		t.Fatalf("Accounts() = %d entries, want 2", len(infos))
	}
	if got := infos[0].Session.Configuration; got != session.NoSession {
		t.Fatalf("primary configuration = %s, want no_session", got)
	}
	if got := infos[1].Session.Configuration; got != session.NotConfigured {
		t.Fatalf("reserve configuration = %s, want not_configured", got)
	}
	if !infos[0].Current {
		t.Fatalf("primary should be current by default")
	}

	if res := ex.Bind(ctx, 77, "@buyer_one"); !res.OK {
		t.Fatalf("Bind() = %+v", res)
	}
	a.Close()

	// Повторный запуск с другими bootstrap-данными не перетирает запись.
	cfg2 := testConfig(dir)
	cfg2.PhoneNumber = "+15550000000"
	b := app.NewApp(ctx, cancel, cfg2)
	if err := b.Init(); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer b.Close()

	st := b.Executor().Accounts()[0].Session
	if !st.HasCredentials || !strings.HasSuffix(st.Phone, "4567") {
		t.Fatalf("stored record lost or overwritten: %+v", st)
	}
}

func TestDeliverWithoutSessionFails(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.NewApp(ctx, cancel, testConfig(dir))
	if err := a.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer a.Close()
	ex := a.Executor()

	out := ex.Deliver(ctx, delivery.Request{RecipientID: 5})
	if out.Success || !strings.Contains(out.Message, "no username found for user 5") {
		t.Fatalf("Deliver(unbound) = %+v", out)
	}

	if res := ex.Bind(ctx, 5, "buyer_five"); !res.OK {
		t.Fatalf("Bind() = %+v", res)
	}
	out = ex.Deliver(ctx, delivery.Request{RecipientID: 5})
	if out.Success || out.Channel != delivery.DirectMessage {
		t.Fatalf("Deliver(no session) = %+v, want direct_message failure", out)
	}
	if out.ID == "" {
		t.Fatalf("delivery id is empty")
	}
}

func TestInitRejectsUnknownChannel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(dir)
	cfg.DeliveryChannel = "carrier_pigeon"
	a := app.NewApp(ctx, cancel, cfg)
	err := a.Init()
	if err == nil || !strings.Contains(err.Error(), "delivery channel") {
		t.Fatalf("Init() error = %v, want delivery channel error", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	a := app.NewApp(ctx, cancel, testConfig(dir))
	if err := a.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run() }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestInitWarnsAboutUnsupportedSecretChats(t *testing.T) {
	cases := []struct {
		channel  string
		wantWarn bool
	}{
		{channel: "direct_message"},
		{channel: "secret_chat", wantWarn: true},
	}

	for _, tc := range cases {
		t.Run(tc.channel, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg := testConfig(t.TempDir())
			cfg.DeliveryChannel = tc.channel
			a := app.NewApp(ctx, cancel, cfg)
			if err := a.Init(); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			defer a.Close()

			warned := false
			for _, w := range a.Warnings() {
				if strings.Contains(w, "no secret chat support") {
					warned = true
				}
			}
			if warned != tc.wantWarn {
				t.Fatalf("Warnings() = %v, want secret chat warning %v", a.Warnings(), tc.wantWarn)
			}
		})
	}
}
