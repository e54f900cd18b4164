package delivery_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"delivery-userbot/internal/domain/delivery"
	"delivery-userbot/internal/domain/transport"
)

var (
	errNetwork = errors.New("network unreachable")
	widget     = delivery.Product{Name: "Widget", Price: "9.99"}
)

func newDispatcher(t *testing.T, dir delivery.Directory, accounts ...*fakeAccount) (*delivery.Dispatcher, *sleeps) {
	t.Helper()
	list := make([]delivery.Account, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, a)
	}
	sl := &sleeps{}
	opts := delivery.DefaultOptions()
	opts.Sleep = sl.sleep
	opts.Now = nowFunc
	d := delivery.NewDispatcher(dir, delivery.NewPool(nowFunc, list...), delivery.NewSecretChats(), opts)
	return d, sl
}

func directAccount(name string, ch *fakeChannel) *fakeAccount {
	return &fakeAccount{name: name, messenger: &fakeMessenger{direct: ch}}
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	out := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("data"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		out = append(out, p)
	}
	return out
}

func TestDeliverNoUsernameMakesNoCalls(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	acc := directAccount("primary", ch)
	d, _ := newDispatcher(t, mapDirectory{}, acc)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success {
		t.Fatal("Deliver() succeeded for unknown recipient")
	}
	if !strings.Contains(out.Message, "no username") {
		t.Fatalf("message = %q", out.Message)
	}
	if acc.connects != 0 || len(ch.calls) != 0 {
		t.Fatalf("connects = %d, calls = %d, want none", acc.connects, len(ch.calls))
	}
	if out.ID == "" {
		t.Fatal("outcome has no correlation id")
	}
}

func TestDeliverInvalidUsername(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	acc := directAccount("primary", ch)
	d, _ := newDispatcher(t, mapDirectory{5: "9bad name"}, acc)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || !strings.Contains(out.Message, "invalid username format") {
		t.Fatalf("outcome = %+v", out)
	}
	if acc.connects != 0 {
		t.Fatalf("connects = %d, want 0", acc.connects)
	}
}

func TestDeliverDirectText(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	acc := directAccount("primary", ch)
	d, sl := newDispatcher(t, mapDirectory{5: "buyer_one"}, acc)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if !out.Success {
		t.Fatalf("Deliver() failed: %s", out.Message)
	}
	if out.Channel != delivery.DirectMessage || out.Account != "primary" || out.Fallback {
		t.Fatalf("outcome = %+v", out)
	}
	if got := acc.messenger.resolved; !reflect.DeepEqual(got, []string{"@buyer_one"}) {
		t.Fatalf("resolved = %v", got)
	}
	if len(ch.calls) != 1 || !strings.Contains(ch.calls[0].caption, "📦 Product: Widget") {
		t.Fatalf("calls = %+v", ch.calls)
	}
	if len(sl.waits) != 0 {
		t.Fatalf("waits = %v, want none", sl.waits)
	}
}

func TestDeliverTextRetryWaitsLinearly(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{textErrs: repeat(errNetwork, 5)}
	d, sl := newDispatcher(t, mapDirectory{5: "@buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success {
		t.Fatal("Deliver() succeeded with a dead channel")
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second}
	if !reflect.DeepEqual(sl.waits, want) {
		t.Fatalf("waits = %v, want %v", sl.waits, want)
	}
	if len(ch.calls) != 5 {
		t.Fatalf("text attempts = %d, want 5", len(ch.calls))
	}
}

func TestDeliverTextRetryRecovers(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{textErrs: repeat(errNetwork, 2)}
	d, sl := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if !out.Success {
		t.Fatalf("Deliver() failed: %s", out.Message)
	}
	if want := []time.Duration{2 * time.Second, 4 * time.Second}; !reflect.DeepEqual(sl.waits, want) {
		t.Fatalf("waits = %v, want %v", sl.waits, want)
	}
}

func TestDeliverSessionExpiredIsNotRetried(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{textErrs: repeat(transport.ErrSessionExpired, 5)}
	d, sl := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success {
		t.Fatal("Deliver() succeeded")
	}
	if len(ch.calls) != 1 || len(sl.waits) != 0 {
		t.Fatalf("calls = %d waits = %v, want a single attempt", len(ch.calls), sl.waits)
	}
}

func TestDeliverMediaContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	files := writeFiles(t, "a.jpg", "b.pdf", "c.mp4")
	ch := &fakeChannel{
		captions:  true,
		mediaErrs: map[string][]error{files[1]: repeat(errNetwork, 3)},
	}
	d, sl := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Media: files})
	if !out.Success {
		t.Fatalf("Deliver() failed: %s", out.Message)
	}
	if out.MediaSent != 2 || out.MediaTotal != 3 {
		t.Fatalf("media = %d/%d, want 2/3", out.MediaSent, out.MediaTotal)
	}
	if !strings.Contains(out.Message, "2/3") {
		t.Fatalf("message = %q", out.Message)
	}

	wantKinds := []string{"photo", "document", "document", "document", "video"}
	if got := ch.kinds(); !reflect.DeepEqual(got, wantKinds) {
		t.Fatalf("calls = %v, want %v", got, wantKinds)
	}
	if !strings.Contains(ch.calls[0].caption, "Widget") {
		t.Fatalf("first media caption = %q, want product text", ch.calls[0].caption)
	}
	if ch.calls[4].caption != "" {
		t.Fatalf("later media caption = %q, want empty", ch.calls[4].caption)
	}
	if want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}; !reflect.DeepEqual(sl.waits, want) {
		t.Fatalf("waits = %v, want %v", sl.waits, want)
	}
}

func TestDeliverCaptionMediaFailureSendsTextStandalone(t *testing.T) {
	t.Parallel()

	files := writeFiles(t, "a.jpg")
	ch := &fakeChannel{
		captions:  true,
		mediaErrs: map[string][]error{files[0]: repeat(errNetwork, 3)},
	}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Media: files})
	if !out.Success || out.MediaSent != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	want := []string{"photo", "photo", "photo", "text"}
	if got := ch.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestDeliverWithoutCaptionsSendsTextFirst(t *testing.T) {
	t.Parallel()

	files := writeFiles(t, "manual.pdf")
	missing := filepath.Join(t.TempDir(), "gone.png")
	ch := &fakeChannel{}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{
		RecipientID: 5,
		Product:     widget,
		Media:       []string{missing, files[0]},
	})
	if !out.Success || out.MediaSent != 1 || out.MediaTotal != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	want := []string{"text", "document"}
	if got := ch.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if ch.calls[1].caption != "" {
		t.Fatalf("document caption = %q, want empty", ch.calls[1].caption)
	}
}

func TestDeliverRotatesOnRateLimit(t *testing.T) {
	t.Parallel()

	limited := &fakeAccount{name: "first", messenger: &fakeMessenger{
		resolveErr: &transport.RateLimitError{Wait: 30 * time.Minute, Err: errNetwork},
		direct:     &fakeChannel{},
	}}
	ch := &fakeChannel{}
	second := directAccount("second", ch)
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, limited, second)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if !out.Success || out.Account != "second" {
		t.Fatalf("outcome = %+v", out)
	}
	if limited.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", limited.disconnects)
	}
	snap := d.Pool().Snapshot()
	if !snap[0].Limited || !snap[0].RateLimitedUntil.Equal(fixedNow.Add(30*time.Minute)) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(ch.calls) != 1 {
		t.Fatalf("second account calls = %d, want 1", len(ch.calls))
	}
}

func TestDeliverRotationSkipsUnusableAlternates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		second    *fakeAccount
		wantDials int
	}{
		{
			name:      "connect refused",
			second:    &fakeAccount{name: "second", dialErr: errors.New("no session artifact, login required"), messenger: &fakeMessenger{direct: &fakeChannel{}}},
			wantDials: 1,
		},
		{
			name:      "not ready",
			second:    &fakeAccount{name: "second", notReady: true, messenger: &fakeMessenger{direct: &fakeChannel{}}},
			wantDials: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			first := &fakeAccount{name: "first", messenger: &fakeMessenger{
				resolveErr: &transport.RateLimitError{Wait: time.Minute, Err: errNetwork},
				direct:     &fakeChannel{},
			}}
			ch := &fakeChannel{}
			third := directAccount("third", ch)
			d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, first, tt.second, third)

			out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
			if !out.Success || out.Account != "third" {
				t.Fatalf("outcome = %+v", out)
			}
			if tt.second.dials != tt.wantDials || third.dials != 1 {
				t.Fatalf("dials: second = %d third = %d", tt.second.dials, third.dials)
			}
			if first.disconnects != 1 || len(ch.calls) != 1 {
				t.Fatalf("first disconnects = %d, third calls = %d", first.disconnects, len(ch.calls))
			}
		})
	}
}

func TestDeliverRotatesOnSecretChatCreateRateLimit(t *testing.T) {
	t.Parallel()

	firstOpener := &fakeOpener{
		createErrs: []error{&transport.RateLimitError{Wait: time.Hour, Err: errNetwork}},
		channel:    &fakeChannel{},
	}
	first := &fakeAccount{name: "first", messenger: &fakeMessenger{direct: &fakeChannel{}, opener: firstOpener}}
	secret := &fakeChannel{captions: true}
	secondOpener := &fakeOpener{channel: secret}
	second := &fakeAccount{name: "second", messenger: &fakeMessenger{direct: &fakeChannel{}, opener: secondOpener}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, first, second)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Preference: delivery.SecretChat})
	if !out.Success || out.Fallback || out.Channel != delivery.SecretChat || out.Account != "second" {
		t.Fatalf("outcome = %+v", out)
	}
	if firstOpener.created != 0 || secondOpener.created != 1 || len(secret.calls) != 1 {
		t.Fatalf("created first = %d second = %d, secret calls = %d", firstOpener.created, secondOpener.created, len(secret.calls))
	}
	if snap := d.Pool().Snapshot(); !snap[0].Limited || snap[1].Limited {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDeliverSecretChatFallbackWhenAlternatesUnusable(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{
		createErrs: []error{&transport.RateLimitError{Wait: time.Hour, Err: errNetwork}},
		channel:    &fakeChannel{},
	}
	direct := &fakeChannel{}
	first := &fakeAccount{name: "first", messenger: &fakeMessenger{direct: direct, opener: opener}}
	second := &fakeAccount{name: "second", dialErr: errors.New("retry limit reached"), messenger: &fakeMessenger{direct: &fakeChannel{}}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, first, second)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Preference: delivery.SecretChat})
	if !out.Success || !out.Fallback || out.Account != "first" || out.Channel != delivery.DirectMessage {
		t.Fatalf("outcome = %+v", out)
	}
	if first.disconnects != 0 || second.dials != 1 {
		t.Fatalf("first disconnects = %d, second dials = %d", first.disconnects, second.dials)
	}
	if len(direct.calls) != 1 {
		t.Fatalf("direct calls = %d, want 1", len(direct.calls))
	}
}

func TestDeliverAbortedDuringRetryLeavesPoolUntouched(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := directAccount("first", &fakeChannel{
		textErrs: repeat(&transport.RateLimitError{Wait: time.Minute, Err: errNetwork}, 5),
	})
	second := directAccount("second", &fakeChannel{})
	opts := delivery.DefaultOptions()
	opts.Now = nowFunc
	opts.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	d := delivery.NewDispatcher(mapDirectory{5: "buyer_one"}, delivery.NewPool(nowFunc, first, second), nil, opts)

	out := d.Deliver(ctx, delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || !strings.HasPrefix(out.Message, "delivery aborted") || out.Account != "first" {
		t.Fatalf("outcome = %+v", out)
	}
	if first.disconnects != 0 || second.connects+second.dials != 0 {
		t.Fatalf("first disconnects = %d, second connects = %d dials = %d", first.disconnects, second.connects, second.dials)
	}
	for _, st := range d.Pool().Snapshot() {
		if st.Limited {
			t.Fatalf("account %s marked limited after abort", st.Name)
		}
	}
}

func TestDeliverNoReadyAccounts(t *testing.T) {
	t.Parallel()

	a := &fakeAccount{name: "a", notReady: true}
	b := &fakeAccount{name: "b", notReady: true}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, a, b)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || !strings.Contains(out.Message, "login required") {
		t.Fatalf("outcome = %+v", out)
	}
	if a.connects+b.connects+a.dials+b.dials != 0 {
		t.Fatal("accounts without session were connected")
	}
}

func TestDeliverRateLimitWithoutWaitUsesDefault(t *testing.T) {
	t.Parallel()

	limited := &fakeAccount{name: "first", messenger: &fakeMessenger{
		resolveErr: &transport.RateLimitError{Err: errNetwork},
	}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, limited, directAccount("second", &fakeChannel{}))

	if out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget}); !out.Success {
		t.Fatalf("Deliver() failed: %s", out.Message)
	}
	if got := d.Pool().Snapshot()[0].RateLimitedUntil; !got.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("until = %v, want default hour", got)
	}
}

func TestDeliverAllAccountsLimited(t *testing.T) {
	t.Parallel()

	a := directAccount("a", &fakeChannel{})
	b := directAccount("b", &fakeChannel{})
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, a, b)
	d.Pool().MarkLimited("a", time.Hour)
	d.Pool().MarkLimited("b", time.Hour)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || out.Message != "all accounts rate-limited" {
		t.Fatalf("outcome = %+v", out)
	}
	if a.connects+b.connects != 0 {
		t.Fatal("limited accounts were connected")
	}
}

func TestDeliverDirectRateLimitedSingleAccountFails(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{textErrs: []error{&transport.RateLimitError{Wait: time.Minute, Err: errNetwork}}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, directAccount("primary", ch))

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || out.Fallback || !strings.Contains(out.Message, "rate limited") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDeliverSecretChat(t *testing.T) {
	t.Parallel()

	secret := &fakeChannel{captions: true}
	opener := &fakeOpener{channel: secret}
	direct := &fakeChannel{}
	acc := &fakeAccount{name: "primary", messenger: &fakeMessenger{direct: direct, opener: opener}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, acc)
	req := delivery.Request{RecipientID: 5, Product: widget, Preference: delivery.SecretChat}

	for i := 0; i < 2; i++ {
		out := d.Deliver(context.Background(), req)
		if !out.Success || out.Channel != delivery.SecretChat {
			t.Fatalf("delivery %d outcome = %+v", i, out)
		}
	}
	if opener.created != 1 {
		t.Fatalf("created = %d, want one reused chat", opener.created)
	}
	if len(direct.calls) != 0 {
		t.Fatalf("direct calls = %d, want 0", len(direct.calls))
	}
	if !strings.Contains(secret.calls[0].caption, "self-destruct in 24 hours") {
		t.Fatalf("secret text = %q", secret.calls[0].caption)
	}
}

func TestDeliverSecretChatFallsBackOnRateLimit(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{
		createErrs: []error{&transport.RateLimitError{Wait: time.Hour, Err: errNetwork}},
		channel:    &fakeChannel{},
	}
	direct := &fakeChannel{}
	acc := &fakeAccount{name: "primary", messenger: &fakeMessenger{direct: direct, opener: opener}}
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, acc)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Preference: delivery.SecretChat})
	if !out.Success || !out.Fallback || out.Channel != delivery.DirectMessage {
		t.Fatalf("outcome = %+v", out)
	}
	if len(direct.calls) != 1 || !strings.HasPrefix(direct.calls[0].caption, "⚠️") {
		t.Fatalf("direct calls = %+v", direct.calls)
	}
}

func TestDeliverSecretChatNoDowngradeOnOtherErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		messenger *fakeMessenger
		want      string
	}{
		{
			name:      "unsupported",
			messenger: &fakeMessenger{direct: &fakeChannel{}},
			want:      "secret chat unavailable",
		},
		{
			name: "create failed",
			messenger: &fakeMessenger{direct: &fakeChannel{}, opener: &fakeOpener{
				createErrs: []error{errors.New("ENCRYPTION_DECLINED")},
			}},
			want: "ENCRYPTION_DECLINED",
		},
		{
			name:      "username not occupied",
			messenger: &fakeMessenger{direct: &fakeChannel{}, resolveErr: transport.ErrUsernameNotFound},
			want:      "not occupied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			acc := &fakeAccount{name: "primary", messenger: tt.messenger}
			d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, acc)

			out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget, Preference: delivery.SecretChat})
			if out.Success || out.Fallback {
				t.Fatalf("outcome = %+v", out)
			}
			if !strings.Contains(out.Message, tt.want) {
				t.Fatalf("message = %q, want %q", out.Message, tt.want)
			}
			if n := len(tt.messenger.direct.calls); n != 0 {
				t.Fatalf("direct calls = %d, want 0", n)
			}
		})
	}
}

func TestDeliverNotConnected(t *testing.T) {
	t.Parallel()

	acc := directAccount("primary", &fakeChannel{})
	acc.connectErr = errors.New("retry limit reached")
	d, _ := newDispatcher(t, mapDirectory{5: "buyer_one"}, acc)

	out := d.Deliver(context.Background(), delivery.Request{RecipientID: 5, Product: widget})
	if out.Success || !strings.Contains(out.Message, "not connected") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestParseChannelKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    delivery.ChannelKind
		wantErr bool
	}{
		{"", delivery.DirectMessage, false},
		{"secret_chat", delivery.SecretChat, false},
		{" DIRECT_MESSAGE ", delivery.DirectMessage, false},
		{"carrier_pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := delivery.ParseChannelKind(tt.in, delivery.DirectMessage)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseChannelKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}
