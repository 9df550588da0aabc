package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fabriz042/Chat-test/internal/identity"
	"github.com/fabriz042/Chat-test/internal/kvstore"
	"github.com/fabriz042/Chat-test/internal/notifications/channels"
)

// fakeChannel records every Send and answers with err after delay.
type fakeChannel struct {
	typ   string
	needs bool
	err   error
	delay time.Duration
	panic bool

	mu         sync.Mutex
	calls      int
	recipients []identity.User
	msg        channels.Message
}

func (f *fakeChannel) Send(ctx context.Context, msg channels.Message, recipients []identity.User) error {
	f.mu.Lock()
	f.calls++
	f.msg = msg
	f.recipients = recipients
	f.mu.Unlock()

	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeChannel) Type() string          { return f.typ }
func (f *fakeChannel) NeedsRecipients() bool { return f.needs }

func (f *fakeChannel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stuckChannel ignores ctx and only returns once released.
type stuckChannel struct {
	typ     string
	release chan struct{}
}

func (s *stuckChannel) Send(context.Context, channels.Message, []identity.User) error {
	<-s.release
	return nil
}

func (s *stuckChannel) Type() string          { return s.typ }
func (s *stuckChannel) NeedsRecipients() bool { return false }

// recordingKV keeps the status of every write so tests can check the order
// in which a record moved through its states.
type recordingKV struct {
	*kvstore.MemoryStore

	mu      sync.Mutex
	history map[string][]Status
}

func newRecordingKV() *recordingKV {
	return &recordingKV{MemoryStore: kvstore.NewMemoryStore(), history: make(map[string][]Status)}
}

func (r *recordingKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var n Notification
	if err := json.Unmarshal(value, &n); err == nil {
		r.mu.Lock()
		r.history[key] = append(r.history[key], n.Status)
		r.mu.Unlock()
	}
	return r.MemoryStore.Set(ctx, key, value, ttl)
}

func (r *recordingKV) statuses(id string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.history[keyPrefix+id]...)
}

var testUsers = []identity.User{
	{ID: "u1", Username: "alice", Email: "alice@example.com", Phone: "+100", Role: "officer"},
	{ID: "u2", Username: "bob", Email: "bob@example.com", Role: "admin"},
	{ID: "u3", Username: "carol", Role: "officer"},
}

func newTestOrchestrator(t *testing.T, cfg Config, chans ...channels.Channel) (*Orchestrator, *recordingKV) {
	t.Helper()
	kv := newRecordingKV()
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = time.Second
	}
	o := NewOrchestrator(NewRecordStore(kv, time.Hour), identity.NewStaticDirectory(testUsers), chans, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return o, kv
}

func waitTicket(t *testing.T, tk *Ticket) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tk.Wait(ctx); err != nil {
		t.Fatalf("notification %s did not finish: %v", tk.ID, err)
	}
}

func allChannels(socketErr, emailErr, smsErr error) (*fakeChannel, *fakeChannel, *fakeChannel) {
	return &fakeChannel{typ: channels.TypeSocket, err: socketErr},
		&fakeChannel{typ: channels.TypeEmail, needs: true, err: emailErr},
		&fakeChannel{typ: channels.TypeSMS, needs: true, err: smsErr}
}

func TestOrchestrator_AllChannelsDelivered(t *testing.T) {
	socket, email, sms := allChannels(nil, nil, nil)
	o, kv := newTestOrchestrator(t, Config{}, socket, email, sms)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "Shift change", Message: "Report at 6", Channels: []string{"socket", "email", "sms"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, err := o.GetStatus(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if n.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s (%v)", n.Status, n.Channels)
	}
	if n.DeliveredAt == nil {
		t.Error("delivered_at must be set once delivered")
	}
	if n.Content.Priority != PriorityNormal {
		t.Errorf("expected default priority normal, got %s", n.Content.Priority)
	}

	if len(email.recipients) != 1 || email.recipients[0].Email != "alice@example.com" {
		t.Errorf("email should receive the resolved user, got %v", email.recipients)
	}
	if email.msg.NotificationID != tk.ID || email.msg.Title != "Shift change" {
		t.Errorf("unexpected message %+v", email.msg)
	}

	hist := kv.statuses(tk.ID)
	if len(hist) == 0 || hist[0] != StatusPending {
		t.Fatalf("first write must be pending, got %v", hist)
	}
	for i, s := range hist[:len(hist)-1] {
		if s.Terminal() {
			t.Errorf("write %d was terminal before the final write: %v", i, hist)
		}
	}
	if !hist[len(hist)-1].Terminal() {
		t.Errorf("final write must be terminal, got %v", hist)
	}
}

func TestOrchestrator_PartialDelivery(t *testing.T) {
	socket, email, sms := allChannels(nil, errors.New("smtp down"), nil)
	o, _ := newTestOrchestrator(t, Config{}, socket, email, sms)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "email", "sms"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Status != StatusPartiallyDelivered {
		t.Fatalf("expected partially_delivered, got %s", n.Status)
	}
	if n.Channels["email"] != StateFailed || n.Channels["socket"] != StateDelivered || n.Channels["sms"] != StateDelivered {
		t.Errorf("unexpected channel slots %v", n.Channels)
	}
	if n.DeliveredAt != nil {
		t.Error("delivered_at must stay unset unless fully delivered")
	}
}

func TestOrchestrator_AllChannelsFail(t *testing.T) {
	socket, email, _ := allChannels(channels.ErrNoRecipients, channels.ErrRejected, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket, email)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "email"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", n.Status)
	}
}

func TestOrchestrator_DefaultsToSocket(t *testing.T) {
	socket, email, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket, email)

	tk, err := o.AcceptUser(context.Background(), UserRequest{UserID: "u1", Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if len(n.Channels) != 1 || n.Channels["socket"] != StateDelivered {
		t.Errorf("expected socket only, got %v", n.Channels)
	}
	if email.Calls() != 0 {
		t.Error("email must not be attempted when not requested")
	}
}

func TestOrchestrator_RejectsBeforePersisting(t *testing.T) {
	socket, _, _ := allChannels(nil, nil, nil)
	o, kv := newTestOrchestrator(t, Config{}, socket)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     UserRequest
		wantErr error
	}{
		{"empty channel list", UserRequest{UserID: "u1", Title: "t", Message: "m", Channels: []string{}}, ErrInvalidChannelSet},
		{"unknown channel", UserRequest{UserID: "u1", Title: "t", Message: "m", Channels: []string{"pager"}}, ErrInvalidChannelSet},
		{"missing title", UserRequest{UserID: "u1", Message: "m"}, ErrInvalidRequest},
		{"missing user", UserRequest{Title: "t", Message: "m"}, ErrInvalidRequest},
		{"bad priority", UserRequest{UserID: "u1", Title: "t", Message: "m", Priority: "urgent"}, ErrInvalidRequest},
		{"title with header break", UserRequest{UserID: "u1", Title: "Alert\r\nBcc: x@y.com", Message: "m"}, ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := o.AcceptUser(ctx, tc.req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if _, err := o.AcceptBroadcast(ctx, BroadcastRequest{Title: "t", Message: "m", Channels: []string{}}); !errors.Is(err, ErrInvalidChannelSet) {
		t.Errorf("expected ErrInvalidChannelSet for broadcast, got %v", err)
	}
	if _, err := o.AcceptBroadcast(ctx, BroadcastRequest{Title: "a\nb", Message: "m"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for multi-line broadcast title, got %v", err)
	}

	keys, _ := kv.Keys(ctx, keyPrefix)
	if len(keys) != 0 {
		t.Errorf("rejected requests must not be stored, found %v", keys)
	}
	if socket.Calls() != 0 {
		t.Error("rejected requests must not be delivered")
	}
}

func TestOrchestrator_DeliveryTimeout(t *testing.T) {
	slow := &fakeChannel{typ: channels.TypeSocket, delay: time.Hour}
	stuck := &stuckChannel{typ: channels.TypeSMS, release: make(chan struct{})}
	defer close(stuck.release)
	_, email, _ := allChannels(nil, nil, nil)

	o, _ := newTestOrchestrator(t, Config{DeliveryTimeout: 50 * time.Millisecond}, slow, stuck, email)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "sms", "email"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Channels["socket"] != StateFailed || n.Channels["sms"] != StateFailed {
		t.Errorf("timed out channels must be failed, got %v", n.Channels)
	}
	if n.Status != StatusPartiallyDelivered {
		t.Errorf("expected partially_delivered, got %s", n.Status)
	}
}

func TestOrchestrator_ChannelPanic(t *testing.T) {
	boom := &fakeChannel{typ: channels.TypeSocket, panic: true}
	_, email, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, boom, email)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "email"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Channels["socket"] != StateFailed || n.Channels["email"] != StateDelivered {
		t.Errorf("a panicking channel must only fail itself, got %v", n.Channels)
	}
}

func TestOrchestrator_UnknownRecipientFailsDirectoryChannels(t *testing.T) {
	socket, email, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket, email)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "ghost", Title: "t", Message: "m", Channels: []string{"socket", "email"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Channels["email"] != StateFailed || n.Channels["socket"] != StateDelivered {
		t.Errorf("unexpected slots %v", n.Channels)
	}
	if email.Calls() != 0 {
		t.Error("email must not be attempted without a resolved recipient")
	}
}

func TestOrchestrator_UnconfiguredChannelFails(t *testing.T) {
	socket, _, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket)

	tk, err := o.AcceptUser(context.Background(), UserRequest{
		UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "sms"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Channels["sms"] != StateFailed || n.Status != StatusPartiallyDelivered {
		t.Errorf("unexpected result %s %v", n.Status, n.Channels)
	}
}

func TestOrchestrator_BroadcastResolvesRoles(t *testing.T) {
	socket, email, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket, email)

	tk, err := o.AcceptBroadcast(context.Background(), BroadcastRequest{
		Roles: []string{"officer"}, Title: "Briefing", Message: "m", Priority: PriorityHigh, Channels: []string{"websocket", "email"},
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if len(tk.ID) < len("broadcast-officer-") || tk.ID[:len("broadcast-officer-")] != "broadcast-officer-" {
		t.Errorf("unexpected broadcast id %q", tk.ID)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if n.Status != StatusDelivered || n.Type != TargetBroadcast {
		t.Fatalf("unexpected result %s %s", n.Type, n.Status)
	}
	if len(email.recipients) != 2 || email.recipients[0].ID != "u1" || email.recipients[1].ID != "u3" {
		t.Errorf("expected both officers, got %v", email.recipients)
	}
	if !socket.msg.Broadcast() || socket.msg.Roles[0] != "officer" {
		t.Errorf("socket should receive a role broadcast, got %+v", socket.msg)
	}
}

func TestOrchestrator_BroadcastDefaultsToAll(t *testing.T) {
	socket, _, _ := allChannels(nil, nil, nil)
	o, _ := newTestOrchestrator(t, Config{}, socket)

	tk, err := o.AcceptBroadcast(context.Background(), BroadcastRequest{Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	waitTicket(t, tk)

	n, _ := o.GetStatus(context.Background(), tk.ID)
	if len(n.Content.Roles) != 1 || n.Content.Roles[0] != identity.RoleAll {
		t.Errorf("expected roles [all], got %v", n.Content.Roles)
	}
}

func TestOrchestrator_AcceptCancelledWhileQueueFull(t *testing.T) {
	kv := newRecordingKV()
	// no Run: the queue never drains
	o := NewOrchestrator(NewRecordStore(kv, time.Hour), nil, nil, Config{QueueSize: 1})

	if _, err := o.AcceptUser(context.Background(), UserRequest{UserID: "u1", Title: "t", Message: "m"}); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.AcceptUser(ctx, UserRequest{UserID: "u2", Title: "t", Message: "m"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	list, err := o.ListForUser(context.Background(), "u2", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected the abandoned record to be kept, got %v %v", list, err)
	}
	if list[0].Status != StatusFailed {
		t.Errorf("abandoned record must be failed, got %s", list[0].Status)
	}
}

func TestOrchestrator_RunReleasesQueuedOnShutdown(t *testing.T) {
	kv := newRecordingKV()
	o := NewOrchestrator(NewRecordStore(kv, time.Hour), nil, nil, Config{QueueSize: 4})
	ctx := context.Background()

	var tickets []*Ticket
	for _, id := range []string{"u1", "u2", "u3"} {
		tk, err := o.AcceptUser(ctx, UserRequest{UserID: id, Title: "t", Message: "m"})
		if err != nil {
			t.Fatalf("accept %s failed: %v", id, err)
		}
		tickets = append(tickets, tk)
	}

	stopped, cancel := context.WithCancel(ctx)
	cancel()
	if err := o.Run(stopped); err != nil {
		t.Fatalf("run returned %v", err)
	}

	for _, tk := range tickets {
		select {
		case <-tk.Done():
		default:
			t.Fatalf("ticket %s still open after shutdown", tk.ID)
		}
		n, err := o.GetStatus(ctx, tk.ID)
		if err != nil {
			t.Fatalf("get %s: %v", tk.ID, err)
		}
		if n.Status != StatusFailed || n.Channels["socket"] != StateFailed {
			t.Errorf("queued record %s left as %s %v", tk.ID, n.Status, n.Channels)
		}
	}

	if _, err := o.AcceptUser(ctx, UserRequest{UserID: "u4", Title: "t", Message: "m"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown after shutdown, got %v", err)
	}
	list, err := o.ListForUser(ctx, "u4", 10)
	if err != nil || len(list) != 1 || list[0].Status != StatusFailed {
		t.Errorf("late record must be kept as failed, got %v %v", list, err)
	}
}

func TestOrchestrator_ConcurrentSubmissions(t *testing.T) {
	socket, email, sms := allChannels(nil, nil, errors.New("carrier down"))
	o, _ := newTestOrchestrator(t, Config{Workers: 4, QueueSize: 64}, socket, email, sms)

	var tickets []*Ticket
	for i := 0; i < 20; i++ {
		tk, err := o.AcceptUser(context.Background(), UserRequest{
			UserID: "u1", Title: "t", Message: "m", Channels: []string{"socket", "email", "sms"},
		})
		if err != nil {
			t.Fatalf("accept %d failed: %v", i, err)
		}
		tickets = append(tickets, tk)
	}

	for _, tk := range tickets {
		waitTicket(t, tk)
		n, _ := o.GetStatus(context.Background(), tk.ID)
		if n.Status != StatusPartiallyDelivered {
			t.Errorf("%s: expected partially_delivered, got %s", tk.ID, n.Status)
		}
	}

	list, _ := o.ListForUser(context.Background(), "u1", 100)
	if len(list) != 20 {
		t.Errorf("expected 20 stored notifications, got %d", len(list))
	}
}
