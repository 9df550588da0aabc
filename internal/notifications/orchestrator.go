package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fabriz042/Chat-test/internal/identity"
	"github.com/fabriz042/Chat-test/internal/logging"
	"github.com/fabriz042/Chat-test/internal/metrics"
	"github.com/fabriz042/Chat-test/internal/notifications/channels"
)

// UserRequest submits a notification for one user.
type UserRequest struct {
	UserID   string          `json:"user_id" validate:"required,max=128"`
	Title    string          `json:"title" validate:"required,max=200,singleline"`
	Message  string          `json:"message" validate:"required,max=4000"`
	Priority Priority        `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Data     json.RawMessage `json:"data,omitempty"`
	Channels []string        `json:"channels"`
}

// BroadcastRequest submits a notification for every user holding one of
// Roles. Omitted roles mean everyone.
type BroadcastRequest struct {
	Roles    []string        `json:"roles" validate:"omitempty,dive,required"`
	Title    string          `json:"title" validate:"required,max=200,singleline"`
	Message  string          `json:"message" validate:"required,max=4000"`
	Priority Priority        `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Data     json.RawMessage `json:"data,omitempty"`
	Channels []string        `json:"channels"`
}

type Config struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Ticket is the completion signal of one accepted notification.
type Ticket struct {
	ID   string
	done chan struct{}
}

// Done is closed once the notification has reached a terminal status.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until processing finishes or ctx ends.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	n      *Notification
	ticket *Ticket
}

// Orchestrator accepts notifications, persists them and fans each one out
// across its requested channels on a pool of workers.
type Orchestrator struct {
	store     *RecordStore
	directory identity.Directory
	channels  map[string]channels.Channel
	cfg       Config
	validate  *validator.Validate
	queue     chan job
	now       func() time.Time

	// mu guards stopped. accept holds it shared while enqueueing; Run takes
	// it exclusively before draining so no job lands after the drain.
	mu       sync.RWMutex
	stopped  bool
	stopping chan struct{}
}

// NewOrchestrator wires the record store, the directory used to resolve
// recipients and the available delivery channels. directory may be nil when
// no configured channel needs recipient records.
func NewOrchestrator(store *RecordStore, directory identity.Directory, chans []channels.Channel, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}

	byType := make(map[string]channels.Channel, len(chans))
	for _, ch := range chans {
		byType[ch.Type()] = ch
	}
	return &Orchestrator{
		store:     store,
		directory: directory,
		channels:  byType,
		cfg:       cfg,
		validate:  newValidator(),
		queue:     make(chan job, cfg.QueueSize),
		stopping:  make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// newValidator adds the "singleline" tag, which rejects CR and LF. Titles
// end up in mail headers.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	return v
}

// AcceptUser validates and persists a user notification and queues it for
// delivery. It does not wait for delivery.
func (o *Orchestrator) AcceptUser(ctx context.Context, req UserRequest) (*Ticket, error) {
	chans, err := normalizeChannels(req.Channels)
	if err != nil {
		return nil, err
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := o.now()
	n := &Notification{
		ID:   newID(string(TargetUser)+"-"+req.UserID, now),
		Type: TargetUser,
		Content: Content{
			Title:    req.Title,
			Message:  req.Message,
			Priority: defaultPriority(req.Priority),
			Data:     req.Data,
			UserID:   req.UserID,
			Channels: chans,
		},
	}
	return o.accept(ctx, n, now)
}

// AcceptBroadcast validates and persists a role broadcast and queues it for
// delivery.
func (o *Orchestrator) AcceptBroadcast(ctx context.Context, req BroadcastRequest) (*Ticket, error) {
	chans, err := normalizeChannels(req.Channels)
	if err != nil {
		return nil, err
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{identity.RoleAll}
	}

	now := o.now()
	n := &Notification{
		ID:   newID(string(TargetBroadcast)+"-"+strings.Join(roles, "-"), now),
		Type: TargetBroadcast,
		Content: Content{
			Title:    req.Title,
			Message:  req.Message,
			Priority: defaultPriority(req.Priority),
			Data:     req.Data,
			Roles:    roles,
			Channels: chans,
		},
	}
	return o.accept(ctx, n, now)
}

func (o *Orchestrator) accept(ctx context.Context, n *Notification, now time.Time) (*Ticket, error) {
	n.Status = StatusPending
	n.CreatedAt = now
	n.Channels = make(map[string]ChannelState, len(n.Content.Channels))
	for _, ch := range n.Content.Channels {
		n.Channels[ch] = StatePending
	}

	if err := o.store.Save(ctx, n); err != nil {
		return nil, err
	}

	t := &Ticket{ID: n.ID, done: make(chan struct{})}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		o.fail(context.WithoutCancel(ctx), n)
		return nil, ErrShuttingDown
	}
	select {
	case o.queue <- job{n: n, ticket: t}:
	case <-ctx.Done():
		o.fail(context.WithoutCancel(ctx), n)
		return nil, ctx.Err()
	case <-o.stopping:
		o.fail(context.WithoutCancel(ctx), n)
		return nil, ErrShuttingDown
	}

	logging.Component("notifications").Info().Str("notification", n.ID).Str("type", string(n.Type)).
		Strs("channels", n.Content.Channels).Msg("notification accepted")
	return t, nil
}

// Run processes queued notifications on cfg.Workers goroutines until ctx is
// cancelled. A notification already being processed is finished first; jobs
// still queued after that are marked failed and their tickets released.
// Accepts arriving after Run returns fail with ErrShuttingDown.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-o.queue:
					o.process(context.WithoutCancel(ctx), j)
				}
			}
		}()
	}
	wg.Wait()

	close(o.stopping)
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.drain(context.WithoutCancel(ctx))
	return nil
}

// drain fails every job left in the queue.
func (o *Orchestrator) drain(ctx context.Context) {
	for {
		select {
		case j := <-o.queue:
			o.fail(ctx, j.n)
			close(j.ticket.done)
			logging.Component("notifications").Warn().Str("notification", j.n.ID).Msg("dropped on shutdown")
		default:
			return
		}
	}
}

// fail marks every unresolved slot and the record itself failed.
func (o *Orchestrator) fail(ctx context.Context, n *Notification) {
	for ch, st := range n.Channels {
		if st == StatePending {
			n.Channels[ch] = StateFailed
		}
	}
	n.Status = StatusFailed
	o.save(ctx, n)
	metrics.NotificationFinished(string(n.Status))
}

type channelResult struct {
	channel string
	err     error
}

func (o *Orchestrator) process(ctx context.Context, j job) {
	defer close(j.ticket.done)
	n := j.n
	log := logging.Component("notifications").With().Str("notification", n.ID).Logger()

	n.Status = StatusProcessing
	o.save(ctx, n)

	msg := n.message()
	recipients, resolveErr := o.resolveRecipients(ctx, n)
	if resolveErr != nil {
		log.Warn().Err(resolveErr).Msg("recipient resolution failed")
	}

	results := make(chan channelResult, len(n.Content.Channels))
	for _, name := range n.Content.Channels {
		go func(name string) {
			results <- channelResult{channel: name, err: o.deliver(ctx, name, msg, recipients, resolveErr)}
		}(name)
	}

	// Slots are written here, one result at a time, so no two deliveries
	// ever race on the record.
	for range n.Content.Channels {
		r := <-results
		if r.err != nil {
			n.Channels[r.channel] = StateFailed
			log.Warn().Str("channel", r.channel).Err(r.err).Msg("channel delivery failed")
		} else {
			n.Channels[r.channel] = StateDelivered
			log.Debug().Str("channel", r.channel).Msg("channel delivered")
		}
		metrics.ChannelDelivery(r.channel, r.err == nil)
		if !allResolved(n.Channels) {
			o.save(ctx, n)
		}
	}

	n.Status = Aggregate(n.Channels)
	if n.Status == StatusDelivered {
		at := o.now()
		n.DeliveredAt = &at
	}
	o.save(ctx, n)
	metrics.NotificationFinished(string(n.Status))
	log.Info().Str("status", string(n.Status)).Msg("notification processed")
}

// resolveRecipients looks up directory records when a requested channel
// needs them.
func (o *Orchestrator) resolveRecipients(ctx context.Context, n *Notification) ([]identity.User, error) {
	needed := false
	for _, name := range n.Content.Channels {
		if ch, ok := o.channels[name]; ok && ch.NeedsRecipients() {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}
	if o.directory == nil {
		return nil, fmt.Errorf("%w: no user directory configured", ErrUpstreamUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DeliveryTimeout)
	defer cancel()

	if n.Type == TargetUser {
		u, err := o.directory.GetUser(ctx, n.Content.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve user %s: %w", n.Content.UserID, err)
		}
		return []identity.User{u}, nil
	}
	users, err := o.directory.GetUsersByRoles(ctx, n.Content.Roles)
	if err != nil {
		return nil, fmt.Errorf("resolve roles %v: %w", n.Content.Roles, err)
	}
	return users, nil
}

// deliver runs one channel attempt under the delivery timeout. Errors and
// panics from the channel become this channel's failure.
func (o *Orchestrator) deliver(ctx context.Context, name string, msg channels.Message, recipients []identity.User, resolveErr error) error {
	ch, ok := o.channels[name]
	if !ok {
		return fmt.Errorf("%w: channel %s is not configured", ErrDeliveryFailed, name)
	}
	if ch.NeedsRecipients() && resolveErr != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, resolveErr)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DeliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %s panicked: %v", ErrDeliveryFailed, name, r)
			}
		}()
		done <- ch.Send(ctx, msg, recipients)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", ErrDeliveryTimeout, name, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, name, err)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s after %s", ErrDeliveryTimeout, name, o.cfg.DeliveryTimeout)
	}
}

func (o *Orchestrator) save(ctx context.Context, n *Notification) {
	if err := o.store.Save(ctx, n); err != nil {
		logging.Component("notifications").Error().Err(err).Str("notification", n.ID).
			Str("status", string(n.Status)).Msg("failed to persist notification")
	}
}

// GetStatus returns the stored notification.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*Notification, error) {
	return o.store.Get(ctx, id)
}

// ListForUser returns the most recent notifications addressed to userID.
func (o *Orchestrator) ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	return o.store.ListForUser(ctx, userID, limit)
}

// Ping reports whether the record store is reachable.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

func defaultPriority(p Priority) Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}

func allResolved(states map[string]ChannelState) bool {
	for _, s := range states {
		if s == StatePending {
			return false
		}
	}
	return true
}
