// Package app wires the presence subsystem together: the registry, the
// activity queue, the single dispatcher and the staleness sweep.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/selectedu/select/internal/adapters/mq/dispatch"
	"github.com/selectedu/select/internal/adapters/mq/queue"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/internal/domain/presence"
	"github.com/selectedu/select/internal/domain/status"
	"github.com/selectedu/select/pkg/logger"
	"github.com/selectedu/select/pkg/metrics"
)

// Publisher fans events out to the admin room.
type Publisher interface {
	BroadcastToAdmins(event string, payload any)
}

// StatusStore is the slice of the repository the tracker writes through to.
// Writes are best effort: a failed write is logged and presence moves on.
type StatusStore interface {
	UpdateUserStatus(ctx context.Context, id string, patch model.StatusPatch) error
	UserDisplayName(ctx context.Context, id string) (string, error)
	AppendLogout(ctx context.Context, userID string, at time.Time) error
}

// Tracker owns live presence state and applies activity events in order.
type Tracker struct {
	registry  *presence.Registry
	queue     queue.Queue
	publisher Publisher
	store     StatusStore

	poll    time.Duration
	timeout time.Duration

	dispatcher *dispatch.Dispatcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithPollInterval sets how often the staleness sweep runs.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithTimeout sets the inactivity window after which a tracked user is
// swept out.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker consuming q. The publisher and store may be
// shared with the transport layer.
func NewTracker(q queue.Queue, pub Publisher, store StatusStore, opts ...Option) *Tracker {
	t := &Tracker{
		registry:  presence.NewRegistry(),
		queue:     q,
		publisher: pub,
		store:     store,
		poll:      30 * time.Second,
		timeout:   60 * time.Second,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("tracker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dispatcher = dispatch.New(q, t, dispatch.WithName("tracker"), dispatch.WithLogger(t.logger))
	return t
}

// Start launches the dispatcher and the sweep loop.
func (t *Tracker) Start(ctx context.Context) {
	go t.dispatcher.Run(ctx)
	go t.sweepLoop(ctx)
}

// Stop shuts the sweep and dispatcher down, waiting for the in-flight
// event to finish.
func (t *Tracker) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stop) })
	select {
	case <-t.done:
	case <-ctx.Done():
	}
	return t.dispatcher.Shutdown(ctx)
}

// Registry exposes the live registry for read-side consumers.
func (t *Tracker) Registry() *presence.Registry {
	return t.registry
}

// Apply handles one activity event. Called only from the dispatcher loop.
func (t *Tracker) Apply(ctx context.Context, a model.Activity) {
	if a.UserID == "" {
		return
	}
	now := a.ReceivedAt
	if now.IsZero() {
		now = t.now()
	}

	switch a.Kind {
	case model.KindJoinUser:
		t.handleJoin(ctx, a, now)
	case model.KindEvaluationStarted:
		t.handleEvaluationStarted(ctx, a, now)
	case model.KindEvaluationUpdate:
		t.handleEvaluationUpdate(ctx, a, now)
	case model.KindUserLogout:
		t.handleLogout(ctx, a, now)
	case model.KindStatusChange:
		t.handleStatusChange(ctx, a, now)
	case model.KindHeartbeat:
		t.registry.Touch(a.UserID, now)
	case model.KindDisconnect:
		t.handleDisconnect(ctx, a, now)
	}

	online, evaluating := t.registry.Counts()
	metrics.UpdateOnlineUsers(online)
	metrics.UpdateEvaluatingUsers(evaluating)
}

func (t *Tracker) handleJoin(ctx context.Context, a model.Activity, now time.Time) {
	t.registry.Upsert(a.UserID, presence.Patch{
		IsOnline:     presence.Bool(true),
		LastActivity: presence.Time(now),
	})
	t.persistStatus(ctx, a.UserID, model.StatusPatch{
		IsOnline:     presence.Bool(true),
		LastActivity: &now,
	})
	t.broadcastStatus(ctx, a.UserID, model.StatusUpdate{
		Status:       status.Online,
		IsOnline:     true,
		Timestamp:    now,
		ActivityType: model.ActivityUserOnline,
	})
}

func (t *Tracker) handleEvaluationStarted(ctx context.Context, a model.Activity, now time.Time) {
	t.registry.Upsert(a.UserID, presence.Patch{
		IsOnline:     presence.Bool(true),
		IsEvaluating: presence.Bool(true),
		LastActivity: presence.Time(now),
	})
	t.persistStatus(ctx, a.UserID, model.StatusPatch{
		IsOnline:     presence.Bool(true),
		IsEvaluating: presence.Bool(true),
		LastActivity: &now,
	})
	t.broadcastStatus(ctx, a.UserID, model.StatusUpdate{
		Status:        status.Evaluating,
		IsOnline:      true,
		IsEvaluating:  true,
		Timestamp:     now,
		ActivityType:  model.ActivityEvaluationStarted,
		AttemptNumber: a.AttemptNumber,
	})
}

// handleEvaluationUpdate is broadcast-only: progress ticks flow to the
// admin room without touching the registry or the identity store.
func (t *Tracker) handleEvaluationUpdate(_ context.Context, a model.Activity, now time.Time) {
	t.publisher.BroadcastToAdmins(model.EventUserEvaluationUpdate, model.EvaluationUpdate{
		UserID:       a.UserID,
		CurrentStep:  a.CurrentStep,
		Completion:   status.ClampPercent(a.Completion),
		StepName:     a.StepName,
		Timestamp:    now,
		ActivityType: model.ActivityEvaluationProgress,
	})
}

func (t *Tracker) handleLogout(ctx context.Context, a model.Activity, now time.Time) {
	t.registry.Remove(a.UserID)
	t.persistStatus(ctx, a.UserID, model.StatusPatch{
		IsOnline:     presence.Bool(false),
		IsEvaluating: presence.Bool(false),
		LastActivity: &now,
	})
	if err := t.store.AppendLogout(ctx, a.UserID, now); err != nil {
		metrics.RecordStoreError("append_logout")
		t.logger.Warn(ctx, "logout ledger write failed",
			logger.String("userID", a.UserID), logger.Error(err))
	}
	t.broadcastStatus(ctx, a.UserID, model.StatusUpdate{
		Status:       status.LoggedOut,
		Timestamp:    now,
		ActivityType: model.ActivityUserLogout,
	})
}

// handleStatusChange re-emits a client-reported status unchanged. Nothing
// is recorded; the client is announcing, not updating state.
func (t *Tracker) handleStatusChange(ctx context.Context, a model.Activity, now time.Time) {
	t.broadcastStatus(ctx, a.UserID, model.StatusUpdate{
		Status:       a.Status,
		IsOnline:     a.IsOnline,
		IsEvaluating: a.IsEvaluating,
		Timestamp:    now,
	})
}

func (t *Tracker) handleDisconnect(ctx context.Context, a model.Activity, now time.Time) {
	// The entry is gone from the registry immediately; the dashboard's
	// offline-vs-logged-out distinction works off the persisted
	// last-activity time, not the registry.
	t.registry.Remove(a.UserID)
	t.persistStatus(ctx, a.UserID, model.StatusPatch{
		IsOnline:     presence.Bool(false),
		IsEvaluating: presence.Bool(false),
		LastActivity: &now,
	})
	t.broadcastStatus(ctx, a.UserID, model.StatusUpdate{
		Status:       status.Offline,
		Timestamp:    now,
		ActivityType: model.ActivityUserOffline,
	})
}

func (t *Tracker) sweepLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep removes users whose last activity is older than the timeout and
// tells the admin room they went offline.
func (t *Tracker) sweep(ctx context.Context) {
	start := t.now()
	removed := 0

	for _, e := range t.registry.Entries() {
		if start.Sub(e.LastActivity) <= t.timeout {
			continue
		}
		t.registry.Remove(e.UserID)
		removed++
		metrics.RecordSweepRemoval()

		now := t.now()
		t.persistStatus(ctx, e.UserID, model.StatusPatch{
			IsOnline:     presence.Bool(false),
			IsEvaluating: presence.Bool(false),
		})
		t.broadcastStatus(ctx, e.UserID, model.StatusUpdate{
			Status:       status.Offline,
			Timestamp:    now,
			ActivityType: model.ActivityUserOffline,
		})
	}

	metrics.RecordSweepDuration(float64(time.Since(start).Milliseconds()))
	if removed > 0 {
		t.logger.Info(ctx, "swept stale users", logger.Int("removed", removed))
	}

	online, evaluating := t.registry.Counts()
	metrics.UpdateOnlineUsers(online)
	metrics.UpdateEvaluatingUsers(evaluating)
}

// broadcastStatus resolves the user's display name and fans the update out.
func (t *Tracker) broadcastStatus(ctx context.Context, userID string, update model.StatusUpdate) {
	update.UserID = userID
	name, err := t.store.UserDisplayName(ctx, userID)
	if err != nil {
		metrics.RecordStoreError("display_name")
		t.logger.Warn(ctx, "display name lookup failed",
			logger.String("userID", userID), logger.Error(err))
	}
	update.UserName = name
	t.publisher.BroadcastToAdmins(model.EventUserStatusUpdate, update)
}

func (t *Tracker) persistStatus(ctx context.Context, userID string, patch model.StatusPatch) {
	if err := t.store.UpdateUserStatus(ctx, userID, patch); err != nil {
		metrics.RecordStoreError("update_status")
		t.logger.Warn(ctx, "status write failed",
			logger.String("userID", userID), logger.Error(err))
	}
}
