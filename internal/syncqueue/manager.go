package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cptrack/internal/events"
	"cptrack/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Policy RetryPolicy
	// HandlerTimeout is the deadline put on each handler context; 0 disables it.
	HandlerTimeout time.Duration
	// PollInterval is the timer trigger of the drain loop; 0 disables it.
	PollInterval time.Duration
	// StartOffline makes the manager wait for SetOnline(true) before draining.
	StartOffline bool

	Journal    Journal
	DeadLetter DeadLetter
	Recorder   Recorder
	Logger     *zerolog.Logger
}

// Manager owns the background sync queue. Operations are executed one at a
// time by a single drain goroutine; every other method is safe for
// concurrent use.
type Manager struct {
	policy         RetryPolicy
	handlerTimeout time.Duration
	pollInterval   time.Duration
	journal        Journal
	deadLetter     DeadLetter
	recorder       Recorder
	logger         zerolog.Logger
	status         *events.Emitter[models.StatusSnapshot]

	mu            sync.Mutex
	handlers      map[string]Handler
	queue         bands
	failed        []*models.Operation
	inFlight      *models.Operation
	inFlightEpoch uint64
	epoch         uint64
	online        bool
	draining      bool
	lastSync      *time.Time

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewManager builds a manager; call Register for each kind and then Start.
func NewManager(opts Options) *Manager {
	if opts.Policy == (RetryPolicy{}) {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Policy.BackoffFactor == 0 {
		opts.Policy.BackoffFactor = 2
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "syncqueue").Logger()
	}

	return &Manager{
		policy:         opts.Policy,
		handlerTimeout: opts.HandlerTimeout,
		pollInterval:   opts.PollInterval,
		journal:        opts.Journal,
		deadLetter:     opts.DeadLetter,
		recorder:       opts.Recorder,
		logger:         logger,
		status:         events.NewEmitter[models.StatusSnapshot](),
		handlers:       make(map[string]Handler),
		online:         !opts.StartOffline,
		ctx:            context.Background(),
		wake:           make(chan struct{}, 1),
	}
}

// Register binds a handler to an operation kind, replacing any previous one.
func (m *Manager) Register(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	m.mu.Lock()
	m.handlers[kind] = handler
	m.mu.Unlock()
}

// Restore loads unfinished operations from the journal. It is meant to run
// once before Start; in-flight records left by a crash become pending again.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	ops, err := m.journal.LoadOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	m.mu.Lock()
	for i := range ops {
		op := ops[i].Clone()
		if !op.Priority.Valid() {
			op.Priority = models.PriorityMedium
		}
		if op.Status == models.OperationFailed {
			m.failed = append(m.failed, &op)
			continue
		}
		op.Status = models.OperationPending
		m.queue.pushBack(&op)
	}
	m.queue.sortByEnqueue()
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	m.logger.Info().Int("operations", len(ops)).Msg("journal restored")
	return len(ops), nil
}

// Start launches the timer trigger and a first drain pass. The manager stops
// when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.logger.Info().
		Int("max_retries", m.policy.MaxRetries).
		Dur("initial_delay", m.policy.InitialDelay).
		Dur("handler_timeout", m.handlerTimeout).
		Msg("sync queue started")

	if m.pollInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					m.trigger()
				}
			}
		}()
	}

	m.trigger()
}

// Stop cancels the drain loop and waits for the in-flight handler to return.
// Unfinished operations stay in the queue and the journal.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.signalWake()
	m.wg.Wait()
	m.logger.Info().Msg("sync queue stopped")
}

// AddOperation enqueues work and returns its id. It never fails; when the
// manager is idle and online a drain pass is started in the background.
func (m *Manager) AddOperation(kind string, payload models.Payload, priority models.Priority) string {
	if !priority.Valid() {
		m.logger.Warn().Str("kind", kind).Str("priority", string(priority)).Msg("unknown priority, using medium")
		priority = models.PriorityMedium
	}

	op := &models.Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Status:     models.OperationPending,
	}

	m.mu.Lock()
	m.queue.pushBack(op)
	m.saveLocked(op)
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	m.recorder.OperationEnqueued(kind, priority)
	m.logger.Debug().Str("operation_id", op.ID).Str("kind", kind).Str("priority", string(priority)).Msg("operation enqueued")

	m.trigger()
	return op.ID
}

// Status returns the current snapshot.
func (m *Manager) Status() models.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// OnStatusChange registers an observer called after every status-affecting
// mutation. The returned function deregisters it and is safe to call twice.
func (m *Manager) OnStatusChange(observer func(models.StatusSnapshot)) (unsubscribe func()) {
	return m.status.Subscribe(observer)
}

// Watch streams snapshots until ctx is done. The channel holds only the
// latest snapshot, so a slow reader skips intermediate ones.
func (m *Manager) Watch(ctx context.Context) <-chan models.StatusSnapshot {
	ch := make(chan models.StatusSnapshot, 1)
	var mu sync.Mutex
	closed := false

	unsubscribe := m.OnStatusChange(func(s models.StatusSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}

// RetryFailedOperations moves every failed operation back into the queue with
// its retry count reset, then starts a drain pass.
func (m *Manager) RetryFailedOperations() int {
	m.mu.Lock()
	failed := m.failed
	m.failed = nil
	for _, op := range failed {
		op.RetryCount = 0
		op.Status = models.OperationPending
		op.NextAttemptAt = nil
		op.FailedAt = nil
		m.queue.pushBack(op)
		m.saveLocked(op)
	}
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	if len(failed) > 0 {
		m.logger.Info().Int("operations", len(failed)).Msg("failed operations requeued")
	}
	m.trigger()
	return len(failed)
}

// ClearQueue discards pending and failed operations. An operation already
// in flight runs to completion but is never put back.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	dropped := m.queue.len() + len(m.failed)
	m.queue.clear()
	m.failed = nil
	m.epoch++
	if m.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := m.journal.ClearOperations(ctx); err != nil {
			m.logger.Error().Err(err).Msg("journal clear failed")
		}
		cancel()
	}
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	m.logger.Info().Int("operations", dropped).Msg("queue cleared")
	m.signalWake()
}

// SetOnline feeds the connectivity signal. Going offline pauses the drain
// after the in-flight operation; coming back online resumes it.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		m.trigger()
		return
	}
	m.signalWake()
}

// PendingOperations returns the in-flight operation (if any) followed by the
// queued ones in drain order.
func (m *Manager) PendingOperations() []models.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Operation, 0, m.queue.len()+1)
	if m.inFlight != nil && m.inFlightEpoch == m.epoch {
		out = append(out, m.inFlight.Clone())
	}
	return append(out, m.queue.snapshot()...)
}

// FailedOperations returns the operations that exhausted their retries.
func (m *Manager) FailedOperations() []models.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Operation, 0, len(m.failed))
	for _, op := range m.failed {
		out = append(out, op.Clone())
	}
	return out
}

func (m *Manager) statusLocked() models.StatusSnapshot {
	size := m.queue.len()
	if m.inFlight != nil && m.inFlightEpoch == m.epoch {
		size++
	}
	var lastSync *time.Time
	if m.lastSync != nil {
		t := *m.lastSync
		lastSync = &t
	}
	return models.StatusSnapshot{
		IsOnline:         m.online,
		IsSyncing:        m.draining,
		QueueSize:        size,
		LastSync:         lastSync,
		FailedOperations: len(m.failed),
	}
}

// enqueueStatusLocked fixes the notification order to the mutation order;
// the caller flushes after unlocking.
func (m *Manager) enqueueStatusLocked() {
	m.status.Enqueue(m.statusLocked())
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// trigger starts a drain pass unless one is running, the manager is not
// started, offline, or has nothing queued. A running pass is woken so it can
// pick up operations that became eligible earlier than it planned.
func (m *Manager) trigger() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		m.signalWake()
		return
	}
	if !m.started || m.ctx.Err() != nil || !m.online || m.queue.len() == 0 {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.wg.Add(1)
	m.enqueueStatusLocked()
	m.mu.Unlock()
	m.status.Flush()

	go m.drain()
}

func (m *Manager) drain() {
	defer m.wg.Done()
	m.logger.Debug().Msg("drain started")

	for {
		m.mu.Lock()
		if m.ctx.Err() != nil || !m.online || m.queue.len() == 0 {
			m.draining = false
			m.enqueueStatusLocked()
			m.mu.Unlock()
			m.status.Flush()
			m.logger.Debug().Msg("drain stopped")
			return
		}

		op, wait := m.queue.popEligible(time.Now())
		if op == nil {
			ctx := m.ctx
			m.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
			case <-m.wake:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		op.Status = models.OperationInFlight
		m.inFlight = op
		m.inFlightEpoch = m.epoch
		epoch := m.epoch
		handler := m.handlers[op.Kind]
		ctx := m.ctx
		m.saveLocked(op)
		m.mu.Unlock()

		start := time.Now()
		err := m.execute(ctx, handler, op.Kind, op.Payload)
		m.complete(op, epoch, err, time.Since(start))
	}
}

func (m *Manager) execute(ctx context.Context, handler Handler, kind string, payload models.Payload) (err error) {
	if handler == nil {
		return fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
	if m.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (m *Manager) complete(op *models.Operation, epoch uint64, cause error, took time.Duration) {
	log := m.logger.With().Str("operation_id", op.ID).Str("kind", op.Kind).Logger()

	m.mu.Lock()
	m.inFlight = nil
	current := epoch == m.epoch
	now := time.Now()

	var deadLetter *models.Operation
	outcome := "completed"

	switch {
	case cause == nil:
		m.lastSync = &now
		if current {
			m.deleteLocked(op.ID)
		}

	case !current:
		outcome = "discarded"

	case errors.Is(cause, ErrOffline) || m.ctx.Err() != nil:
		// Not the operation's fault: put it back where it was, unpenalized.
		outcome = "requeued"
		op.Status = models.OperationPending
		m.queue.pushFront(op)
		m.saveLocked(op)
		if errors.Is(cause, ErrOffline) && m.online {
			m.online = false
			outcome = "offline"
		}

	default:
		op.RetryCount++
		msg := cause.Error()
		op.LastError = &msg
		if errors.Is(cause, ErrPermanent) || m.policy.Exhausted(op.RetryCount) {
			outcome = "failed"
			op.Status = models.OperationFailed
			op.NextAttemptAt = nil
			op.FailedAt = &now
			m.failed = append(m.failed, op)
			clone := op.Clone()
			deadLetter = &clone
		} else {
			outcome = "retry"
			next := now.Add(m.policy.NextDelay(op.RetryCount))
			op.Status = models.OperationPending
			op.NextAttemptAt = &next
			m.queue.pushBack(op)
		}
		m.saveLocked(op)
	}

	m.enqueueStatusLocked()
	ctx := m.ctx
	m.mu.Unlock()
	m.status.Flush()

	switch outcome {
	case "completed":
		m.recorder.OperationCompleted(op.Kind, took)
		log.Debug().Dur("took", took).Msg("operation completed")
	case "retry":
		m.recorder.OperationRetried(op.Kind)
		log.Warn().Err(cause).Int("retry_count", op.RetryCount).Msg("operation failed, retry scheduled")
	case "failed":
		m.recorder.OperationFailed(op.Kind)
		log.Error().Err(cause).Int("retry_count", op.RetryCount).Msg("operation failed permanently")
		m.pushDeadLetter(ctx, deadLetter)
	case "offline":
		log.Warn().Err(cause).Msg("upstream unreachable, pausing queue")
	case "requeued":
		log.Debug().Err(cause).Msg("operation requeued")
	case "discarded":
		log.Debug().Err(cause).Msg("queue cleared while in flight, outcome discarded")
	}
}

func (m *Manager) pushDeadLetter(ctx context.Context, op *models.Operation) {
	if m.deadLetter == nil || op == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := m.deadLetter.PushDeadLetter(ctx, *op); err != nil {
		m.logger.Error().Err(err).Str("operation_id", op.ID).Msg("dead letter push failed")
	}
}

func (m *Manager) saveLocked(op *models.Operation) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.journal.SaveOperation(ctx, op.Clone()); err != nil {
		m.logger.Error().Err(err).Str("operation_id", op.ID).Msg("journal save failed")
	}
}

func (m *Manager) deleteLocked(id string) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.journal.DeleteOperation(ctx, id); err != nil {
		m.logger.Error().Err(err).Str("operation_id", id).Msg("journal delete failed")
	}
}
