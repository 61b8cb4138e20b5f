// Package dispatcher selects due (trigger, booking) pairs and performs the
// configured reminder action exactly once per (trigger, booking, fire time).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caltrigger-io/caltrigger/internal/circuitbreaker"
	"github.com/caltrigger-io/caltrigger/internal/domain"
	"github.com/caltrigger-io/caltrigger/internal/firetime"
)

// ErrDuplicateLog is returned by LogStore implementations when an insert
// collides with an existing successful record for the same
// (trigger, booking, scheduled-for) key. The pair is treated as already
// sent, not as a failure.
var ErrDuplicateLog = errors.New("successful execution log already exists")

// RetryPolicy controls whether a pair with prior failed attempts is retried.
type RetryPolicy string

const (
	// RetryPolicyNone never retries: one attempt per pair, whatever the outcome.
	RetryPolicyNone RetryPolicy = "none"
	// RetryPolicyNextTick retries a failed pair on every tick until it
	// succeeds or the booking passes. This is the default.
	RetryPolicyNextTick RetryPolicy = "next-tick"
	// RetryPolicyBackoff retries with exponential spacing between attempts.
	RetryPolicyBackoff RetryPolicy = "backoff"
)

func (p RetryPolicy) Valid() bool {
	switch p {
	case RetryPolicyNone, RetryPolicyNextTick, RetryPolicyBackoff:
		return true
	}
	return false
}

type TriggerStore interface {
	ListActiveTriggers(ctx context.Context) ([]domain.Trigger, error)
}

type LogStore interface {
	// RecordAttempt appends one execution log row. Implementations MUST map
	// a unique violation on the successful-log key to ErrDuplicateLog.
	RecordAttempt(ctx context.Context, entry domain.ExecutionLog) error
	HasSucceeded(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (bool, error)
	// FailureInfo reports how many failed attempts exist for the key and
	// when the most recent one ran. attempts == 0 means never attempted.
	FailureInfo(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (attempts int, lastAt time.Time, err error)
}

type BookingResolver interface {
	ResolveForTrigger(ctx context.Context, trigger domain.Trigger, statusFilter string, now time.Time) ([]domain.Booking, error)
}

type WhatsAppSender interface {
	Send(ctx context.Context, destination, text string) error
}

// MetricsSink records dispatcher metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	ResolveFailed()
	ActionCompleted(actionType, statusClass string, duration time.Duration)
	PairsInFlightIncr()
	PairsInFlightDecr()
}

type AnalyticsSink interface {
	RecordDispatch(ctx context.Context, triggerID uuid.UUID, outcome string, at time.Time)
}

// Config tunes batching, timeouts and the retry policy.
type Config struct {
	BatchSize     int           // concurrent pairs per batch, default 5
	BatchPause    time.Duration // pause between batches, default 1s
	ActionTimeout time.Duration // per-action bound, default 10s
	StatusFilter  string        // booking status filter, default "ACCEPTED"
	RetryPolicy   RetryPolicy
	BackoffBase   time.Duration // first retry spacing under backoff
	BackoffMax    time.Duration
	DryRun        bool
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
	if c.StatusFilter == "" {
		c.StatusFilter = "ACCEPTED"
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = RetryPolicyNextTick
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Minute
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 6 * time.Hour
	}
}

// Result summarizes one dispatch run.
type Result struct {
	TriggersProcessed int
	Due               int
	Sent              int
	Failed            int
	Skipped           int
}

type Dispatcher struct {
	cfg       Config
	triggers  TriggerStore
	logs      LogStore
	resolver  BookingResolver
	webhooks  WebhookSender
	whatsapp  WhatsAppSender
	breaker   *circuitbreaker.CircuitBreaker
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
}

func New(cfg Config, triggers TriggerStore, logs LogStore, resolver BookingResolver, webhooks WebhookSender, whatsapp WhatsAppSender) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:      cfg,
		triggers: triggers,
		logs:     logs,
		resolver: resolver,
		webhooks: webhooks,
		whatsapp: whatsapp,
	}
}

// WithBreaker guards outbound targets with a circuit breaker.
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

type pair struct {
	trigger  domain.Trigger
	booking  domain.Booking
	fireTime time.Time
}

// DispatchDue runs one dispatch cycle: every active trigger's bookings are
// resolved, fire times computed, and each due pair acted on at most once.
// Resolver failures skip that trigger for this cycle; pair failures are
// isolated and recorded. The returned error is fatal-config level only.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	triggers, err := d.triggers.ListActiveTriggers(ctx)
	if err != nil {
		return res, fmt.Errorf("list active triggers: %w", err)
	}

	var due []pair
	for _, trigger := range triggers {
		res.TriggersProcessed++

		bookings, err := d.resolver.ResolveForTrigger(ctx, trigger, d.cfg.StatusFilter, now)
		if err != nil {
			log.Printf("dispatcher: trigger=%s resolve failed, skipping this cycle: %v", trigger.ID, err)
			if d.metrics != nil {
				d.metrics.ResolveFailed()
			}
			continue
		}

		for _, booking := range bookings {
			if booking.Start == nil {
				// No resolvable start, never due.
				continue
			}
			fireAt, err := firetime.Compute(*booking.Start, trigger.TimingType, trigger.OffsetAmount, trigger.OffsetUnit)
			if err != nil {
				log.Printf("dispatcher: trigger=%s fire time: %v", trigger.ID, err)
				break
			}
			if !fireAt.After(now) {
				due = append(due, pair{trigger: trigger, booking: booking, fireTime: fireAt})
			}
		}
	}

	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	sent, failed, skipped := d.processBatches(ctx, due, now)
	res.Sent, res.Failed, res.Skipped = sent, failed, skipped
	return res, nil
}

// processBatches works through due pairs in fixed-size concurrent batches
// with a pause in between, so a large tick does not overwhelm the gateway.
// Cancellation stops new batches; in-flight pairs finish and log.
func (d *Dispatcher) processBatches(ctx context.Context, due []pair, now time.Time) (sent, failed, skipped int) {
	var mu sync.Mutex

	for start := 0; start < len(due); start += d.cfg.BatchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				log.Printf("dispatcher: cancelled with %d pairs not started", len(due)-start)
				return sent, failed, skipped
			case <-time.After(d.cfg.BatchPause):
			}
		}

		end := start + d.cfg.BatchSize
		if end > len(due) {
			end = len(due)
		}

		var wg sync.WaitGroup
		for _, p := range due[start:end] {
			wg.Add(1)
			go func(p pair) {
				defer wg.Done()
				outcome := d.processPair(ctx, p, now)
				mu.Lock()
				switch outcome {
				case outcomeSent:
					sent++
				case outcomeFailed:
					failed++
				case outcomeSkipped:
					skipped++
				}
				mu.Unlock()
			}(p)
		}
		wg.Wait()
	}
	return sent, failed, skipped
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (d *Dispatcher) processPair(ctx context.Context, p pair, now time.Time) outcome {
	if d.metrics != nil {
		d.metrics.PairsInFlightIncr()
		defer d.metrics.PairsInFlightDecr()
	}

	done, err := d.logs.HasSucceeded(ctx, p.trigger.ID, p.booking.UID, p.fireTime)
	if err != nil {
		log.Printf("dispatcher: trigger=%s booking=%s idempotency check: %v", p.trigger.ID, p.booking.UID, err)
		return outcomeFailed
	}
	if done {
		return outcomeSkipped
	}

	if hold, reason := d.retryGate(ctx, p, now); hold {
		log.Printf("dispatcher: trigger=%s booking=%s held: %s", p.trigger.ID, p.booking.UID, reason)
		return outcomeSkipped
	}

	if d.cfg.DryRun {
		log.Printf("dispatcher: dry run, would dispatch trigger=%s booking=%s fire_time=%s",
			p.trigger.ID, p.booking.UID, p.fireTime.UTC().Format(time.RFC3339))
		return outcomeSkipped
	}

	actionCtx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	status, actionErr := d.performAction(actionCtx, p)
	duration := time.Since(start)

	if d.metrics != nil {
		code := 0
		if status != nil {
			code = *status
		}
		d.metrics.ActionCompleted(string(p.trigger.ActionType), classifyStatus(code, actionErr), duration)
	}

	entry := domain.ExecutionLog{
		ID:            uuid.New(),
		TriggerID:     p.trigger.ID,
		BookingUID:    p.booking.UID,
		ScheduledFor:  p.fireTime,
		ExecutedAt:    now,
		Success:       actionErr == nil,
		WebhookStatus: status,
		CreatedAt:     now,
	}
	if actionErr != nil {
		entry.ErrorMessage = actionErr.Error()
	}

	if err := d.logs.RecordAttempt(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateLog) {
			// Lost a race with a concurrent successful dispatch.
			return outcomeSkipped
		}
		log.Printf("dispatcher: trigger=%s booking=%s record attempt: %v", p.trigger.ID, p.booking.UID, err)
	}

	out := outcomeSent
	outLabel := "sent"
	if actionErr != nil {
		log.Printf("dispatcher: trigger=%s booking=%s action failed: %v", p.trigger.ID, p.booking.UID, actionErr)
		out = outcomeFailed
		outLabel = "failed"
	}
	if d.analytics != nil {
		d.analytics.RecordDispatch(ctx, p.trigger.ID, outLabel, now)
	}
	return out
}

// retryGate applies the configured retry policy to pairs that already have
// failed attempts on record.
func (d *Dispatcher) retryGate(ctx context.Context, p pair, now time.Time) (hold bool, reason string) {
	if d.cfg.RetryPolicy == RetryPolicyNextTick {
		return false, ""
	}

	attempts, lastAt, err := d.logs.FailureInfo(ctx, p.trigger.ID, p.booking.UID, p.fireTime)
	if err != nil {
		log.Printf("dispatcher: trigger=%s booking=%s failure info: %v", p.trigger.ID, p.booking.UID, err)
		return false, ""
	}
	if attempts == 0 {
		return false, ""
	}

	switch d.cfg.RetryPolicy {
	case RetryPolicyNone:
		return true, "retry policy none, already attempted"
	case RetryPolicyBackoff:
		wait := d.backoffFor(attempts)
		if next := lastAt.Add(wait); now.Before(next) {
			return true, fmt.Sprintf("backoff until %s", next.UTC().Format(time.RFC3339))
		}
	}
	return false, ""
}

func (d *Dispatcher) backoffFor(attempts int) time.Duration {
	wait := d.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= d.cfg.BackoffMax {
			return d.cfg.BackoffMax
		}
	}
	if wait > d.cfg.BackoffMax {
		wait = d.cfg.BackoffMax
	}
	return wait
}

// performAction executes the trigger's configured action. The returned
// status is the HTTP status of a webhook call, nil for whatsapp actions.
func (d *Dispatcher) performAction(ctx context.Context, p pair) (*int, error) {
	switch p.trigger.ActionType {
	case domain.ActionTypeWebhook:
		return d.sendWebhook(ctx, p)
	case domain.ActionTypeWhatsApp:
		return nil, d.sendWhatsApp(ctx, p)
	default:
		return nil, fmt.Errorf("unknown action type %q", p.trigger.ActionType)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, p pair) (*int, error) {
	target := p.trigger.WebhookURL
	if d.breaker != nil {
		if err := d.breaker.Allow(target); err != nil {
			return nil, err
		}
	}

	result := d.webhooks.Send(ctx, WebhookRequest{
		URL:     target,
		Payload: buildWebhookPayload(p.trigger, p.booking, p.fireTime),
	})

	var status *int
	if result.StatusCode != 0 {
		s := result.StatusCode
		status = &s
	}

	if result.IsSuccess() {
		if d.breaker != nil {
			d.breaker.RecordSuccess(target)
		}
		return status, nil
	}
	if d.breaker != nil {
		d.breaker.RecordFailure(target)
	}
	if result.Error != nil {
		return status, result.Error
	}
	return status, fmt.Errorf("webhook returned status %d", result.StatusCode)
}

// whatsappTarget keys the circuit breaker for the single shared gateway.
const whatsappTarget = "whatsapp-gateway"

func (d *Dispatcher) sendWhatsApp(ctx context.Context, p pair) error {
	if d.whatsapp == nil {
		return errors.New("whatsapp sender not configured")
	}

	destination := p.booking.AttendeePhone
	if p.trigger.Message.Channel == domain.MessageChannelCustom {
		destination = p.trigger.Message.CustomNumber
	}
	if destination == "" {
		return errors.New("no destination number for whatsapp message")
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(whatsappTarget); err != nil {
			return err
		}
	}

	text := RenderTemplate(p.trigger.Message.TemplateText, p.booking)
	if err := d.whatsapp.Send(ctx, destination, text); err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(whatsappTarget)
		}
		return err
	}
	if d.breaker != nil {
		d.breaker.RecordSuccess(whatsappTarget)
	}
	return nil
}

// classifyStatus maps an HTTP status code and error to a bounded-cardinality
// metrics label: 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "other_error"
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
