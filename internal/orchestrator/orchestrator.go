package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/sparkgen/internal/cache"
	"github.com/xaenox/sparkgen/internal/connection"
	"github.com/xaenox/sparkgen/internal/events"
	"github.com/xaenox/sparkgen/internal/fallback"
	"github.com/xaenox/sparkgen/internal/metrics"
	"github.com/xaenox/sparkgen/internal/models"
	"github.com/xaenox/sparkgen/internal/remote"
	"github.com/xaenox/sparkgen/internal/storage"
	"go.uber.org/zap"
)

// ErrUnauthorized is the only remote failure returned to callers. The wrapped
// *remote.Error carries the details.
var ErrUnauthorized = errors.New("remote service rejected credentials")

const (
	recommendationsPrefix = "ai_recs"
	categoriesKey         = "ai_categories"
)

// Result is the outcome of a successful Generate call.
type Result struct {
	Messages []models.GeneratedMessage
	Origin   models.Origin
	Attempts int
	Quality  connection.Quality
	Policy   RetryPolicy
	// Warnings lists persistence problems. The messages are still valid.
	Warnings []string
	RecordID string
}

type Config struct {
	Policies           PolicySet
	RecommendationsTTL time.Duration
	CategoriesTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policies:           DefaultPolicies(),
		RecommendationsTTL: 6 * time.Hour,
		CategoriesTTL:      24 * time.Hour,
	}
}

// Orchestrator drives generation through retries and fallback, and serves
// cached lookups backed by the same remote service.
type Orchestrator struct {
	sender   remote.Sender
	monitor  *connection.Monitor
	store    storage.Store
	fallback *fallback.Generator
	cache    *cache.Cache
	broker   *events.Broker
	observer StateObserver
	logger   *zap.Logger
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

type Option func(*Orchestrator)

func WithStore(s storage.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithBroker(b *events.Broker) Option {
	return func(o *Orchestrator) { o.broker = b }
}

func WithObserver(fn StateObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func WithFallback(g *fallback.Generator) Option {
	return func(o *Orchestrator) { o.fallback = g }
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(sender remote.Sender, monitor *connection.Monitor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sender:   sender,
		monitor:  monitor,
		fallback: fallback.NewGenerator(),
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		now:      time.Now,
		sleep:    sleepContext,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Policies == nil {
		o.cfg.Policies = DefaultPolicies()
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call tracks the state of one Generate invocation.
type call struct {
	o       *Orchestrator
	id      string
	state   State
	attempt int
}

func (c *call) to(next State, err error) {
	t := Transition{CallID: c.id, From: c.state, To: next, Attempt: c.attempt, Err: err}
	c.state = next
	if c.o.observer != nil {
		c.o.observer(t)
	}
	if c.o.broker != nil {
		meta := map[string]string{
			"call_id": c.id,
			"from":    t.From.String(),
			"state":   next.String(),
			"attempt": strconv.Itoa(c.attempt),
		}
		if err != nil {
			meta["error"] = err.Error()
		}
		c.o.broker.Publish(&events.Event{Type: events.EventGenerationState, Metadata: meta})
	}
}

// Generate produces messages for req. Every failure except an authorization
// error ends in a usable result; ctx cancellation returns ctx.Err() without
// persisting anything.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GenerationDuration)

	quality := o.monitor.CurrentQuality()
	metrics.ConnectionQuality.Set(float64(quality))
	policy := o.cfg.Policies.For(quality)

	c := &call{o: o, id: uuid.NewString(), state: StateIdle}
	logger := o.logger.With(
		zap.String("call_id", c.id),
		zap.String("category", string(req.Category)),
		zap.String("quality", quality.String()),
	)

	var lastErr *remote.Error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.to(StateRetrying, lastErr)
			delay := policy.Delay(attempt-1, lastErr.Kind, o.rand)
			logger.Debug("Waiting before retry",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.String("kind", lastErr.Kind.String()))
			if err := o.sleep(ctx, delay); err != nil {
				c.to(StateCancelled, err)
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			c.to(StateCancelled, err)
			return nil, err
		}

		c.attempt = attempt + 1
		c.to(StateAttempting, nil)
		resp, err := o.send(ctx, policy.AttemptTimeout, &remote.Payload{
			Operation: remote.OpGenerate,
			Request:   req,
			Category:  req.Category,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			// whatever the call returned belongs to a cancelled caller
			c.to(StateCancelled, ctxErr)
			return nil, ctxErr
		}
		if err == nil {
			var msgs []models.GeneratedMessage
			if msgs, err = o.fromResponse(req, resp); err == nil {
				metrics.GenerationAttempts.WithLabelValues("success").Inc()
				c.to(StateSucceeded, nil)
				return o.finish(ctx, logger, req, msgs, models.OriginRemote, c.attempt, quality, policy), nil
			}
		}

		lastErr = remote.Classify(err)
		metrics.GenerationAttempts.WithLabelValues(lastErr.Kind.String()).Inc()
		logger.Warn("Generation attempt failed",
			zap.Int("attempt", c.attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.String("kind", lastErr.Kind.String()),
			zap.Error(err))

		if lastErr.Kind == remote.KindUnauthorized {
			c.to(StateFailed, lastErr)
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, lastErr)
		}
		if !policy.retryable(lastErr.Kind) {
			break
		}
	}

	c.to(StateExhausted, lastErr)
	c.to(StateFallbackGenerating, nil)
	msgs := o.fallback.Generate(req)
	c.to(StateFallbackSucceeded, nil)
	logger.Info("Served fallback messages",
		zap.Int("attempts", c.attempt),
		zap.Int("messages", len(msgs)))
	return o.finish(ctx, logger, req, msgs, models.OriginFallback, c.attempt, quality, policy), nil
}

// send runs a single remote attempt under its own timeout and feeds the
// outcome to the connection monitor.
func (o *Orchestrator) send(ctx context.Context, timeout time.Duration, p *remote.Payload) (*remote.Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.sender.Send(attemptCtx, p)
	latency := time.Since(start)

	if ctx.Err() != nil {
		// caller cancellation says nothing about the network
		return nil, ctx.Err()
	}
	if err == nil && resp == nil {
		err = remote.NewError(remote.KindDecoding, "empty response")
	}
	sample := connection.Sample{Succeeded: err == nil, Latency: latency}
	if err != nil {
		sample.Connectivity = remote.KindOf(err).Connectivity()
	}
	o.monitor.Record(sample)
	metrics.ConnectionQuality.Set(float64(o.monitor.CurrentQuality()))
	return resp, err
}

func (o *Orchestrator) fromResponse(req models.GenerationRequest, resp *remote.Response) ([]models.GeneratedMessage, error) {
	now := o.now()
	snapshot := req.Snapshot()
	msgs := make([]models.GeneratedMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		impact := m.Impact
		if impact < models.ImpactLow || impact > models.ImpactHigh {
			impact = models.ImpactMedium
		}
		msgs = append(msgs, models.GeneratedMessage{
			ID:        models.NewMessageID(),
			Content:   content,
			Category:  req.Category,
			Tone:      req.Tone,
			Impact:    impact,
			Context:   snapshot,
			CreatedAt: now,
			Origin:    models.OriginRemote,
		})
		if len(msgs) == req.MessageCount() {
			break
		}
	}
	if len(msgs) == 0 {
		return nil, remote.NewError(remote.KindDecoding, "response contained no usable messages")
	}
	return msgs, nil
}

// finish persists the result best-effort and reports it.
func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, req models.GenerationRequest, msgs []models.GeneratedMessage, origin models.Origin, attempts int, quality connection.Quality, policy RetryPolicy) *Result {
	res := &Result{
		Messages: msgs,
		Origin:   origin,
		Attempts: attempts,
		Quality:  quality,
		Policy:   policy,
	}

	if o.store != nil {
		for i := range msgs {
			if err := o.store.Save(ctx, &msgs[i]); err != nil {
				metrics.StoreSaveFailures.Inc()
				logger.Error("Failed to save message", zap.String("message_id", msgs[i].ID), zap.Error(err))
				res.Warnings = append(res.Warnings, fmt.Sprintf("message %s not saved: %v", msgs[i].ID, err))
			}
		}
		rec := models.NewGenerationRecord(req, msgs, origin, o.now())
		if err := o.store.SaveGenerationRecord(ctx, rec); err != nil {
			metrics.StoreSaveFailures.Inc()
			logger.Error("Failed to save generation record", zap.Error(err))
			res.Warnings = append(res.Warnings, fmt.Sprintf("generation record not saved: %v", err))
		} else {
			res.RecordID = rec.ID
		}
	}

	metrics.Generations.WithLabelValues(string(origin)).Inc()
	if o.broker != nil {
		o.broker.Publish(&events.Event{
			Type:    events.EventGenerationCompleted,
			Message: fmt.Sprintf("%d %s messages", len(msgs), origin),
			Metadata: map[string]string{
				"origin":   string(origin),
				"category": string(req.Category),
				"attempts": strconv.Itoa(attempts),
			},
		})
	}
	return res
}

// lookupTimeout bounds a single cached-lookup fetch.
func (o *Orchestrator) lookupTimeout() time.Duration {
	return o.cfg.Policies.For(o.monitor.CurrentQuality()).AttemptTimeout
}

func (o *Orchestrator) fetchItems(p *remote.Payload) cache.Loader {
	return func(ctx context.Context) ([]byte, error) {
		resp, err := o.send(ctx, o.lookupTimeout(), p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.Array(resp.Items...))
	}
}

func decodeItems(raw []byte) ([]models.Value, error) {
	var v models.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached items: %w", err)
	}
	items, ok := v.AsArray()
	if !ok {
		return nil, fmt.Errorf("cached items are %v, not an array", v.Kind())
	}
	return items, nil
}

// Recommendations returns personalized suggestions for a category near a
// location. A cached set is returned at once and refreshed in the background.
func (o *Orchestrator) Recommendations(ctx context.Context, category models.Category, lat, lon float64) ([]models.Value, error) {
	fetch := o.fetchItems(&remote.Payload{
		Operation: remote.OpRecommendations,
		Category:  category,
		Latitude:  lat,
		Longitude: lon,
	})
	if o.cache == nil {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return decodeItems(raw)
	}

	key := cache.GeoKey(recommendationsPrefix, string(category), lat, lon)
	strategy := cache.MemoryOnly
	if o.cache.HasDisk() {
		strategy = cache.Hybrid
	}
	raw, err := cache.CacheThenRefresh(ctx, o.cache, key, strategy, o.cfg.RecommendationsTTL, fetch, func(_ []byte, err error) {
		if err == nil && o.broker != nil {
			o.broker.Publish(&events.Event{
				Type:     events.EventCacheRefreshed,
				Metadata: map[string]string{"key": key},
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

// Categories fetches the category catalog, serving the last known copy when
// the service is unreachable. stale reports that the cached copy was used.
func (o *Orchestrator) Categories(ctx context.Context) (items []models.Value, stale bool, err error) {
	fetch := o.fetchItems(&remote.Payload{Operation: remote.OpCategories})
	var raw []byte
	if o.cache == nil {
		raw, err = fetch(ctx)
	} else {
		raw, stale, err = cache.NetworkFirst(ctx, o.cache, categoriesKey, cache.MemoryOnly, o.cfg.CategoriesTTL, fetch)
	}
	if err != nil {
		return nil, false, err
	}
	items, err = decodeItems(raw)
	return items, stale, err
}

// OnUserChanged drops everything derived from the previous user: cached
// lookups in both tiers and the connection history.
func (o *Orchestrator) OnUserChanged(userID string) error {
	o.monitor.Reset()
	metrics.ConnectionQuality.Set(float64(o.monitor.CurrentQuality()))

	var err error
	if o.cache != nil {
		if err = o.cache.Clear(); err != nil {
			o.logger.Error("Failed to clear cache", zap.Error(err))
		}
	}
	if o.broker != nil {
		o.broker.Publish(&events.Event{
			Type:     events.EventUserChanged,
			Metadata: map[string]string{"user_id": userID},
		})
	}
	o.logger.Info("User changed", zap.String("user_id", userID))
	return err
}
