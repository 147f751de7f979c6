package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"goals-telegram/internal/domain"
	"goals-telegram/internal/metrics"
	"goals-telegram/internal/telegram"
)

const (
	DefaultPollTimeout = 60
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

var errNoProgress = errors.New("batch did not advance the offset")

type UpdateSource interface {
	FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telegram.Update, error)
}

type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, chatID int64, displayName string) (domain.ChatIdentity, bool, error)
}

type MessageHandler interface {
	Handle(ctx context.Context, ident domain.ChatIdentity, text string) error
}

type PollerConfig struct {
	// TimeoutSeconds is the getUpdates long-poll timeout.
	TimeoutSeconds int
	// Workers > 1 processes each batch on that many lanes keyed by chat id.
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Poller long-polls Telegram and feeds text messages to the handler. The
// offset is advanced before an update is handled, so an update is handled
// at most once per process.
type Poller struct {
	source   UpdateSource
	resolver IdentityResolver
	handler  MessageHandler

	timeout int
	workers int
	offset  int

	backoffBase time.Duration
	backoffMax  time.Duration
	jitter      *rand.Rand
	sleep       func(ctx context.Context, d time.Duration) error

	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewPoller(source UpdateSource, resolver IdentityResolver, handler MessageHandler, cfg PollerConfig) *Poller {
	p := &Poller{
		source:      source,
		resolver:    resolver,
		handler:     handler,
		timeout:     cfg.TimeoutSeconds,
		workers:     cfg.Workers,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		jitter:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepContext,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultPollTimeout
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = metrics.Discard()
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Offset is the next update id to request.
func (p *Poller) Offset() int { return p.offset }

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("polling started", "timeout_seconds", p.timeout, "workers", p.workers)
	attempt := 0
	for {
		if ctx.Err() != nil {
			p.log.Info("polling stopped", "offset", p.offset)
			return nil
		}
		updates, err := p.source.FetchUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait := p.fetchFailed(err, attempt)
			attempt++
			_ = p.sleep(ctx, wait)
			continue
		}
		before := p.offset
		p.dispatch(ctx, updates)
		if len(updates) > 0 && p.offset == before {
			// nothing in the batch moved the offset; refetching
			// immediately would spin on the same batch
			wait := p.fetchFailed(&telegram.ProtocolDecodeError{Method: "getUpdates", Err: errNoProgress}, attempt)
			attempt++
			_ = p.sleep(ctx, wait)
			continue
		}
		attempt = 0
	}
}

func (p *Poller) fetchFailed(err error, attempt int) time.Duration {
	kind := metrics.FetchTransport
	var pde *telegram.ProtocolDecodeError
	if errors.As(err, &pde) {
		kind = metrics.FetchDecode
	}
	p.metrics.FetchErrors.WithLabelValues(kind).Inc()

	wait := p.nextBackoff(attempt)
	if d, _ := telegram.Retryable(err); d > wait {
		wait = d
	}
	p.log.Warn("fetch updates failed", "offset", p.offset, "attempt", attempt+1, "retry_in", wait, "error", err)
	return wait
}

func (p *Poller) nextBackoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delta := p.backoffBase << attempt
	if delta > p.backoffMax || delta <= 0 {
		delta = p.backoffMax
	}
	jitterMax := int64(delta / 5)
	if jitterMax <= 0 {
		return delta
	}
	return delta + time.Duration(p.jitter.Int63n(jitterMax))
}

type job struct {
	updateID    int
	chatID      int64
	displayName string
	text        string
}

// accept advances the offset past u and reports whether u carries a text
// message worth handling.
func (p *Poller) accept(u telegram.Update) (job, bool) {
	p.metrics.UpdatesReceived.Inc()
	if u.UpdateID > 0 && u.UpdateID >= p.offset {
		p.offset = u.UpdateID + 1
		p.metrics.Offset.Set(float64(p.offset))
	}
	if u.DecodeErr != nil {
		p.metrics.UpdatesSkipped.WithLabelValues(metrics.SkipDecodeError).Inc()
		p.log.Warn("skipping undecodable update", "update_id", u.UpdateID, "error", u.DecodeErr)
		return job{}, false
	}
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		p.metrics.UpdatesSkipped.WithLabelValues(metrics.SkipNoText).Inc()
		p.log.Debug("skipping update without text", "update_id", u.UpdateID)
		return job{}, false
	}
	name := msg.Chat.UserName
	if name == "" && msg.From != nil {
		name = msg.From.UserName
	}
	return job{updateID: u.UpdateID, chatID: msg.Chat.ID, displayName: name, text: msg.Text}, true
}

func (p *Poller) dispatch(ctx context.Context, updates []telegram.Update) {
	if p.workers == 1 {
		for _, u := range updates {
			if ctx.Err() != nil {
				return
			}
			if j, ok := p.accept(u); ok {
				p.handle(ctx, j)
			}
		}
		return
	}

	// one lane per chat keeps each chat's messages ordered and single-writer
	lanes := make([][]job, p.workers)
	for _, u := range updates {
		if j, ok := p.accept(u); ok {
			lane := int(uint64(j.chatID) % uint64(p.workers))
			lanes[lane] = append(lanes[lane], j)
		}
	}
	var wg sync.WaitGroup
	for _, jobs := range lanes {
		if len(jobs) == 0 {
			continue
		}
		wg.Add(1)
		go func(jobs []job) {
			defer wg.Done()
			for _, j := range jobs {
				if ctx.Err() != nil {
					return
				}
				p.handle(ctx, j)
			}
		}(jobs)
	}
	wg.Wait()
}

func (p *Poller) handle(ctx context.Context, j job) {
	start := time.Now()
	log := p.log.With("update_id", j.updateID, "chat_id", j.chatID)
	defer func() {
		p.metrics.HandleDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			log.Error("panic while handling update", "error", fmt.Sprint(r))
		}
	}()

	ident, _, err := p.resolver.ResolveOrCreate(ctx, j.chatID, j.displayName)
	if err != nil {
		log.Error("resolve chat identity failed", "error", err)
		return
	}
	if err := p.handler.Handle(ctx, ident, j.text); err != nil {
		log.Error("handle message failed", "error", err)
	}
}
