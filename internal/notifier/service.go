package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	rtsup "arrismon/internal/runtime/supervisor"
	logx "arrismon/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// SendFunc delivers one alert message. The default implementation talks
// to the Telegram Bot API; tests inject their own.
type SendFunc func(ctx context.Context, chatID int64, text string) error

// Service is a small async alert pipeline: bounded queue, one worker,
// rate-limited sends with retry. Alerts are best-effort; nothing here
// may ever block or fail the polling loops.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	send    SendFunc
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup
	queue     chan string
	sup       *rtsup.Supervisor
}

func NewService(cfg Config, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// SetSendFunc overrides the delivery function. Must be called before
// Start.
func (s *Service) SetSendFunc(fn SendFunc) {
	s.mu.Lock()
	s.send = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool { return s.cfg.Enabled() }

// Start brings up the worker. Disabled configs are a silent no-op; a
// failed Telegram handshake disables the notifier and is reported, not
// fatal.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled() {
		s.log.Debug("notifier disabled")
		return nil
	}

	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return nil
	}
	if s.send == nil {
		send, err := newTelegramSender(s.cfg.Token)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.send = send
	}

	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Alert delivery trouble never takes the daemon down.
		rtsup.WithCancelOnError(false),
	)
	q := s.queue
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("notifier.worker", func(c context.Context) {
		s.workerLoop(c, q)
	})
	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID))
	return nil
}

// Stop blocks new alerts and drains the queue until ctx runs out.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Let racing Notify calls finish their enqueue before closing.
	s.enqueueWG.Wait()
	close(q)

	if sup != nil {
		if err := sup.Wait(ctx); err != nil {
			// Deadline hit with alerts still queued; force the worker out.
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
}

// Notify enqueues one alert without blocking. A full queue rejects the
// alert rather than stalling the caller.
func (s *Service) Notify(text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled() {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- text:
		return nil
	default:
		s.log.Warn("alert dropped, queue full")
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, text)
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	s.mu.Lock()
	send := s.send
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()
	if send == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := send(callCtx, cfg.ChatID, text)
		cancel()
		if err == nil {
			s.log.Debug("alert sent")
			return
		}
		s.log.Warn("alert send failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
		)
		if attempt >= attempts {
			return
		}

		// Exponential backoff between attempts.
		delay := cfg.RetryBase << (attempt - 1)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
