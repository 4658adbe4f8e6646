// Package scheduler turns per-customer URL queues into a single fair,
// bounded stream of fetch attempts.
//
// The drain loop iterates customers round-robin, popping the head task of
// each non-empty queue in turn. A task whose domain is cooling is rotated
// to the tail of its customer's queue and the loop moves on, so one
// rate-limited domain never stalls other customers or even that customer's
// other domains. Fetches fan out to a bounded worker pool over ready tasks
// only; cooling tasks are cheap to hold and never occupy a worker. The
// loop itself never sleeps a full cooldown: it waits for whichever comes
// first of a completion and the earliest cooldown expiry.
package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Config controls drain behavior.
type Config struct {
	// Workers bounds concurrent fetches.
	Workers int
	// MaxTaskAttempts caps how many 429s a single task may absorb before
	// it is terminally failed.
	MaxTaskAttempts int
	// GlobalRPS throttles overall request rate. Zero disables the limiter.
	GlobalRPS float64
}

// Result is delivered to the handler once per task, when the task reaches
// a terminal state. Skipped marks tasks failed without a network attempt
// (saturated domain or run deadline).
type Result struct {
	Task    monitor.FetchTask
	Res     monitor.FetchResult
	Skipped bool
}

// Handler consumes terminal task results. It is invoked from the drain
// loop goroutine, so downstream processing is serialized.
type Handler func(Result)

// RateLimitFunc observes every 429 response, including ones that lead to
// a requeue rather than a terminal result.
type RateLimitFunc func(task monitor.FetchTask)

// Scheduler drains per-customer task queues through a Fetcher.
type Scheduler struct {
	fetcher     monitor.Fetcher
	cooldowns   *CooldownTracker
	clock       monitor.Clock
	limiter     *rate.Limiter
	logger      *zap.Logger
	cfg         Config
	onRateLimit RateLimitFunc
}

// New constructs a Scheduler around a per-run cooldown tracker.
func New(fetcher monitor.Fetcher, cooldowns *CooldownTracker, clock monitor.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxTaskAttempts <= 0 {
		cfg.MaxTaskAttempts = 4
	}
	var limiter *rate.Limiter
	if cfg.GlobalRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), 1)
	}
	return &Scheduler{
		fetcher:   fetcher,
		cooldowns: cooldowns,
		clock:     clock,
		limiter:   limiter,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetRateLimitObserver registers a callback for every 429 observed.
func (s *Scheduler) SetRateLimitObserver(fn RateLimitFunc) {
	s.onRateLimit = fn
}

// Drain runs every task to a terminal state: success, terminal error,
// rate-limit give-up, or deadline expiry. It returns when all queues are
// empty and nothing is in flight.
func (s *Scheduler) Drain(ctx context.Context, tasks []monitor.FetchTask, handle Handler) {
	if len(tasks) == 0 || handle == nil {
		return
	}

	queues := make(map[string]*fifo)
	var order []string
	for _, t := range tasks {
		q, ok := queues[t.CustomerID]
		if !ok {
			q = &fifo{}
			queues[t.CustomerID] = q
			order = append(order, t.CustomerID)
		}
		q.push(t)
	}
	sort.Strings(order)

	completions := make(chan Result)
	inflight := 0
	cursor := 0

	for ctx.Err() == nil {
		dispatched := false
		if inflight < s.cfg.Workers {
			if task, ok := s.popReady(queues, order, &cursor, handle); ok {
				inflight++
				go s.execute(ctx, task, completions)
				dispatched = true
			}
		}
		if dispatched {
			continue
		}
		if inflight == 0 && empty(queues) {
			return
		}

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if wake, cooling := s.cooldowns.EarliestWake(s.clock.Now()); cooling {
			d := wake.Sub(s.clock.Now())
			if d < time.Millisecond {
				d = time.Millisecond
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}
		select {
		case r := <-completions:
			inflight--
			s.settle(r, queues, handle)
		case <-timerC:
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
	}

	// Deadline expired: collect whatever is in flight, then record every
	// not-yet-attempted task as a timeout instead of dropping it.
	for inflight > 0 {
		r := <-completions
		inflight--
		s.settle(r, queues, handle)
	}
	for _, cust := range order {
		q := queues[cust]
		for !q.empty() {
			task := q.pop()
			handle(Result{
				Task: task,
				Res: monitor.FetchResult{
					FinalURL:   task.URL,
					ErrorClass: monitor.ErrClassTimeout,
					Err:        ctx.Err(),
				},
				Skipped: true,
			})
		}
	}
}

// popReady scans the customer ring once for a dispatchable task. Tasks on
// saturated domains are terminally failed during the scan; tasks on
// cooling domains are rotated to their queue's tail.
func (s *Scheduler) popReady(queues map[string]*fifo, order []string, cursor *int, handle Handler) (monitor.FetchTask, bool) {
	n := len(order)
	for i := 0; i < n; i++ {
		idx := (*cursor + i) % n
		q := queues[order[idx]]

		for !q.empty() && s.cooldowns.Saturated(q.head().Domain) {
			task := q.pop()
			s.logger.Warn("domain saturated by rate limiting, failing task without attempt",
				zap.String("customer_id", task.CustomerID),
				zap.String("domain", task.Domain),
				zap.String("url", task.URL),
			)
			handle(Result{
				Task: task,
				Res: monitor.FetchResult{
					FinalURL:   task.URL,
					StatusCode: 429,
					ErrorClass: monitor.ErrClassHTTP429,
				},
				Skipped: true,
			})
		}
		if q.empty() {
			continue
		}
		if !s.cooldowns.Ready(q.head().Domain, s.clock.Now()) {
			q.rotate()
			continue
		}
		task := q.pop()
		*cursor = (idx + 1) % n
		return task, true
	}
	return monitor.FetchTask{}, false
}

func (s *Scheduler) execute(ctx context.Context, task monitor.FetchTask, completions chan<- Result) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			completions <- Result{
				Task: task,
				Res: monitor.FetchResult{
					FinalURL:   task.URL,
					ErrorClass: monitor.ErrClassTimeout,
					Err:        err,
				},
			}
			return
		}
	}
	completions <- Result{Task: task, Res: s.fetcher.Fetch(ctx, task.URL)}
}

// settle applies one completed fetch: a 429 starts a cooldown and requeues
// or gives up on the task, anything else is terminal.
func (s *Scheduler) settle(r Result, queues map[string]*fifo, handle Handler) {
	if r.Res.ErrorClass != monitor.ErrClassHTTP429 {
		handle(r)
		return
	}

	metrics.TotalRateLimitHits.Inc()
	if s.onRateLimit != nil {
		s.onRateLimit(r.Task)
	}
	now := s.clock.Now()
	until := s.cooldowns.Record429(r.Task.Domain, r.Task.Attempts, now)
	r.Task.Attempts++
	if r.Task.Attempts >= s.cfg.MaxTaskAttempts {
		s.logger.Warn("task gave up after repeated rate limiting",
			zap.String("customer_id", r.Task.CustomerID),
			zap.String("url", r.Task.URL),
			zap.Int("attempts", r.Task.Attempts),
		)
		handle(r)
		return
	}
	s.logger.Debug("domain cooling after 429",
		zap.String("domain", r.Task.Domain),
		zap.Time("next_allowed_at", until),
		zap.Int("attempts", r.Task.Attempts),
	)
	queues[r.Task.CustomerID].push(r.Task)
}

func empty(queues map[string]*fifo) bool {
	for _, q := range queues {
		if !q.empty() {
			return false
		}
	}
	return true
}

type fifo struct {
	items []monitor.FetchTask
}

func (q *fifo) push(t monitor.FetchTask) {
	q.items = append(q.items, t)
}

func (q *fifo) pop() monitor.FetchTask {
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

func (q *fifo) head() monitor.FetchTask {
	return q.items[0]
}

func (q *fifo) rotate() {
	head := q.items[0]
	q.items = append(q.items[1:], head)
}

func (q *fifo) empty() bool {
	return len(q.items) == 0
}
