package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fraruiz/pgmb/internal/domain"
)

// scheduler owns one ticker goroutine per queue. Loops run off the engine's
// root context, never a caller's request context. Ticks for a queue run
// sequentially; cadence under a slow worker degrades rather than piling up.
type scheduler struct {
	disp     *dispatcher
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	loops   map[string]*tickLoop
	wg      sync.WaitGroup
}

type tickLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newScheduler(disp *dispatcher, interval time.Duration, log zerolog.Logger) *scheduler {
	return &scheduler{
		disp:     disp,
		interval: interval,
		log:      log,
		baseCtx:  context.Background(),
		loops:    make(map[string]*tickLoop),
	}
}

// start pins the context every subsequent loop is derived from.
func (sc *scheduler) start(ctx context.Context) {
	sc.mu.Lock()
	sc.baseCtx = ctx
	sc.mu.Unlock()
}

func (sc *scheduler) register(queueID, queueName string) {
	sc.mu.Lock()
	if _, ok := sc.loops[queueID]; ok {
		sc.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(sc.baseCtx)
	l := &tickLoop{cancel: cancel, done: make(chan struct{})}
	sc.loops[queueID] = l
	sc.wg.Add(1)
	sc.mu.Unlock()

	go sc.run(loopCtx, queueID, queueName, l.done)
}

// cancel stops the queue's loop and waits for an in-flight tick to finish, so
// callers can drop the queue's containers afterwards.
func (sc *scheduler) cancel(queueID string) {
	sc.mu.Lock()
	l, ok := sc.loops[queueID]
	if ok {
		delete(sc.loops, queueID)
	}
	sc.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	<-l.done
}

func (sc *scheduler) shutdown() {
	sc.mu.Lock()
	for id, l := range sc.loops {
		l.cancel()
		delete(sc.loops, id)
	}
	sc.mu.Unlock()

	sc.wg.Wait()
}

func (sc *scheduler) forget(queueID string) {
	sc.mu.Lock()
	delete(sc.loops, queueID)
	sc.mu.Unlock()
}

func (sc *scheduler) run(ctx context.Context, queueID, queueName string, done chan struct{}) {
	defer close(done)
	defer sc.wg.Done()

	log := sc.log.With().Str("queue", queueName).Logger()

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	var lastErr string
	var lastAt time.Time

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("dispatch loop stopped")
			return
		case <-ticker.C:
			err := sc.disp.tick(ctx, queueID)
			if err == nil {
				lastErr = ""
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			// Another engine instance may have destroyed the queue.
			if domain.IsCode(err, domain.CodeNotFound) {
				log.Info().Msg("queue gone; stopping dispatch loop")
				sc.forget(queueID)
				return
			}
			if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
				log.Warn().Err(err).Msg("tick failed")
				lastErr = err.Error()
				lastAt = time.Now()
			}
		}
	}
}
