package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.palytt.app/swarm/pkg/ratelimit"
	"go.uber.org/zap"
)

// Registry owns the queues and workers of one process.
//
// It is constructed once by the composition root and passed by reference to
// producers and consumers; there is deliberately no package-level instance.
// Teardown is ordered: workers drain first so completion signals are never
// dropped, then the background loops stop, then queue handles are released.
type Registry struct {
	Log     *zap.Logger
	Redis   *redis.Client
	Options *Options

	codec *Codec

	mu      sync.Mutex
	queues  map[string]*Queue
	workers map[string]*Worker
	started bool

	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger, rd *redis.Client, opts *Options) *Registry {
	workerCtx, workerCancel := context.WithCancel(context.Background())
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Registry{
		Log:          log,
		Redis:        rd,
		Options:      opts,
		codec:        NewCodec(),
		queues:       make(map[string]*Queue),
		workers:      make(map[string]*Worker),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
		bgCtx:        bgCtx,
		bgCancel:     bgCancel,
	}
}

// Queue returns the named queue, creating the handle lazily on first
// reference.
func (r *Registry) Queue(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueLocked(name)
}

func (r *Registry) queueLocked(name string) *Queue {
	queue, ok := r.queues[name]
	if !ok {
		queue = NewQueue(r.Log, r.Redis, name, r.Options)
		r.queues[name] = queue
	}
	return queue
}

// Enqueue adds a job to the named queue. Returns nil when the backing store
// is unavailable; see Queue.Enqueue.
func (r *Registry) Enqueue(ctx context.Context, queue string, payload Payload, opts EnqueueOptions) *Handle {
	return r.Queue(queue).Enqueue(ctx, payload, opts)
}

// RegisterPayload binds a payload kind to its constructor, letting handlers
// receive typed payloads instead of raw JSON.
func (r *Registry) RegisterPayload(kind string, factory func() Payload) {
	r.codec.Register(kind, factory)
}

// RegisterWorker binds a handler to a queue. Registering a queue twice is a
// no-op warning that returns the existing worker, not an error.
func (r *Registry) RegisterWorker(name string, handler Handler, cfg WorkerConfig) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.workers[name]; ok {
		r.Log.Warn("Worker already registered for queue", zap.String("queue", name))
		return existing
	}
	queue := r.queueLocked(name)
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	worker := &Worker{
		Log:         r.Log.With(zap.String("queue", name)),
		Queue:       queue,
		Handler:     handler,
		Concurrency: concurrency,
		codec:       r.codec,
	}
	if cfg.RateLimit != nil {
		worker.Limit = ratelimit.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	r.workers[name] = worker
	if r.started {
		r.startWorkerLocked(worker)
	}
	return worker
}

// BackendAvailable reports whether the backing store currently responds.
func (r *Registry) BackendAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.Redis.Ping(pingCtx).Err() == nil
}

// Start launches the worker pools, promoters and the retention janitor.
// Workers registered after Start are launched immediately.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for _, worker := range r.workers {
		r.startWorkerLocked(worker)
	}
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		r.janitor(r.bgCtx)
	}()
}

func (r *Registry) startWorkerLocked(worker *Worker) {
	r.workerWG.Add(1)
	go func() {
		defer r.workerWG.Done()
		_ = worker.Run(r.workerCtx)
	}()
	promoter := &Promoter{Log: worker.Log, Queue: worker.Queue}
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		_ = promoter.Run(r.bgCtx)
	}()
}

// janitor applies age-based retention to terminal jobs across all queues.
func (r *Registry) janitor(ctx context.Context) {
	ticker := time.NewTicker(r.Options.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		queues := make([]*Queue, 0, len(r.queues))
		for _, queue := range r.queues {
			queues = append(queues, queue)
		}
		r.mu.Unlock()
		for _, queue := range queues {
			if n, err := queue.Clean(ctx, r.Options.CompletedRetention.MaxAge, StateCompleted); err == nil && n > 0 {
				queue.Log.Debug("Pruned completed jobs", zap.Int64("count", n))
			}
			if n, err := queue.Clean(ctx, r.Options.DeadRetention.MaxAge, StateDead); err == nil && n > 0 {
				queue.Log.Debug("Pruned dead jobs", zap.Int64("count", n))
			}
		}
	}
}

// Close shuts the registry down gracefully: claim loops stop and in-flight
// jobs drain, then promoters and the janitor stop, then queue handles are
// dropped. The Redis client stays open; it belongs to the composition root.
func (r *Registry) Close() error {
	r.workerCancel()
	r.workerWG.Wait()
	r.bgCancel()
	r.bgWG.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = make(map[string]*Queue)
	r.workers = make(map[string]*Worker)
	r.started = false
	r.Log.Info("Job registry closed")
	return nil
}
