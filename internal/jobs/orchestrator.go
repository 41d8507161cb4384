// Package jobs orchestrates asynchronous explanation jobs: submission,
// deduplication against the artifact cache, bounded concurrent execution,
// status polling and cooperative cancellation.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/modelproof/xaibench/internal/cache"
	"github.com/modelproof/xaibench/internal/explain"
	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/store"
)

const (
	defaultWorkers    = 4
	defaultSampleSize = 100
	maxSampleSize     = 1000
)

// SubmitRequest is the input for a new explanation job.
type SubmitRequest struct {
	ModelID string          `json:"model_id"`
	Method  model.Method    `json:"method"`
	Scope   model.Scope     `json:"scope"`
	Config  model.JobConfig `json:"config"`
}

// Orchestrator runs explanation jobs on a bounded worker pool. Jobs with
// the same cache key coalesce onto the in-flight computation, and cache
// hits produce jobs that are born completed.
type Orchestrator struct {
	store store.Store
	cache cache.Cache
	log   *zap.Logger
	sem   *semaphore.Weighted

	// providerFor selects the attribution strategy; injectable for tests.
	providerFor func(model.Method, model.ModelFamily) (explain.Provider, error)

	mu       sync.Mutex
	jobs     map[string]*model.ExplanationJob
	inflight map[string]string // cache key -> job ID owning the computation; released by the worker on exit
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithWorkers bounds the number of concurrently executing jobs.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithProviderFactory overrides attribution strategy selection.
func WithProviderFactory(f func(model.Method, model.ModelFamily) (explain.Provider, error)) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.providerFor = f
		}
	}
}

// New creates an Orchestrator backed by the given store and artifact cache.
func New(st store.Store, c cache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		cache:       c,
		log:         zap.L(),
		sem:         semaphore.NewWeighted(defaultWorkers),
		providerFor: explain.ForModel,
		jobs:        make(map[string]*model.ExplanationJob),
		inflight:    make(map[string]string),
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates the request, consults the cache, and either returns a
// born-completed job, attaches to an in-flight job with the same cache key,
// or enqueues a fresh one.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.ExplanationJob, error) {
	req.Config = normalizeConfig(req.Config)

	m, err := o.store.GetModel(ctx, req.ModelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrModelNotFound, "model %s", req.ModelID)
		}
		return nil, eris.Wrapf(err, "jobs: load model %s", req.ModelID)
	}

	provider, err := o.providerFor(req.Method, m.Family)
	if err != nil {
		return nil, err
	}

	ds, err := o.store.GetDataset(ctx, m.DatasetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrDatasetNotFound, "dataset %s", m.DatasetID)
		}
		return nil, eris.Wrapf(err, "jobs: load dataset %s", m.DatasetID)
	}
	if req.Scope.Kind == model.ScopeLocal {
		if req.Scope.Instance < 0 || req.Scope.Instance >= len(ds.Rows) {
			return nil, eris.Wrapf(explain.ErrInstanceOutOfRange,
				"instance %d of %d rows", req.Scope.Instance, len(ds.Rows))
		}
	}

	key := cache.Key(req.ModelID, req.Method, req.Scope, req.Config)

	o.mu.Lock()
	// The owner may be a cancelled job whose worker is still draining;
	// attaching to it keeps at most one computation per key.
	if jobID, ok := o.inflight[key]; ok {
		job := o.jobs[jobID]
		snapshot := *job
		o.mu.Unlock()
		o.log.Debug("jobs: coalesced onto in-flight job",
			zap.String("job_id", jobID), zap.String("cache_key", key))
		return &snapshot, nil
	}
	o.mu.Unlock()

	if artifact, err := o.lookupArtifact(ctx, key); err == nil && artifact != nil {
		return o.completedJob(req, key, artifact), nil
	} else if err != nil {
		o.log.Warn("jobs: cache lookup failed, recomputing", zap.Error(err))
	}

	job := &model.ExplanationJob{
		ID:        uuid.New().String(),
		ModelID:   req.ModelID,
		Method:    req.Method,
		Scope:     req.Scope,
		Config:    req.Config,
		State:     model.JobStateQueued,
		CacheKey:  key,
		CreatedAt: time.Now().UTC(),
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	// Re-check under lock so two racing submits cannot both launch.
	if jobID, ok := o.inflight[key]; ok {
		existing := *o.jobs[jobID]
		o.mu.Unlock()
		cancel()
		return &existing, nil
	}
	o.jobs[job.ID] = job
	o.inflight[key] = job.ID
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	// Pinned keys survive eviction while the job that will write them is
	// still in flight.
	o.cache.Pin(key)

	o.wg.Add(1)
	go o.run(jobCtx, job.ID, provider, m, ds, req)

	o.log.Info("jobs: submitted",
		zap.String("job_id", job.ID),
		zap.String("model_id", req.ModelID),
		zap.String("method", string(req.Method)),
		zap.String("scope", string(req.Scope.Kind)))

	snapshot := *job
	return &snapshot, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(jobID string) (*model.ExplanationJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// Cancel requests cooperative cancellation. Terminal jobs cannot be
// cancelled; the transition to cancelled happens immediately, and the
// worker observes it at its next checkpoint. The cache key stays reserved
// until the cancelled worker actually exits, so a resubmit of the same key
// cannot start a second computation while the old run is still draining.
func (o *Orchestrator) Cancel(jobID string) (*model.ExplanationJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[jobID]
	if !ok {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}
	if job.State.Terminal() {
		return nil, eris.Wrapf(ErrAlreadyTerminal, "job %s is %s", jobID, job.State)
	}

	now := time.Now().UTC()
	job.State = model.JobStateCancelled
	job.CompletedAt = &now
	job.Error = &model.JobError{Class: ClassCancelled, Message: "cancelled by caller"}
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
	}

	o.log.Info("jobs: cancelled", zap.String("job_id", jobID))
	snapshot := *job
	return &snapshot, nil
}

// List returns snapshots of all known jobs, newest first.
func (o *Orchestrator) List() []model.ExplanationJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.ExplanationJob, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, *job)
	}
	sortJobsByCreated(out)
	return out
}

// Stats summarizes job states for the monitoring surface.
type Stats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Cancelled int   `json:"cancelled"`
	CacheHits int64 `json:"cache_hits"`
}

// Stats returns current job state counts plus the artifact cache hit count.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var s Stats
	for _, job := range o.jobs {
		switch job.State {
		case model.JobStateQueued:
			s.Queued++
		case model.JobStateRunning:
			s.Running++
		case model.JobStateCompleted:
			s.Completed++
		case model.JobStateFailed:
			s.Failed++
		case model.JobStateCancelled:
			s.Cancelled++
		}
	}
	s.CacheHits = o.cache.Hits()
	return s
}

// Shutdown waits for in-flight workers to finish or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "jobs: shutdown")
	}
}

// run executes one job on the worker pool.
func (o *Orchestrator) run(ctx context.Context, jobID string, provider explain.Provider,
	m *model.Model, ds *model.Dataset, req SubmitRequest) {
	defer o.wg.Done()
	defer o.releaseKey(jobID)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.finishCancelled(jobID)
		return
	}
	defer o.sem.Release(1)

	if !o.transitionRunning(jobID) {
		return
	}

	checkpoint := func() error {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "jobs: cancelled")
		}
		o.advanceProgress(jobID)
		return nil
	}

	res, err := provider.Explain(ctx, explain.Request{
		Model:      m,
		Dataset:    ds,
		Scope:      req.Scope,
		Config:     req.Config,
		Seed:       cache.Seed(o.jobCacheKey(jobID)),
		Checkpoint: checkpoint,
	})
	if err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(jobID)
			return
		}
		o.finishFailed(jobID, err)
		return
	}

	artifact := &model.Explanation{
		ID:            uuid.New().String(),
		ModelID:       m.ID,
		Method:        req.Method,
		Scope:         req.Scope,
		Contributions: res.Contributions,
		BaseValue:     res.BaseValue,
		Probability:   res.Probability,
		SampleSize:    res.SampleSize,
		CacheKey:      o.jobCacheKey(jobID),
		CreatedAt:     time.Now().UTC(),
	}

	// ctx dies with Cancel, but a computation that finished anyway still
	// lands in the store and the cache; only the job's terminal state
	// stays cancelled.
	persistCtx := context.WithoutCancel(ctx)

	if err := o.store.CreateExplanation(persistCtx, artifact); err != nil {
		// A concurrent job may have landed the same artifact first.
		if existing, lookupErr := o.store.GetExplanationByCacheKey(persistCtx, artifact.CacheKey); lookupErr == nil && existing != nil {
			artifact = existing
		} else {
			o.finishFailedClass(jobID, ClassStorageFailed, err)
			return
		}
	}
	if err := o.cache.Put(persistCtx, artifact.CacheKey, artifact); err != nil {
		o.log.Warn("jobs: cache put failed", zap.String("job_id", jobID), zap.Error(err))
	}

	o.finishCompleted(jobID, artifact.ID)
}

// lookupArtifact checks the cache, then falls back to the persisted store
// and re-populates the cache on a store hit.
func (o *Orchestrator) lookupArtifact(ctx context.Context, key string) (*model.Explanation, error) {
	artifact, err := o.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if artifact != nil {
		if err := o.store.IncrementCacheHits(ctx, artifact.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			o.log.Warn("jobs: persist cache hit failed", zap.Error(err))
		}
		return artifact, nil
	}

	persisted, err := o.store.GetExplanationByCacheKey(ctx, key)
	if err != nil || persisted == nil {
		return nil, err
	}
	if err := o.cache.Put(ctx, key, persisted); err != nil {
		o.log.Warn("jobs: cache repopulate failed", zap.Error(err))
	}
	return persisted, nil
}

// completedJob registers a job that is born completed from a cached artifact.
func (o *Orchestrator) completedJob(req SubmitRequest, key string, artifact *model.Explanation) *model.ExplanationJob {
	now := time.Now().UTC()
	job := &model.ExplanationJob{
		ID:            uuid.New().String(),
		ModelID:       req.ModelID,
		Method:        req.Method,
		Scope:         req.Scope,
		Config:        req.Config,
		State:         model.JobStateCompleted,
		Progress:      1,
		CacheKey:      key,
		ExplanationID: artifact.ID,
		CreatedAt:     now,
		StartedAt:     &now,
		CompletedAt:   &now,
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	o.log.Info("jobs: served from cache",
		zap.String("job_id", job.ID), zap.String("explanation_id", artifact.ID))
	snapshot := *job
	return &snapshot
}

func (o *Orchestrator) jobCacheKey(jobID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[jobID]; ok {
		return job.CacheKey
	}
	return ""
}

// transitionRunning moves a queued job to running. Returns false when the
// job was cancelled while queued.
func (o *Orchestrator) transitionRunning(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.State != model.JobStateQueued {
		return false
	}
	now := time.Now().UTC()
	job.State = model.JobStateRunning
	job.Progress = 0.05
	job.StartedAt = &now
	return true
}

// advanceProgress nudges a running job's progress toward (but never past)
// 0.95. Providers do not report totals, so progress is asymptotic.
func (o *Orchestrator) advanceProgress(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.State != model.JobStateRunning {
		return
	}
	job.Progress += (0.95 - job.Progress) * 0.05
}

func (o *Orchestrator) finishCompleted(jobID, explanationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	job.State = model.JobStateCompleted
	job.Progress = 1
	job.ExplanationID = explanationID
	job.CompletedAt = &now
	o.log.Info("jobs: completed",
		zap.String("job_id", jobID), zap.String("explanation_id", explanationID))
}

func (o *Orchestrator) finishFailed(jobID string, err error) {
	o.finishFailedClass(jobID, classify(err), err)
}

func (o *Orchestrator) finishFailedClass(jobID, class string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	job.State = model.JobStateFailed
	job.CompletedAt = &now
	job.Error = &model.JobError{Class: class, Message: err.Error()}
	o.log.Warn("jobs: failed",
		zap.String("job_id", jobID), zap.String("class", class), zap.Error(err))
}

func (o *Orchestrator) finishCancelled(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	job.State = model.JobStateCancelled
	job.CompletedAt = &now
	job.Error = &model.JobError{Class: ClassCancelled, Message: "cancelled"}
}

// releaseKey drops the job's inflight reservation, cancel func and cache
// pin. Called only from the worker goroutine's exit path: releasing any
// earlier would let a resubmitted key launch a second computation while
// this one is still draining.
func (o *Orchestrator) releaseKey(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return
	}
	if owner, ok := o.inflight[job.CacheKey]; ok && owner == jobID {
		delete(o.inflight, job.CacheKey)
	}
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
		delete(o.cancels, jobID)
	}
	o.cache.Unpin(job.CacheKey)
}

// normalizeConfig fills defaults and clamps the sample size.
func normalizeConfig(cfg model.JobConfig) model.JobConfig {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaultSampleSize
	}
	if cfg.SampleSize > maxSampleSize {
		cfg.SampleSize = maxSampleSize
	}
	return cfg
}

func sortJobsByCreated(jobs []model.ExplanationJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
