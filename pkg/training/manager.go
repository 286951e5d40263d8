// Package training runs model training jobs. At most one job exists between
// submission and a terminal phase; Submit is asynchronous and reports the job
// id immediately while progress flows through the status store. A failed job
// never touches the model registry.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/dataset"
	"github.com/sentilab-ai/platform/pkg/registry"
	"github.com/sentilab-ai/platform/pkg/status"
	"gorm.io/datatypes"
)

// Events receives lifecycle notifications. Satisfied by the kafka producer;
// nil disables publishing.
type Events interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type ManagerOptions struct {
	// Defaults fill zero hyperparameter fields of incoming requests.
	Defaults classify.Hyperparams
	// MaxSamples caps corpus size when the request does not set its own.
	MaxSamples int
	// AcquireTimeout bounds the whole dataset acquisition of one job.
	AcquireTimeout time.Duration
	// History is optional; nil skips job persistence.
	History *Repository
	// Events is optional; nil skips lifecycle publishing.
	Events Events
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 15 * time.Minute
	}
	if o.MaxSamples < 0 {
		o.MaxSamples = 0
	}
	return o
}

type Manager struct {
	pipeline  *dataset.Pipeline
	registry  *registry.Registry
	store     *status.Store
	modelsDir string
	opts      ManagerOptions

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewManager(pipe *dataset.Pipeline, reg *registry.Registry, store *status.Store, modelsDir string, opts ManagerOptions) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pipeline:  pipe,
		registry:  reg,
		store:     store,
		modelsDir: modelsDir,
		opts:      opts.withDefaults(),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Submit starts a training job in the background and returns its id. The
// running-flag check and set happen in one critical section, so two
// concurrent submissions can never both pass.
func (m *Manager) Submit(req Request) (string, error) {
	req = m.normalize(req)

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return "", ErrJobInProgress
	}
	m.running = true
	m.mu.Unlock()

	jobID := uuid.New()
	m.store.SetTraining(status.TrainingStatus{
		JobID:        jobID.String(),
		Architecture: string(req.Architecture),
		Language:     string(req.Language),
		Phase:        status.TrainingQueued,
		Progress:     0,
		Message:      "job accepted",
	})
	m.recordCreate(jobID, req)
	m.publishEvent("training.started", map[string]interface{}{
		"job_id":       jobID.String(),
		"architecture": string(req.Architecture),
		"language":     string(req.Language),
	})

	m.wg.Add(1)
	go m.run(jobID, req)

	logger.WithComponent("training").WithFields(map[string]interface{}{
		"job_id":       jobID.String(),
		"architecture": req.Architecture,
		"language":     req.Language,
	}).Info("training job submitted")
	return jobID.String(), nil
}

func (m *Manager) normalize(req Request) Request {
	if req.Hyperparams.Epochs <= 0 {
		req.Hyperparams.Epochs = m.opts.Defaults.Epochs
	}
	if req.Hyperparams.BatchSize <= 0 {
		req.Hyperparams.BatchSize = m.opts.Defaults.BatchSize
	}
	if req.Hyperparams.LearningRate <= 0 {
		req.Hyperparams.LearningRate = m.opts.Defaults.LearningRate
	}
	if req.MaxSamples <= 0 {
		req.MaxSamples = m.opts.MaxSamples
	}
	return req
}

func (m *Manager) run(jobID uuid.UUID, req Request) {
	defer m.wg.Done()

	started := time.Now().UTC()
	if m.opts.History != nil {
		if err := m.opts.History.SetTimestamps(m.baseCtx, jobID, &started, nil); err != nil {
			logger.Log.WithError(err).Warn("failed to record job start time")
		}
	}

	m.progress(status.TrainingAcquiring, 10, "acquiring dataset")
	id := dataset.DefaultIdentity(req.Language)

	acquireCtx, cancel := context.WithTimeout(m.baseCtx, m.opts.AcquireTimeout)
	path, err := m.pipeline.Acquire(acquireCtx, id)
	cancel()
	if err != nil {
		m.fail(jobID, fmt.Errorf("dataset acquisition: %w", err))
		return
	}

	m.progress(status.TrainingAcquiring, 20, "loading corpus")
	corpus, err := dataset.LoadCorpus(path, req.MaxSamples)
	if err != nil {
		m.fail(jobID, fmt.Errorf("loading corpus: %w", err))
		return
	}

	model, err := classify.New(req.Architecture, req.Language)
	if err != nil {
		m.fail(jobID, err)
		return
	}

	m.progress(status.TrainingRunning, 30, fmt.Sprintf("training on %d samples", corpus.Size()))
	total := req.Hyperparams.Normalize(req.Architecture).Epochs
	result, err := model.Train(m.baseCtx, corpus, req.Hyperparams, func(p classify.EpochProgress) {
		pct := 30 + p.Epoch*60/total
		m.progress(status.TrainingRunning, pct,
			fmt.Sprintf("epoch %d/%d loss=%.4f val_acc=%.4f", p.Epoch, p.Total, p.TrainLoss, p.ValAccuracy))
	})
	if err != nil {
		m.fail(jobID, fmt.Errorf("training: %w", err))
		return
	}

	m.progress(status.TrainingRunning, 90, "persisting artifact")
	artifactPath, err := classify.SaveArtifact(result.Artifact, m.modelsDir)
	if err != nil {
		m.fail(jobID, fmt.Errorf("saving artifact: %w", err))
		return
	}

	// The new artifact becomes the serving model only after a successful run.
	if err := m.registry.Load(req.Architecture, req.Language, artifactPath); err != nil {
		m.fail(jobID, fmt.Errorf("activating trained model: %w", err))
		return
	}

	m.store.UpdateTraining(func(t *status.TrainingStatus) {
		t.Phase = status.TrainingSucceeded
		t.Progress = 100
		t.Message = fmt.Sprintf("test accuracy %.4f", result.TestMetrics.Accuracy)
		t.ArtifactPath = artifactPath
	})
	m.clearRunning()
	m.recordFinish(jobID, string(status.TrainingSucceeded), result.Artifact.Metrics, artifactPath, "")
	m.publishEvent("training.succeeded", map[string]interface{}{
		"job_id":        jobID.String(),
		"artifact_path": artifactPath,
		"test_accuracy": result.TestMetrics.Accuracy,
	})
	logger.WithComponent("training").WithFields(map[string]interface{}{
		"job_id":   jobID.String(),
		"artifact": artifactPath,
		"duration": time.Since(started).String(),
	}).Info("training job succeeded")
}

func (m *Manager) fail(jobID uuid.UUID, err error) {
	logger.WithComponent("training").WithError(err).WithField("job_id", jobID.String()).Error("training job failed")
	m.store.UpdateTraining(func(t *status.TrainingStatus) {
		t.Phase = status.TrainingFailed
		t.Error = err.Error()
	})
	m.clearRunning()
	m.recordFinish(jobID, string(status.TrainingFailed), nil, "", err.Error())
	m.publishEvent("training.failed", map[string]interface{}{
		"job_id": jobID.String(),
		"error":  err.Error(),
	})
}

// clearRunning frees the single-flight slot. Called only after the terminal
// snapshot is visible, so a fresh Submit can never have its Queued status
// overwritten by the finishing job.
func (m *Manager) clearRunning() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) progress(phase status.TrainingPhase, pct int, message string) {
	m.store.UpdateTraining(func(t *status.TrainingStatus) {
		t.Phase = phase
		t.Progress = pct
		t.Message = message
	})
}

// Status returns the current job snapshot.
func (m *Manager) Status() status.TrainingStatus {
	return m.store.Training()
}

// DownloadDataset drives the acquisition pipeline outside any training job.
// It is asynchronous; progress is visible through the download snapshot.
func (m *Manager) DownloadDataset(lang classify.Language) error {
	id := dataset.DefaultIdentity(lang)
	if m.pipeline.InFlight(id) {
		return dataset.ErrAcquisitionInProgress
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.AcquireTimeout)
		defer cancel()
		if _, err := m.pipeline.Acquire(ctx, id); err != nil {
			if !errors.Is(err, dataset.ErrAcquisitionInProgress) {
				m.publishEvent("dataset.download.failed", map[string]interface{}{
					"dataset": id.String(),
					"error":   err.Error(),
				})
			}
			return
		}
		m.publishEvent("dataset.download.completed", map[string]interface{}{
			"dataset": id.String(),
		})
	}()
	return nil
}

// History lists persisted job records, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]JobRecord, error) {
	if m.opts.History == nil {
		return nil, nil
	}
	return m.opts.History.List(ctx, limit)
}

// Close cancels the base context and waits for background work to drain.
// A job between Queued and AcquiringData observes the cancellation and fails;
// a job mid-epoch finishes its current epoch first.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) recordCreate(jobID uuid.UUID, req Request) {
	if m.opts.History == nil {
		return
	}
	now := time.Now().UTC()
	record := &JobRecord{
		ID:           jobID,
		Architecture: string(req.Architecture),
		Language:     string(req.Language),
		Hyperparams: datatypes.JSONMap{
			"epochs":        req.Hyperparams.Epochs,
			"batch_size":    req.Hyperparams.BatchSize,
			"learning_rate": req.Hyperparams.LearningRate,
			"max_samples":   req.MaxSamples,
		},
		Status:    string(status.TrainingQueued),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.opts.History.Create(m.baseCtx, record); err != nil {
		logger.Log.WithError(err).Warn("failed to persist job record")
	}
}

func (m *Manager) recordFinish(jobID uuid.UUID, phase string, metrics map[string]float64, artifactPath, errMsg string) {
	if m.opts.History == nil {
		return
	}
	if err := m.opts.History.UpdateStatus(m.baseCtx, jobID, phase, metrics, artifactPath, errMsg); err != nil {
		logger.Log.WithError(err).Warn("failed to update job record")
	}
	completed := time.Now().UTC()
	if err := m.opts.History.SetTimestamps(m.baseCtx, jobID, nil, &completed); err != nil {
		logger.Log.WithError(err).Warn("failed to record job completion time")
	}
}

func (m *Manager) publishEvent(eventType string, data map[string]interface{}) {
	if m.opts.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.Events.PublishEvent(ctx, eventType, "training-manager", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish lifecycle event")
	}
}
