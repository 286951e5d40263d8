// Package status holds the process-wide, in-memory snapshots that polling
// clients read: the latest dataset acquisition state and the latest training
// job state. Each logical stream is guarded by its own mutex; writers are the
// acquisition pipeline and the training job manager, readers are arbitrary.
// Nothing here survives a restart.
package status

import (
	"sync"
	"time"
)

type DownloadPhase string

const (
	DownloadIdle        DownloadPhase = "idle"
	DownloadProbing     DownloadPhase = "probing"
	DownloadDownloading DownloadPhase = "downloading"
	DownloadVerifying   DownloadPhase = "verifying"
	DownloadComplete    DownloadPhase = "complete"
	DownloadFailed      DownloadPhase = "failed"
)

type TrainingPhase string

const (
	TrainingIdle      TrainingPhase = "idle"
	TrainingQueued    TrainingPhase = "queued"
	TrainingAcquiring TrainingPhase = "acquiring_data"
	TrainingRunning   TrainingPhase = "training"
	TrainingSucceeded TrainingPhase = "succeeded"
	TrainingFailed    TrainingPhase = "failed"
)

// SourceAttempt records one source tried during an acquisition, in order.
type SourceAttempt struct {
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

// DownloadStatus is the poller-visible snapshot of one acquisition.
type DownloadStatus struct {
	Language     string          `json:"language"`
	Dataset      string          `json:"dataset"`
	Phase        DownloadPhase   `json:"phase"`
	ActiveSource string          `json:"active_source,omitempty"`
	Attempts     []SourceAttempt `json:"attempts,omitempty"`
	Progress     float64         `json:"progress"`
	Error        string          `json:"error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TrainingStatus is the poller-visible snapshot of the training job.
type TrainingStatus struct {
	JobID        string        `json:"job_id,omitempty"`
	Architecture string        `json:"architecture,omitempty"`
	Language     string        `json:"language,omitempty"`
	Phase        TrainingPhase `json:"phase"`
	Progress     int           `json:"progress"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Store is the process-wide snapshot holder. The zero value is not usable;
// call NewStore.
type Store struct {
	dmu      sync.Mutex
	download DownloadStatus
	dnotify  chan struct{}

	tmu      sync.Mutex
	training TrainingStatus
	tnotify  chan struct{}
}

func NewStore() *Store {
	return &Store{
		download: DownloadStatus{Phase: DownloadIdle},
		training: TrainingStatus{Phase: TrainingIdle},
		dnotify:  make(chan struct{}),
		tnotify:  make(chan struct{}),
	}
}

// SetDownload replaces the download snapshot and wakes watchers.
func (s *Store) SetDownload(d DownloadStatus) {
	d.UpdatedAt = time.Now().UTC()
	s.dmu.Lock()
	s.download = d
	close(s.dnotify)
	s.dnotify = make(chan struct{})
	s.dmu.Unlock()
}

// Download returns the current download snapshot. Never blocks on writers
// longer than the copy under the lock.
func (s *Store) Download() DownloadStatus {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return cloneDownload(s.download)
}

// WatchDownload returns a channel closed on the next download update, for
// consumers that would rather await a change than busy-poll.
func (s *Store) WatchDownload() <-chan struct{} {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return s.dnotify
}

// SetTraining replaces the training snapshot and wakes watchers.
func (s *Store) SetTraining(t TrainingStatus) {
	t.UpdatedAt = time.Now().UTC()
	s.tmu.Lock()
	s.training = t
	close(s.tnotify)
	s.tnotify = make(chan struct{})
	s.tmu.Unlock()
}

// UpdateTraining applies fn to the current training snapshot under the lock.
// Used for incremental progress updates that must not clobber concurrent
// field changes.
func (s *Store) UpdateTraining(fn func(*TrainingStatus)) {
	s.tmu.Lock()
	fn(&s.training)
	s.training.UpdatedAt = time.Now().UTC()
	close(s.tnotify)
	s.tnotify = make(chan struct{})
	s.tmu.Unlock()
}

// Training returns the current training snapshot.
func (s *Store) Training() TrainingStatus {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.training
}

// WatchTraining returns a channel closed on the next training update.
func (s *Store) WatchTraining() <-chan struct{} {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.tnotify
}

func cloneDownload(d DownloadStatus) DownloadStatus {
	if d.Attempts != nil {
		attempts := make([]SourceAttempt, len(d.Attempts))
		copy(attempts, d.Attempts)
		d.Attempts = attempts
	}
	return d
}
