package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/dataset"
	"github.com/sentilab-ai/platform/pkg/registry"
	"github.com/sentilab-ai/platform/pkg/status"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func corpusCSV() string {
	var b strings.Builder
	b.WriteString("text,label\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "wonderful stay great service %d,1\n", i)
		fmt.Fprintf(&b, "awful room terrible food %d,0\n", i)
	}
	return b.String()
}

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordedEvents) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

func newTestManager(t *testing.T, chains dataset.SourceChains, events Events) (*Manager, *status.Store, *registry.Registry) {
	t.Helper()

	store := status.NewStore()
	pipe := dataset.NewPipeline(t.TempDir(), chains, dataset.NewHTTPFetcher(dataset.Credentials{}), store, dataset.PipelineOptions{
		MaxAttempts:    1,
		RetryBase:      time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	})
	reg, err := registry.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	mgr := NewManager(pipe, reg, store, t.TempDir(), ManagerOptions{
		Defaults:       classify.Hyperparams{Epochs: 2, BatchSize: 4, LearningRate: 0.5},
		MaxSamples:     100,
		AcquireTimeout: 5 * time.Second,
		Events:         events,
	})
	t.Cleanup(mgr.Close)
	return mgr, store, reg
}

func waitForTerminal(t *testing.T, store *status.Store) status.TrainingStatus {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		snap := store.Training()
		if snap.Phase == status.TrainingSucceeded || snap.Phase == status.TrainingFailed {
			return snap
		}
		select {
		case <-store.WatchTraining():
		case <-deadline:
			t.Fatalf("job did not reach a terminal phase, stuck at %s (%d%%)", snap.Phase, snap.Progress)
		}
	}
}

func singleSourceChain(url string) dataset.SourceChains {
	return dataset.SourceChains{
		classify.Chinese: {{Name: "hub", Rank: 1, URL: url, Auth: dataset.AuthNone}},
	}
}

func TestSubmitRunsJobToSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, corpusCSV())
	}))
	defer server.Close()

	events := &recordedEvents{}
	mgr, store, reg := newTestManager(t, singleSourceChain(server.URL), events)

	jobID, err := mgr.Submit(Request{Architecture: classify.TextCNN, Language: classify.Chinese})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Fatal("Submit returned an empty job id")
	}

	snap := waitForTerminal(t, store)
	if snap.Phase != status.TrainingSucceeded {
		t.Fatalf("expected succeeded, got %s (error: %s)", snap.Phase, snap.Error)
	}
	if snap.JobID != jobID {
		t.Fatalf("status holds job %s, submitted %s", snap.JobID, jobID)
	}
	if snap.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", snap.Progress)
	}
	if snap.ArtifactPath == "" {
		t.Fatal("succeeded job must report its artifact path")
	}
	if _, err := os.Stat(snap.ArtifactPath); err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}

	desc := reg.Current()
	if desc == nil || desc.Architecture != classify.TextCNN || desc.Language != classify.Chinese {
		t.Fatalf("registry not updated after success: %+v", desc)
	}

	seen := events.seen()
	if len(seen) < 2 || seen[0] != "training.started" || seen[len(seen)-1] != "training.succeeded" {
		t.Fatalf("unexpected event sequence %v", seen)
	}
}

func TestSubmitFallsBackAcrossSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, corpusCSV())
	}))
	defer server.Close()

	chains := dataset.SourceChains{
		classify.Chinese: {
			{Name: "hub", Rank: 1, URL: "http://127.0.0.1:1/unreachable.csv", Auth: dataset.AuthNone},
			{Name: "mirror", Rank: 2, URL: server.URL, Auth: dataset.AuthNone},
		},
	}
	mgr, store, _ := newTestManager(t, chains, nil)

	if _, err := mgr.Submit(Request{Architecture: classify.TextCNN, Language: classify.Chinese}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForTerminal(t, store)
	if snap.Phase != status.TrainingSucceeded {
		t.Fatalf("expected succeeded via fallback source, got %s (%s)", snap.Phase, snap.Error)
	}

	download := store.Download()
	if download.ActiveSource != "mirror" {
		t.Fatalf("expected the mirror source to serve the download, got %q", download.ActiveSource)
	}
	if len(download.Attempts) == 0 || download.Attempts[0].Source != "hub" {
		t.Fatalf("expected the hub attempt to be recorded first, got %+v", download.Attempts)
	}
}

func TestSubmitRejectsConcurrentJob(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, corpusCSV())
	}))
	defer server.Close()

	mgr, store, _ := newTestManager(t, singleSourceChain(server.URL), nil)

	if _, err := mgr.Submit(Request{Architecture: classify.TextCNN, Language: classify.Chinese}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := mgr.Submit(Request{Architecture: classify.BiLSTM, Language: classify.Chinese}); !errors.Is(err, ErrJobInProgress) {
		t.Fatalf("second Submit: expected ErrJobInProgress, got %v", err)
	}

	close(release)
	waitForTerminal(t, store)

	// Terminal phase frees the slot for the next submission; the second run
	// hits the cache so it never touches the server again.
	deadline := time.After(5 * time.Second)
	for {
		_, err := mgr.Submit(Request{Architecture: classify.BiLSTM, Language: classify.Chinese})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrJobInProgress) {
			t.Fatalf("Submit after terminal phase: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("submission slot never freed after terminal phase")
		case <-time.After(10 * time.Millisecond):
		}
	}
	waitForTerminal(t, store)
}

func TestFailedAcquisitionNeverTouchesRegistry(t *testing.T) {
	events := &recordedEvents{}
	mgr, store, reg := newTestManager(t, singleSourceChain("http://127.0.0.1:1/unreachable.csv"), events)

	if _, err := mgr.Submit(Request{Architecture: classify.BERT, Language: classify.Chinese}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForTerminal(t, store)
	if snap.Phase != status.TrainingFailed {
		t.Fatalf("expected failed, got %s", snap.Phase)
	}
	if snap.Error == "" {
		t.Fatal("failed job must carry an error message")
	}
	if snap.ArtifactPath != "" {
		t.Fatal("failed job must not report an artifact")
	}
	if reg.Current() != nil {
		t.Fatal("failed job must leave the registry untouched")
	}

	seen := events.seen()
	if len(seen) != 2 || seen[0] != "training.started" || seen[1] != "training.failed" {
		t.Fatalf("unexpected event sequence %v", seen)
	}
}

func TestDownloadDatasetSingleFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, corpusCSV())
	}))
	defer server.Close()

	mgr, store, _ := newTestManager(t, singleSourceChain(server.URL), nil)

	if err := mgr.DownloadDataset(classify.Chinese); err != nil {
		t.Fatalf("DownloadDataset: %v", err)
	}

	// Give the goroutine a moment to enter the pipeline.
	deadline := time.After(5 * time.Second)
	for store.Download().Phase == status.DownloadIdle {
		select {
		case <-store.WatchDownload():
		case <-deadline:
			t.Fatal("download never started")
		}
	}

	if err := mgr.DownloadDataset(classify.Chinese); !errors.Is(err, dataset.ErrAcquisitionInProgress) {
		t.Fatalf("expected ErrAcquisitionInProgress, got %v", err)
	}

	close(release)
	deadline = time.After(10 * time.Second)
	for store.Download().Phase != status.DownloadComplete {
		select {
		case <-store.WatchDownload():
		case <-deadline:
			t.Fatalf("download did not complete, phase %s", store.Download().Phase)
		}
	}
}

func TestParseRequestValidation(t *testing.T) {
	if _, err := ParseRequest("resnet", "chinese", classify.Hyperparams{}, 0); !errors.Is(err, classify.ErrUnknownArchitecture) {
		t.Fatalf("expected ErrUnknownArchitecture, got %v", err)
	}
	if _, err := ParseRequest("bert", "french", classify.Hyperparams{}, 0); !errors.Is(err, classify.ErrUnknownLanguage) {
		t.Fatalf("expected ErrUnknownLanguage, got %v", err)
	}
	if _, err := ParseRequest("bert", "chinese", classify.Hyperparams{}, -1); err == nil {
		t.Fatal("expected error for negative max_samples")
	}

	req, err := ParseRequest("textcnn", "english", classify.Hyperparams{Epochs: 5}, 200)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Architecture != classify.TextCNN || req.Language != classify.English || req.MaxSamples != 200 {
		t.Fatalf("unexpected request %+v", req)
	}
}
