package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/status"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

const validCSV = "text,label\ngood product,1\nterrible product,0\nlove it,1\nhate it,0\n"

// scriptedFetcher fails or succeeds per source name and counts calls.
type scriptedFetcher struct {
	errs  map[string]error // nil entry means success
	calls map[string]int
}

func newScriptedFetcher(errs map[string]error) *scriptedFetcher {
	return &scriptedFetcher{errs: errs, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, id Identity, desc SourceDescriptor, dest string, sink ProgressSink) (int64, error) {
	f.calls[desc.Name]++
	if err := f.errs[desc.Name]; err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, []byte(validCSV), 0o644); err != nil {
		return 0, err
	}
	if sink != nil {
		sink(int64(len(validCSV)), int64(len(validCSV)), 4)
	}
	return 4, nil
}

func (f *scriptedFetcher) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func testChains() SourceChains {
	return SourceChains{
		classify.Chinese: {
			{Name: "hub", Rank: 1, URL: "http://hub.example/chnsenticorp.csv", Auth: AuthNone},
			{Name: "kaggle", Rank: 2, URL: "http://mirror.example/chnsenticorp", Auth: AuthNone},
		},
	}
}

func fastOpts() PipelineOptions {
	return PipelineOptions{MaxAttempts: 3, RetryBase: time.Millisecond, AttemptTimeout: time.Second}
}

func TestAcquireCacheHitSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	cached := id.cachePath(dir)
	if err := os.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cached, []byte(validCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := newScriptedFetcher(nil)
	store := status.NewStore()
	p := NewPipeline(dir, testChains(), fetcher, store, fastOpts())

	path, err := p.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if path != cached {
		t.Fatalf("expected cached path %s, got %s", cached, path)
	}
	if fetcher.total() != 0 {
		t.Fatalf("cache hit must not touch the network, saw %d fetch calls", fetcher.total())
	}

	snap := store.Download()
	if snap.Phase != status.DownloadComplete || snap.ActiveSource != "cache" {
		t.Fatalf("unexpected snapshot after cache hit: %+v", snap)
	}
}

func TestAcquireFallsBackToSecondSource(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	netErr := &FetchError{Kind: FetchNetwork, Source: "hub", Err: fmt.Errorf("connection refused")}
	fetcher := newScriptedFetcher(map[string]error{"hub": netErr})
	store := status.NewStore()
	p := NewPipeline(dir, testChains(), fetcher, store, fastOpts())

	path, err := p.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if path != id.cachePath(dir) {
		t.Fatalf("unexpected path %s", path)
	}
	if fetcher.calls["hub"] != 3 {
		t.Fatalf("retryable hub failure should consume the full attempt budget, got %d calls", fetcher.calls["hub"])
	}
	if fetcher.calls["kaggle"] != 1 {
		t.Fatalf("fallback source should be tried once, got %d calls", fetcher.calls["kaggle"])
	}

	snap := store.Download()
	if snap.Phase != status.DownloadComplete {
		t.Fatalf("expected complete, got %+v", snap)
	}
	if len(snap.Attempts) != 2 || snap.Attempts[0].Source != "hub" || snap.Attempts[1].Source != "kaggle" {
		t.Fatalf("attempts must record both sources in order, got %+v", snap.Attempts)
	}
	if snap.Attempts[0].Error == "" || snap.Attempts[1].Error != "" {
		t.Fatalf("expected hub failure and kaggle success recorded, got %+v", snap.Attempts)
	}
	if snap.ActiveSource != "kaggle" {
		t.Fatalf("active source should be the succeeding one, got %q", snap.ActiveSource)
	}
}

func TestAcquireDoesNotRetryAuthFailures(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	authErr := &FetchError{Kind: FetchAuth, Source: "hub", Err: fmt.Errorf("missing credentials")}
	fetcher := newScriptedFetcher(map[string]error{"hub": authErr})
	p := NewPipeline(dir, testChains(), fetcher, status.NewStore(), fastOpts())

	if _, err := p.Acquire(context.Background(), id); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if fetcher.calls["hub"] != 1 {
		t.Fatalf("auth failures are not retryable, expected 1 call, got %d", fetcher.calls["hub"])
	}
}

func TestAcquireAllSourcesFailed(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	fetcher := newScriptedFetcher(map[string]error{
		"hub":    &FetchError{Kind: FetchNotFound, Source: "hub", Err: fmt.Errorf("status 404")},
		"kaggle": &FetchError{Kind: FetchAuth, Source: "kaggle", Err: fmt.Errorf("status 403")},
	})
	store := status.NewStore()
	p := NewPipeline(dir, testChains(), fetcher, store, fastOpts())

	_, err := p.Acquire(context.Background(), id)
	var all *AllSourcesFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllSourcesFailedError, got %v", err)
	}
	if len(all.Failures) != 2 || all.Failures[0].Source != "hub" || all.Failures[1].Source != "kaggle" {
		t.Fatalf("error must carry the last failure of each source in order, got %+v", all.Failures)
	}
	if store.Download().Phase != status.DownloadFailed {
		t.Fatalf("expected failed phase, got %s", store.Download().Phase)
	}
}

func TestAcquireDiscardsCorruptCache(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	cached := id.cachePath(dir)
	if err := os.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cached, []byte("not,a\nsentiment corpus"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := newScriptedFetcher(nil)
	p := NewPipeline(dir, testChains(), fetcher, status.NewStore(), fastOpts())

	path, err := p.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if fetcher.calls["hub"] != 1 {
		t.Fatalf("corrupt cache should trigger a fresh download, got %d hub calls", fetcher.calls["hub"])
	}
	if err := ProbeCorpusFile(path); err != nil {
		t.Fatalf("promoted file should be valid: %v", err)
	}
}

func TestAcquireRejectsConcurrentSameIdentity(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &blockingFetcher{started: started, release: release}
	p := NewPipeline(dir, testChains(), fetcher, status.NewStore(), fastOpts())

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), id)
		done <- err
	}()

	<-started
	if _, err := p.Acquire(context.Background(), id); !errors.Is(err, ErrAcquisitionInProgress) {
		t.Fatalf("expected ErrAcquisitionInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first acquire: %v", err)
	}
}

func TestAcquireHonorsShutdownBeforeDownload(t *testing.T) {
	dir := t.TempDir()
	id := DefaultIdentity(classify.Chinese)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newScriptedFetcher(nil)
	p := NewPipeline(dir, testChains(), fetcher, status.NewStore(), fastOpts())

	if _, err := p.Acquire(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fetcher.total() != 0 {
		t.Fatalf("cancelled acquisition must not start downloads, saw %d calls", fetcher.total())
	}
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    bool
}

func (f *blockingFetcher) Fetch(ctx context.Context, id Identity, desc SourceDescriptor, dest string, sink ProgressSink) (int64, error) {
	if !f.once {
		f.once = true
		close(f.started)
		<-f.release
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, []byte(validCSV), 0o644); err != nil {
		return 0, err
	}
	return 4, nil
}
