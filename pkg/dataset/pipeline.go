package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sentilab-ai/platform/pkg/common/httpclient"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/status"
)

// ErrAcquisitionInProgress rejects a second acquisition for an identity that
// already has one in flight.
var ErrAcquisitionInProgress = errors.New("acquisition already in progress")

// SourceFailure is the final error of one exhausted source.
type SourceFailure struct {
	Source string
	Err    error
}

// AllSourcesFailedError carries the last error from every attempted source,
// in the order they were tried.
type AllSourcesFailedError struct {
	Identity Identity
	Failures []SourceFailure
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Source, f.Err)
	}
	return fmt.Sprintf("all sources failed for %s: %s", e.Identity, strings.Join(parts, "; "))
}

// StatusPublisher receives acquisition status transitions. *status.Store
// satisfies it.
type StatusPublisher interface {
	SetDownload(status.DownloadStatus)
}

// PipelineOptions tunes retry and timeout behavior.
type PipelineOptions struct {
	MaxAttempts    int           // per-source attempt budget, network errors only
	RetryBase      time.Duration // initial backoff delay
	AttemptTimeout time.Duration // per-attempt deadline, distinct from the caller's overall budget
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 2 * time.Minute
	}
	return o
}

// Pipeline orders the configured sources per dataset identity, applies
// fallback on failure, deduplicates against the local cache, and publishes a
// single progress stream. Sources are tried strictly in rank order, never in
// parallel.
type Pipeline struct {
	cacheDir string
	chains   SourceChains
	fetcher  Fetcher
	opts     PipelineOptions
	pub      StatusPublisher

	mu       sync.Mutex
	inflight map[Identity]bool
}

func NewPipeline(cacheDir string, chains SourceChains, fetcher Fetcher, pub StatusPublisher, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		cacheDir: cacheDir,
		chains:   chains,
		fetcher:  fetcher,
		opts:     opts.withDefaults(),
		pub:      pub,
		inflight: make(map[Identity]bool),
	}
}

// InFlight reports whether an acquisition for id is currently running.
func (p *Pipeline) InFlight(id Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[id]
}

// CacheInfo describes the local copy of one dataset, if any.
type CacheInfo struct {
	Identity Identity `json:"-"`
	Cached   bool     `json:"cached"`
	Path     string   `json:"path,omitempty"`
	Size     int64    `json:"size_bytes,omitempty"`
	Sources  []string `json:"sources"`
}

// Inspect reports cache state and the configured source chain for id without
// touching the network.
func (p *Pipeline) Inspect(id Identity) CacheInfo {
	info := CacheInfo{Identity: id}
	for _, desc := range p.chains[id.Language] {
		info.Sources = append(info.Sources, desc.Name)
	}
	path := id.cachePath(p.cacheDir)
	if stat, err := os.Stat(path); err == nil && stat.Size() > 0 {
		info.Cached = true
		info.Path = path
		info.Size = stat.Size()
	}
	return info
}

// Acquire returns the path of a verified local copy for id, downloading it
// if necessary. A valid cached copy short-circuits without any fetcher call.
func (p *Pipeline) Acquire(ctx context.Context, id Identity) (string, error) {
	p.mu.Lock()
	if p.inflight[id] {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAcquisitionInProgress, id)
	}
	p.inflight[id] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inflight, id)
		p.mu.Unlock()
	}()

	return p.acquire(ctx, id)
}

func (p *Pipeline) acquire(ctx context.Context, id Identity) (string, error) {
	log := logger.WithComponent("acquisition").WithField("dataset", id.String())

	st := status.DownloadStatus{
		Language: string(id.Language),
		Dataset:  id.Name,
		Phase:    status.DownloadProbing,
		Progress: 0.05,
	}
	p.publish(st)

	cachePath := id.cachePath(p.cacheDir)
	if err := ProbeCorpusFile(cachePath); err == nil {
		log.Info("dataset cache hit")
		st.Phase = status.DownloadComplete
		st.ActiveSource = "cache"
		st.Progress = 1
		p.publish(st)
		return cachePath, nil
	} else if errors.Is(err, ErrCacheCorrupt) {
		log.WithError(err).Warn("discarding corrupt cached dataset")
		if rmErr := os.Remove(cachePath); rmErr != nil {
			return "", fmt.Errorf("%w: cannot discard %s: %v", ErrCacheCorrupt, cachePath, rmErr)
		}
	}

	chain, ok := p.chains[id.Language]
	if !ok || len(chain) == 0 {
		return "", fmt.Errorf("no sources configured for language %s", id.Language)
	}

	// a shutdown requested before the first download starts wins
	if err := ctx.Err(); err != nil {
		st.Phase = status.DownloadFailed
		st.Error = err.Error()
		p.publish(st)
		return "", err
	}

	var failures []SourceFailure
	for _, desc := range chain {
		st.ActiveSource = desc.Name
		st.Phase = status.DownloadDownloading
		st.Progress = 0.1
		p.publish(st)

		rows, err := p.fetchWithRetry(ctx, id, desc, &st)
		if err != nil {
			log.WithError(err).WithField("source", desc.Name).Warn("source failed, falling back")
			failures = append(failures, SourceFailure{Source: desc.Name, Err: err})
			st.Attempts = append(st.Attempts, status.SourceAttempt{Source: desc.Name, Error: err.Error()})
			p.publish(st)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		st.Attempts = append(st.Attempts, status.SourceAttempt{Source: desc.Name})
		st.Phase = status.DownloadVerifying
		st.Progress = 0.9
		p.publish(st)

		sourcePath := id.sourcePath(p.cacheDir, desc.Name)
		if err := ProbeCorpusFile(sourcePath); err != nil {
			log.WithError(err).WithField("source", desc.Name).Warn("downloaded file failed verification")
			os.Remove(sourcePath)
			failure := &FetchError{Kind: FetchMalformed, Source: desc.Name, Err: err}
			failures = append(failures, SourceFailure{Source: desc.Name, Err: failure})
			st.Attempts[len(st.Attempts)-1].Error = failure.Error()
			p.publish(st)
			continue
		}

		if err := os.Rename(sourcePath, cachePath); err != nil {
			return "", fmt.Errorf("promoting verified download: %w", err)
		}

		log.WithFields(map[string]interface{}{"source": desc.Name, "rows": rows}).Info("dataset acquired")
		st.Phase = status.DownloadComplete
		st.Progress = 1
		p.publish(st)
		return cachePath, nil
	}

	err := &AllSourcesFailedError{Identity: id, Failures: failures}
	st.Phase = status.DownloadFailed
	st.Error = err.Error()
	p.publish(st)
	return "", err
}

// fetchWithRetry runs one source's attempt budget. Each attempt gets its own
// timeout so a stalled source cannot starve fallback to the next one.
func (p *Pipeline) fetchWithRetry(ctx context.Context, id Identity, desc SourceDescriptor, st *status.DownloadStatus) (int64, error) {
	dest := id.sourcePath(p.cacheDir, desc.Name)
	var rows int64

	sink := func(bytesRead, totalBytes, sinkRows int64) {
		progress := 0.5
		if totalBytes > 0 {
			progress = 0.1 + 0.8*float64(bytesRead)/float64(totalBytes)
		}
		snapshot := *st
		snapshot.Progress = progress
		p.publish(snapshot)
	}

	err := httpclient.Retry(ctx, p.opts.MaxAttempts, p.opts.RetryBase, IsRetryableFetch, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()
		n, err := p.fetcher.Fetch(attemptCtx, id, desc, dest, sink)
		if err != nil {
			return err
		}
		rows = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (p *Pipeline) publish(st status.DownloadStatus) {
	if p.pub == nil {
		return
	}
	if st.Attempts != nil {
		attempts := make([]status.SourceAttempt, len(st.Attempts))
		copy(attempts, st.Attempts)
		st.Attempts = attempts
	}
	p.pub.SetDownload(st)
}
