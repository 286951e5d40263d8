package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sentilab-ai/platform/pkg/common/httpclient"
)

type FetchErrorKind string

const (
	FetchNetwork   FetchErrorKind = "network"
	FetchAuth      FetchErrorKind = "auth"
	FetchMalformed FetchErrorKind = "malformed"
	FetchNotFound  FetchErrorKind = "not_found"
)

// FetchError is the typed failure of one download attempt. Only network
// failures are worth retrying against the same source.
type FetchError struct {
	Kind   FetchErrorKind
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Retryable() bool { return e.Kind == FetchNetwork }

// IsRetryableFetch reports whether err is a FetchError worth another attempt.
func IsRetryableFetch(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// ProgressSink receives incremental download progress. totalBytes is <= 0
// when the source does not announce a length.
type ProgressSink func(bytesRead, totalBytes, rows int64)

// Fetcher performs one download attempt against one named source, writing
// raw data to dest. Implementations never panic across this boundary; every
// failure is a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, id Identity, desc SourceDescriptor, dest string, sink ProgressSink) (rows int64, err error)
}

// Credentials is the key/secret pair the gated source requires.
type Credentials struct {
	User string
	Key  string
}

func (c Credentials) empty() bool { return c.User == "" || c.Key == "" }

// HTTPFetcher downloads corpora over HTTP(S). Data streams into dest+".partial"
// and is renamed into place only after the body is fully read, so dest never
// holds a truncated download.
type HTTPFetcher struct {
	client *http.Client
	creds  Credentials
}

func NewHTTPFetcher(creds Credentials) *HTTPFetcher {
	return &HTTPFetcher{client: httpclient.New(), creds: creds}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, id Identity, desc SourceDescriptor, dest string, sink ProgressSink) (int64, error) {
	if desc.Auth == AuthKeyPair && f.creds.empty() {
		return 0, &FetchError{Kind: FetchAuth, Source: desc.Name, Err: fmt.Errorf("source requires credentials but none are configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return 0, &FetchError{Kind: FetchMalformed, Source: desc.Name, Err: err}
	}
	if desc.Auth == AuthKeyPair {
		req.SetBasicAuth(f.creds.User, f.creds.Key)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &FetchError{Kind: FetchNetwork, Source: desc.Name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, &FetchError{Kind: FetchAuth, Source: desc.Name, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		return 0, &FetchError{Kind: FetchNotFound, Source: desc.Name, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode >= 500:
		return 0, &FetchError{Kind: FetchNetwork, Source: desc.Name, Err: fmt.Errorf("status %s", resp.Status)}
	default:
		return 0, &FetchError{Kind: FetchMalformed, Source: desc.Name, Err: fmt.Errorf("status %s", resp.Status)}
	}

	rows, err := f.download(resp, desc.Name, dest, sink)
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (f *HTTPFetcher) download(resp *http.Response, source, dest string, sink ProgressSink) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: err}
	}

	partial := dest + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: err}
	}

	var bytesRead, rows int64
	total := resp.ContentLength
	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(partial)
				return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: err}
			}
			bytesRead += int64(n)
			rows += countNewlines(buf[:n])
			if sink != nil {
				sink(bytesRead, total, rows)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(partial)
			return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: readErr}
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: err}
	}
	if bytesRead == 0 {
		os.Remove(partial)
		return 0, &FetchError{Kind: FetchMalformed, Source: source, Err: fmt.Errorf("empty response body")}
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return 0, &FetchError{Kind: FetchNetwork, Source: source, Err: err}
	}
	return rows, nil
}

func countNewlines(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
