// Package registry owns the model currently serving inference. The active
// handle is swapped with a single atomic pointer store, so concurrent
// inference calls either see the old instance or the new one, never a
// half-replaced handle; in-flight calls against the old instance simply
// finish on it.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
)

var ErrNoModelLoaded = errors.New("no model loaded")

type LoadErrorKind string

const (
	LoadFileMissing          LoadErrorKind = "file_missing"
	LoadDeserializeFailed    LoadErrorKind = "deserialize_failed"
	LoadArchitectureMismatch LoadErrorKind = "architecture_mismatch"
)

type LoadError struct {
	Kind LoadErrorKind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading model from %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ActiveModelDescriptor is the non-blocking view of the serving model.
type ActiveModelDescriptor struct {
	Architecture classify.Architecture `json:"architecture"`
	Language     classify.Language     `json:"language"`
	Path         string                `json:"path"`
	LoadedAt     time.Time             `json:"loaded_at"`
}

// ArtifactInfo describes one persisted model file.
type ArtifactInfo struct {
	ID           string                `json:"id"`
	Architecture classify.Architecture `json:"architecture"`
	Language     classify.Language     `json:"language"`
	Path         string                `json:"path"`
	Size         int64                 `json:"size"`
	CreatedAt    time.Time             `json:"created_time"`
}

type activeModel struct {
	desc  ActiveModelDescriptor
	model classify.Model
}

// Registry is safe for concurrent use by the serving context and the
// training worker.
type Registry struct {
	modelsDir string
	active    atomic.Pointer[activeModel]
}

func NewRegistry(modelsDir string) (*Registry, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, err
	}
	return &Registry{modelsDir: modelsDir}, nil
}

// Load deserializes the artifact at path (or the conventional location when
// path is empty) and atomically replaces the active handle.
func (r *Registry) Load(arch classify.Architecture, lang classify.Language, path string) error {
	if path == "" {
		path = filepath.Join(r.modelsDir, classify.ArtifactFileName(arch, lang))
	}

	if _, err := os.Stat(path); err != nil {
		return &LoadError{Kind: LoadFileMissing, Path: path, Err: err}
	}

	artifact, err := classify.LoadArtifact(path)
	if err != nil {
		if errors.Is(err, classify.ErrUnknownArchitecture) || errors.Is(err, classify.ErrUnknownLanguage) {
			return &LoadError{Kind: LoadArchitectureMismatch, Path: path, Err: err}
		}
		return &LoadError{Kind: LoadDeserializeFailed, Path: path, Err: err}
	}
	if artifact.Architecture != arch || artifact.Language != lang {
		return &LoadError{
			Kind: LoadArchitectureMismatch,
			Path: path,
			Err:  fmt.Errorf("artifact holds %s/%s, requested %s/%s", artifact.Architecture, artifact.Language, arch, lang),
		}
	}

	model, err := classify.FromArtifact(artifact)
	if err != nil {
		return &LoadError{Kind: LoadDeserializeFailed, Path: path, Err: err}
	}

	r.active.Store(&activeModel{
		desc: ActiveModelDescriptor{
			Architecture: arch,
			Language:     lang,
			Path:         path,
			LoadedAt:     time.Now().UTC(),
		},
		model: model,
	})

	logger.WithComponent("registry").WithFields(map[string]interface{}{
		"architecture": arch,
		"language":     lang,
		"path":         path,
	}).Info("active model swapped")
	return nil
}

// Current returns the active handle's metadata, or nil when nothing is
// loaded. Never blocks.
func (r *Registry) Current() *ActiveModelDescriptor {
	active := r.active.Load()
	if active == nil {
		return nil
	}
	desc := active.desc
	return &desc
}

// Infer classifies one text with the active model.
func (r *Registry) Infer(text string) (classify.Prediction, error) {
	active := r.active.Load()
	if active == nil {
		return classify.Prediction{}, ErrNoModelLoaded
	}
	return active.model.Predict(text)
}

// InferBatch classifies texts with one consistent model instance: the batch
// never straddles a hot swap.
func (r *Registry) InferBatch(texts []string) ([]classify.Prediction, error) {
	active := r.active.Load()
	if active == nil {
		return nil, ErrNoModelLoaded
	}
	return active.model.PredictBatch(texts)
}

// ListArtifacts enumerates persisted models from storage, independent of
// what is loaded in memory.
func (r *Registry) ListArtifacts() ([]ArtifactInfo, error) {
	matches, err := filepath.Glob(filepath.Join(r.modelsDir, "*.json"))
	if err != nil {
		return nil, err
	}

	infos := make([]ArtifactInfo, 0, len(matches))
	for _, path := range matches {
		arch, lang, err := classify.ParseArtifactFileName(path)
		if err != nil {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, ArtifactInfo{
			ID:           artifactID(arch, lang),
			Architecture: arch,
			Language:     lang,
			Path:         path,
			Size:         stat.Size(),
			CreatedAt:    stat.ModTime().UTC(),
		})
	}
	return infos, nil
}

// DeleteArtifact removes a persisted model file. Deleting the artifact
// backing the active handle is allowed and intentionally does NOT evict the
// in-memory instance: the handle stays servable until the next Load.
func (r *Registry) DeleteArtifact(id string) error {
	arch, lang, err := classify.ParseArtifactFileName(id + ".json")
	if err != nil {
		return fmt.Errorf("unknown artifact id %q", id)
	}
	path := filepath.Join(r.modelsDir, classify.ArtifactFileName(arch, lang))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &LoadError{Kind: LoadFileMissing, Path: path, Err: err}
		}
		return err
	}
	logger.WithComponent("registry").WithField("artifact", id).Info("artifact deleted")
	return nil
}

// Autoload loads the preferred artifact if present, otherwise the first one
// found in storage. Called once at startup; a server with no artifacts at
// all starts with an empty handle.
func (r *Registry) Autoload(arch classify.Architecture, lang classify.Language) error {
	preferred := filepath.Join(r.modelsDir, classify.ArtifactFileName(arch, lang))
	if _, err := os.Stat(preferred); err == nil {
		return r.Load(arch, lang, preferred)
	}

	infos, err := r.ListArtifacts()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		logger.WithComponent("registry").Info("no trained artifacts found, starting without a model")
		return nil
	}
	first := infos[0]
	return r.Load(first.Architecture, first.Language, first.Path)
}

func artifactID(arch classify.Architecture, lang classify.Language) string {
	return string(arch) + "_" + string(lang)
}
