// Package serving answers inference requests against the active model. It is
// a thin facade over the registry plus an optional redis memoization of
// single-text predictions.
package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/registry"
)

type Service struct {
	registry *registry.Registry
	cache    *redis.Client // nil disables memoization
	cacheTTL time.Duration
}

func NewService(reg *registry.Registry, cache *redis.Client, cacheTTL time.Duration) *Service {
	return &Service{registry: reg, cache: cache, cacheTTL: cacheTTL}
}

// Analyze classifies one text with the active model, consulting the cache
// first. Cache failures are logged and ignored; redis being down never fails
// a prediction.
func (s *Service) Analyze(ctx context.Context, text string) (classify.Prediction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return classify.Prediction{}, classify.ErrBadInput
	}

	desc := s.registry.Current()
	if desc == nil {
		return classify.Prediction{}, registry.ErrNoModelLoaded
	}

	key := predictionKey(desc.Architecture, desc.Language, text)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var p classify.Prediction
			if err := json.Unmarshal([]byte(cached), &p); err == nil {
				return p, nil
			}
		}
	}

	p, err := s.registry.Infer(text)
	if err != nil {
		return classify.Prediction{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(p); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
				logger.Log.WithError(err).Debug("prediction cache write failed")
			}
		}
	}
	return p, nil
}

// AnalyzeBatch classifies texts against one consistent model instance. Batch
// results are not memoized.
func (s *Service) AnalyzeBatch(ctx context.Context, texts []string) ([]classify.Prediction, error) {
	for i, text := range texts {
		texts[i] = strings.TrimSpace(text)
		if texts[i] == "" {
			return nil, fmt.Errorf("%w: item %d", classify.ErrBadInput, i)
		}
	}
	return s.registry.InferBatch(texts)
}

// Current exposes the active model descriptor for the HTTP layer.
func (s *Service) Current() *registry.ActiveModelDescriptor {
	return s.registry.Current()
}

func predictionKey(arch classify.Architecture, lang classify.Language, text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("prediction:%s:%s:%x", arch, lang, h.Sum64())
}
