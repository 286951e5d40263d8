package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sentilab-ai/platform/pkg/ml/linear"
)

// Artifact is the persisted form of a trained model. Artifacts are plain
// JSON files named <architecture>_<language>.json so storage stays enumerable
// without any process memory.
type Artifact struct {
	Architecture Architecture       `json:"architecture"`
	Language     Language           `json:"language"`
	FeatureDim   int                `json:"feature_dim"`
	Weights      linear.Weights     `json:"weights"`
	Metrics      map[string]float64 `json:"metrics"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ArtifactFileName is the storage naming convention for trained models.
func ArtifactFileName(arch Architecture, lang Language) string {
	return fmt.Sprintf("%s_%s.json", arch, lang)
}

// ParseArtifactFileName recovers (architecture, language) from a stored
// artifact name, rejecting files that do not follow the convention.
func ParseArtifactFileName(name string) (Architecture, Language, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for _, arch := range Architectures() {
		for _, lang := range Languages() {
			if stem == string(arch)+"_"+string(lang) {
				return arch, lang, nil
			}
		}
	}
	return "", "", fmt.Errorf("unrecognized artifact file name %q", name)
}

// SaveArtifact writes the artifact under dir using the naming convention and
// returns the full path. The write goes through a temp file and rename so a
// crashed save never leaves a half-written artifact at the canonical path.
func SaveArtifact(a *Artifact, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, ArtifactFileName(a.Architecture, a.Language))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// LoadArtifact reads and validates an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(content, &a); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	if _, err := ParseArchitecture(string(a.Architecture)); err != nil {
		return nil, err
	}
	if _, err := ParseLanguage(string(a.Language)); err != nil {
		return nil, err
	}
	if len(a.Weights.Coefficients) == 0 {
		return nil, fmt.Errorf("artifact %s has no weights", path)
	}
	return &a, nil
}
