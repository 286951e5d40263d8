// Package dataset acquires labeled sentiment corpora from ranked remote
// sources with fallback, caches them locally, and loads them into
// train/val/test splits.
package dataset

import (
	"path/filepath"

	"github.com/sentilab-ai/platform/pkg/classify"
)

// Identity names one corpus: a (language, dataset-name) pair. Immutable.
type Identity struct {
	Language classify.Language `json:"language"`
	Name     string            `json:"name"`
}

// DefaultIdentity maps each supported language to its canonical corpus,
// mirroring the datasets the platform ships configured for.
func DefaultIdentity(lang classify.Language) Identity {
	switch lang {
	case classify.English:
		return Identity{Language: lang, Name: "imdb"}
	default:
		return Identity{Language: lang, Name: "chnsenticorp"}
	}
}

func (id Identity) String() string {
	return string(id.Language) + "/" + id.Name
}

// cachePath is the canonical location of a verified local copy.
func (id Identity) cachePath(root string) string {
	return filepath.Join(root, string(id.Language), id.Name+".csv")
}

// sourcePath is where one source's raw download lands before verification,
// keyed by identity plus source name so a failed source's partial output can
// never be mistaken for the verified copy.
func (id Identity) sourcePath(root, source string) string {
	return filepath.Join(root, string(id.Language), source+"-"+id.Name+".csv")
}
