package dataset

import (
	"fmt"
	"os"
	"sort"

	"github.com/sentilab-ai/platform/pkg/classify"
	"gopkg.in/yaml.v3"
)

type AuthKind string

const (
	AuthNone    AuthKind = "none"
	AuthKeyPair AuthKind = "keypair"
)

// SourceDescriptor is one ranked remote provider of a dataset. Descriptors
// are defined at configuration time and read-only afterwards; lower rank is
// tried first.
type SourceDescriptor struct {
	Name string   `yaml:"name"`
	Rank int      `yaml:"rank"`
	URL  string   `yaml:"url"`
	Auth AuthKind `yaml:"auth"`
}

// SourceChains maps a language to its ordered fallback chain.
type SourceChains map[classify.Language][]SourceDescriptor

// DefaultSources is the built-in chain per language: the public hub first,
// the credentialed mirror second, a raw mirror last where one exists.
func DefaultSources() SourceChains {
	return SourceChains{
		classify.Chinese: {
			{Name: "hub", Rank: 1, URL: "https://huggingface.co/datasets/seamew/ChnSentiCorp/resolve/main/ChnSentiCorp.csv", Auth: AuthNone},
			{Name: "kaggle", Rank: 2, URL: "https://www.kaggle.com/api/v1/datasets/download/kaggleyxz/chnsenticorp", Auth: AuthKeyPair},
			{Name: "github-mirror", Rank: 3, URL: "https://raw.githubusercontent.com/SophonPlus/ChineseNlpCorpus/master/datasets/ChnSentiCorp_htl_all/ChnSentiCorp_htl_all.csv", Auth: AuthNone},
		},
		classify.English: {
			{Name: "hub", Rank: 1, URL: "https://huggingface.co/datasets/imdb/resolve/main/plain_text/imdb.csv", Auth: AuthNone},
			{Name: "kaggle", Rank: 2, URL: "https://www.kaggle.com/api/v1/datasets/download/lakshmi25npathi/imdb-dataset-of-50k-movie-reviews", Auth: AuthKeyPair},
		},
	}
}

// LoadSources reads source chains from a YAML file keyed by language. Chains
// are validated and returned sorted by rank.
func LoadSources(path string) (SourceChains, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}

	var raw map[string][]SourceDescriptor
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing sources file %s: %w", path, err)
	}

	chains := make(SourceChains, len(raw))
	for langName, descriptors := range raw {
		lang, err := classify.ParseLanguage(langName)
		if err != nil {
			return nil, fmt.Errorf("sources file %s: %w", path, err)
		}
		if err := validateChain(descriptors); err != nil {
			return nil, fmt.Errorf("sources for %s: %w", lang, err)
		}
		sorted := make([]SourceDescriptor, len(descriptors))
		copy(sorted, descriptors)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
		chains[lang] = sorted
	}
	return chains, nil
}

func validateChain(descriptors []SourceDescriptor) error {
	if len(descriptors) == 0 {
		return fmt.Errorf("empty source chain")
	}
	seen := make(map[int]string, len(descriptors))
	for _, d := range descriptors {
		if d.Name == "" || d.URL == "" {
			return fmt.Errorf("source descriptor needs both name and url: %+v", d)
		}
		switch d.Auth {
		case AuthNone, AuthKeyPair, "":
		default:
			return fmt.Errorf("source %s: unknown auth kind %q", d.Name, d.Auth)
		}
		if prev, dup := seen[d.Rank]; dup {
			return fmt.Errorf("sources %s and %s share rank %d", prev, d.Name, d.Rank)
		}
		seen[d.Rank] = d.Name
	}
	return nil
}
