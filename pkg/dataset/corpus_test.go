package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sentilab-ai/platform/pkg/classify"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCorpusFileNormalizesColumnsAndLabels(t *testing.T) {
	path := writeTemp(t, "review,sentiment\ngreat movie,positive\nawful movie,negative\n")

	examples, err := ReadCorpusFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(examples))
	}
	if examples[0].Label != 1 || examples[1].Label != 0 {
		t.Fatalf("labels not normalized: %+v", examples)
	}
}

func TestReadCorpusFileSkipsBadRows(t *testing.T) {
	path := writeTemp(t, "text,label\ngood,1\n,1\nbad,weird\nfine,0\n")

	examples, err := ReadCorpusFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("expected rows with empty text or bad labels skipped, got %d", len(examples))
	}
}

func TestReadCorpusFileRejectsUnknownShape(t *testing.T) {
	path := writeTemp(t, "id,score\n1,2\n")
	if _, err := ReadCorpusFile(path); !errors.Is(err, ErrCacheCorrupt) {
		t.Fatalf("expected ErrCacheCorrupt, got %v", err)
	}
}

func TestLoadCorpusSplitsStably(t *testing.T) {
	content := "text,label\n"
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			content += "good thing number,1\n"
		} else {
			content += "bad thing number,0\n"
		}
	}
	path := writeTemp(t, content)

	corpus, err := LoadCorpus(path, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if corpus.Size() != 50 {
		t.Fatalf("expected all 50 examples, got %d", corpus.Size())
	}
	if len(corpus.Train) != 40 || len(corpus.Val) != 5 || len(corpus.Test) != 5 {
		t.Fatalf("expected 80/10/10 split, got %d/%d/%d",
			len(corpus.Train), len(corpus.Val), len(corpus.Test))
	}

	again, err := LoadCorpus(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Train[0] != corpus.Train[0] || again.Test[0] != corpus.Test[0] {
		t.Fatal("split must be stable across loads")
	}
}

func TestLoadCorpusHonorsMaxSamples(t *testing.T) {
	content := "text,label\n"
	for i := 0; i < 30; i++ {
		content += "some text,1\n"
	}
	path := writeTemp(t, content)

	corpus, err := LoadCorpus(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if corpus.Size() != 10 {
		t.Fatalf("expected truncation to 10 samples, got %d", corpus.Size())
	}
}

func TestLoadSourcesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `chinese:
  - name: mirror
    rank: 2
    url: https://mirror.example/data.csv
    auth: none
  - name: hub
    rank: 1
    url: https://hub.example/data.csv
    auth: keypair
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	chains, err := LoadSources(path)
	if err != nil {
		t.Fatalf("load sources: %v", err)
	}
	chain := chains[classify.Chinese]
	if len(chain) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(chain))
	}
	if chain[0].Name != "hub" || chain[1].Name != "mirror" {
		t.Fatalf("sources must be sorted by rank, got %s then %s", chain[0].Name, chain[1].Name)
	}
	if chain[0].Auth != AuthKeyPair {
		t.Fatalf("auth kind lost in parse: %+v", chain[0])
	}
}

func TestLoadSourcesRejectsDuplicateRanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `english:
  - {name: a, rank: 1, url: https://a.example/x.csv}
  - {name: b, rank: 1, url: https://b.example/x.csv}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSources(path); err == nil {
		t.Fatal("expected duplicate rank rejection")
	}
}
