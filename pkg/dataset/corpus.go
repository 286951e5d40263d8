package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/sentilab-ai/platform/pkg/classify"
)

// ErrCacheCorrupt marks a local copy that exists but cannot be parsed as a
// labeled-text corpus.
var ErrCacheCorrupt = errors.New("cached dataset is corrupt")

// splitSeed keeps train/val/test splits stable across runs.
const splitSeed = 42

// columnAliases tolerates the naming drift between sources: hub files say
// text/label, the credentialed mirror says review/sentiment, the raw mirror
// says review/label.
var textAliases = []string{"text", "review", "text_a"}
var labelAliases = []string{"label", "sentiment"}

// ProbeCorpusFile is the structural cache check: the file must open, expose
// recognizable text and label columns, and contain at least one parseable
// row. It reads no more than the header and the first record.
func ProbeCorpusFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrCacheCorrupt, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	textCol, labelCol, err := resolveColumns(header)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}

	record, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: %s has no data rows", ErrCacheCorrupt, path)
	}
	if _, err := parseRecord(record, textCol, labelCol); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	return nil
}

// ReadCorpusFile parses the whole corpus, normalizing column names and label
// encodings. Unparseable rows are skipped; a file yielding zero examples is
// corrupt.
func ReadCorpusFile(path string) ([]classify.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	textCol, labelCol, err := resolveColumns(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}

	var examples []classify.Example
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		ex, err := parseRecord(record, textCol, labelCol)
		if err != nil {
			continue
		}
		examples = append(examples, ex)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: %s yielded no usable rows", ErrCacheCorrupt, path)
	}
	return examples, nil
}

// LoadCorpus reads, optionally truncates, shuffles and splits a corpus file
// 80/10/10 with a fixed seed.
func LoadCorpus(path string, maxSamples int) (classify.Corpus, error) {
	examples, err := ReadCorpusFile(path)
	if err != nil {
		return classify.Corpus{}, err
	}

	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})

	if maxSamples > 0 && len(examples) > maxSamples {
		examples = examples[:maxSamples]
	}

	n := len(examples)
	trainEnd := n * 8 / 10
	valEnd := trainEnd + n/10
	if valEnd == trainEnd {
		valEnd = trainEnd + 1
	}
	if valEnd > n {
		valEnd = n
	}

	return classify.Corpus{
		Train: examples[:trainEnd],
		Val:   examples[trainEnd:valEnd],
		Test:  examples[valEnd:],
	}, nil
}

func resolveColumns(header []string) (textCol, labelCol int, err error) {
	textCol, labelCol = -1, -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for _, alias := range textAliases {
			if name == alias && textCol == -1 {
				textCol = i
			}
		}
		for _, alias := range labelAliases {
			if name == alias && labelCol == -1 {
				labelCol = i
			}
		}
	}
	if textCol == -1 || labelCol == -1 {
		return 0, 0, fmt.Errorf("no text/label columns in header %v", header)
	}
	return textCol, labelCol, nil
}

func parseRecord(record []string, textCol, labelCol int) (classify.Example, error) {
	if textCol >= len(record) || labelCol >= len(record) {
		return classify.Example{}, fmt.Errorf("short record")
	}
	text := strings.TrimSpace(record[textCol])
	if text == "" {
		return classify.Example{}, fmt.Errorf("empty text")
	}

	raw := strings.ToLower(strings.TrimSpace(record[labelCol]))
	switch raw {
	case "positive":
		return classify.Example{Text: text, Label: 1}, nil
	case "negative":
		return classify.Example{Text: text, Label: 0}, nil
	}
	label, err := strconv.Atoi(raw)
	if err != nil || (label != 0 && label != 1) {
		return classify.Example{}, fmt.Errorf("unusable label %q", raw)
	}
	return classify.Example{Text: text, Label: label}, nil
}
