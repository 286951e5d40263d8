package classify

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// featureDim is the hashed feature space shared by all architectures.
const featureDim = 1 << 16

// featurizer turns text into sparse feature indices in [0, featureDim).
type featurizer interface {
	features(tokens []string) []int
}

// tokenize segments text per language: whitespace/punctuation words for
// English, single Han runes (plus embedded latin words) for Chinese.
// Anything smarter is out of scope here.
func tokenize(lang Language, text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	if lang == English {
		return strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
	}

	var tokens []string
	var latin strings.Builder
	flush := func() {
		if latin.Len() > 0 {
			tokens = append(tokens, latin.String())
			latin.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			latin.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func hashFeature(parts ...string) int {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return int(h.Sum32() % featureDim)
}

// windowFeaturizer hashes sliding token windows, one per configured width,
// alongside unigrams. Widths mirror convolution filter sizes.
type windowFeaturizer struct {
	widths []int
}

func (f windowFeaturizer) features(tokens []string) []int {
	idx := make([]int, 0, len(tokens)*2)
	for _, t := range tokens {
		idx = append(idx, hashFeature("u", t))
	}
	for _, w := range f.widths {
		for i := 0; i+w <= len(tokens); i++ {
			idx = append(idx, hashFeature(append([]string{"w"}, tokens[i:i+w]...)...))
		}
	}
	return idx
}

// directionalFeaturizer hashes unigrams plus forward and backward bigrams,
// approximating the two recurrence directions.
type directionalFeaturizer struct{}

func (directionalFeaturizer) features(tokens []string) []int {
	idx := make([]int, 0, len(tokens)*3)
	for _, t := range tokens {
		idx = append(idx, hashFeature("u", t))
	}
	for i := 0; i+1 < len(tokens); i++ {
		idx = append(idx, hashFeature("f", tokens[i], tokens[i+1]))
		idx = append(idx, hashFeature("b", tokens[i+1], tokens[i]))
	}
	return idx
}

// subwordFeaturizer hashes greedy subword pieces (max four runes, "##"
// continuation marker) alongside whole tokens.
type subwordFeaturizer struct{}

func (subwordFeaturizer) features(tokens []string) []int {
	idx := make([]int, 0, len(tokens)*2)
	for _, t := range tokens {
		idx = append(idx, hashFeature("u", t))
		for i, piece := range splitPieces(t, 4) {
			if i == 0 {
				idx = append(idx, hashFeature("p", piece))
			} else {
				idx = append(idx, hashFeature("p", "##"+piece))
			}
		}
	}
	return idx
}

func splitPieces(token string, size int) []string {
	runes := []rune(token)
	if len(runes) <= size {
		return []string{token}
	}
	var pieces []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
