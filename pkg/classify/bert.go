package classify

// newBERT builds the transformer-flavored variant, featurizing on greedy
// subword pieces the way a wordpiece tokenizer would segment them.
func newBERT(lang Language) *model {
	return &model{
		arch: BERT,
		lang: lang,
		feat: subwordFeaturizer{},
		dim:  featureDim,
	}
}
