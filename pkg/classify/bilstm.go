package classify

// newBiLSTM builds the recurrent variant. Forward and backward bigrams stand
// in for the two recurrence directions.
func newBiLSTM(lang Language) *model {
	return &model{
		arch: BiLSTM,
		lang: lang,
		feat: directionalFeaturizer{},
		dim:  featureDim,
	}
}
