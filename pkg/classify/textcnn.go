package classify

// newTextCNN builds the convolutional variant. Sliding windows of widths
// 3, 4 and 5 stand in for the filter sizes of the original architecture.
func newTextCNN(lang Language) *model {
	return &model{
		arch: TextCNN,
		lang: lang,
		feat: windowFeaturizer{widths: []int{3, 4, 5}},
		dim:  featureDim,
	}
}
