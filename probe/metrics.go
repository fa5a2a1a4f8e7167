package probe

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metrics of an ID versus OOD score separation.
type Metrics struct {
	// AUROC is the area under the ROC curve, ID being the positive class.
	AUROC float64

	// FPR95 is the fraction of OOD examples accepted at the threshold
	// where 95% of the ID examples are.
	FPR95 float64
}

// Evaluate computes the detection metrics of scores where higher means
// more in-distribution.
func Evaluate(idScores, oodScores []float64) (Metrics, error) {
	if len(idScores) == 0 || len(oodScores) == 0 {
		return Metrics{}, errors.Errorf("need ID and OOD scores, got %d and %d", len(idScores), len(oodScores))
	}
	y := make([]float64, 0, len(idScores)+len(oodScores))
	classes := make([]bool, 0, cap(y))
	for _, s := range idScores {
		y = append(y, s)
		classes = append(classes, true)
	}
	for _, s := range oodScores {
		y = append(y, s)
		classes = append(classes, false)
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)

	m := Metrics{AUROC: integrate.Trapezoidal(fpr, tpr), FPR95: 1}
	for ii, rate := range tpr {
		if rate >= 0.95 {
			m.FPR95 = fpr[ii]
			break
		}
	}
	return m, nil
}
