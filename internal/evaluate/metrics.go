package evaluate

import "sort"

// LabelMetrics scores one label of the confusion counts.
type LabelMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report maps each label to its metrics.
type Report map[string]LabelMetrics

// Metrics computes the per-label report plus support-weighted precision
// and F1 and overall accuracy from aligned target/prediction lists.
func Metrics(targets, predictions []string) (report Report, precision, f1, accuracy float64) {
	report = Report{}
	if len(targets) == 0 {
		return report, 0, 0, 0
	}

	truePos := map[string]int{}
	falsePos := map[string]int{}
	support := map[string]int{}
	correct := 0

	for i, target := range targets {
		predicted := predictions[i]
		support[target]++
		if predicted == target {
			truePos[target]++
			correct++
		} else {
			falsePos[predicted]++
		}
	}

	for _, label := range sortedLabels(support, falsePos) {
		tp := truePos[label]
		fp := falsePos[label]
		sup := support[label]

		var p, r, f float64
		if tp+fp > 0 {
			p = float64(tp) / float64(tp+fp)
		}
		if sup > 0 {
			r = float64(tp) / float64(sup)
		}
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		report[label] = LabelMetrics{Precision: p, Recall: r, F1: f, Support: sup}

		precision += p * float64(sup)
		f1 += f * float64(sup)
	}

	total := float64(len(targets))
	return report, precision / total, f1 / total, float64(correct) / total
}

func sortedLabels(support, falsePos map[string]int) []string {
	seen := map[string]struct{}{}
	for l := range support {
		seen[l] = struct{}{}
	}
	for l := range falsePos {
		seen[l] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
