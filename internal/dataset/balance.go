package dataset

import "sort"

// SMOTE oversamples the minority class until both classes have the same
// number of rows. Each synthetic row lies on the segment between a
// minority row and one of its k nearest minority neighbours.
//
// Neighbour search is brute force, so callers with large minority
// classes should cap maxMinority to bound the work; 0 means no cap.
func (g *Generator) SMOTE(s *Set, k, maxMinority int) *Set {
	safe, fraud := s.Counts()
	if safe == 0 || fraud == 0 || safe == fraud {
		return s
	}
	minorityLabel, deficit := Fraud, safe-fraud
	if fraud > safe {
		minorityLabel, deficit = Safe, fraud-safe
	}

	var minority [][]float64
	for i, y := range s.Y {
		if y == minorityLabel {
			minority = append(minority, s.X[i])
		}
	}
	if maxMinority > 0 && len(minority) > maxMinority {
		g.rng.Shuffle(len(minority), func(i, j int) { minority[i], minority[j] = minority[j], minority[i] })
		minority = minority[:maxMinority]
	}

	out := &Set{X: append([][]float64(nil), s.X...), Y: append([]int(nil), s.Y...)}
	if len(minority) == 1 {
		for i := 0; i < deficit; i++ {
			out.Add(append([]float64(nil), minority[0]...), minorityLabel)
		}
		return out
	}

	if k <= 0 {
		k = 5
	}
	if k > len(minority)-1 {
		k = len(minority) - 1
	}
	neighbours := nearest(minority, k)

	for i := 0; i < deficit; i++ {
		a := g.rng.IntN(len(minority))
		b := neighbours[a][g.rng.IntN(k)]
		gap := g.rng.Float64()
		row := make([]float64, len(minority[a]))
		for j := range row {
			row[j] = minority[a][j] + gap*(minority[b][j]-minority[a][j])
		}
		out.Add(row, minorityLabel)
	}
	return out
}

func nearest(rows [][]float64, k int) [][]int {
	type cand struct {
		idx  int
		dist float64
	}
	result := make([][]int, len(rows))
	cands := make([]cand, 0, len(rows)-1)
	for i, a := range rows {
		cands = cands[:0]
		for j, b := range rows {
			if i == j {
				continue
			}
			var d float64
			for c := range a {
				diff := a[c] - b[c]
				d += diff * diff
			}
			cands = append(cands, cand{idx: j, dist: d})
		}
		sort.Slice(cands, func(x, y int) bool { return cands[x].dist < cands[y].dist })
		result[i] = make([]int, k)
		for n := 0; n < k; n++ {
			result[i][n] = cands[n].idx
		}
	}
	return result
}

// Report summarizes classifier performance on a held-out set.
type Report struct {
	TruePositive  int     `json:"true_positive"`
	FalsePositive int     `json:"false_positive"`
	TrueNegative  int     `json:"true_negative"`
	FalseNegative int     `json:"false_negative"`
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	Accuracy      float64 `json:"accuracy"`
}

// Evaluate compares predictions against labels.
func Evaluate(labels, predicted []int) Report {
	var r Report
	for i, y := range labels {
		switch {
		case y == Fraud && predicted[i] == Fraud:
			r.TruePositive++
		case y == Safe && predicted[i] == Fraud:
			r.FalsePositive++
		case y == Safe && predicted[i] == Safe:
			r.TrueNegative++
		default:
			r.FalseNegative++
		}
	}
	r.Precision = ratio(r.TruePositive, r.TruePositive+r.FalsePositive)
	r.Recall = ratio(r.TruePositive, r.TruePositive+r.FalseNegative)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.Accuracy = ratio(r.TruePositive+r.TrueNegative, len(labels))
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
