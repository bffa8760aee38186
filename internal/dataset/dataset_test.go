package dataset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudwatchdog/internal/features"
)

func csvHeader() string {
	return strings.Join(append(features.Columns(), "Class"), ",")
}

func csvRow(class string) string {
	cols := make([]string, 0, 31)
	cols = append(cols, "0")
	for i := 1; i < features.Width; i++ {
		if i == 1 {
			cols = append(cols, "-1.3598071336738")
			continue
		}
		cols = append(cols, "0.5")
	}
	cols = append(cols, class)
	return strings.Join(cols, ",")
}

func TestReadCSV(t *testing.T) {
	body := csvHeader() + "\n" + csvRow("\"0\"") + "\n" + csvRow("1") + "\n" + csvRow("0") + "\n"

	set, err := ReadCSV(strings.NewReader(body), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []int{Safe, Fraud, Safe}, set.Y)
	assert.InDelta(t, -1.3598071336738, set.X[0][1], 1e-12)

	limited, err := ReadCSV(strings.NewReader(body), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, limited.Len())
}

func TestWriteCSV_ReadsBack(t *testing.T) {
	g := NewGenerator(3)
	set := g.SafeBaseline(4)
	set.Append(g.ChaosFraud(2))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, set))
	got, err := ReadCSV(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, set.Y, got.Y)
	assert.Equal(t, set.X, got.X)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b,c\n1,2,3\n"), 0)
	assert.ErrorIs(t, err, ErrHeader)

	_, err = ReadCSV(strings.NewReader(csvHeader()+"\n"), 0)
	assert.ErrorIs(t, err, ErrNoRows)

	bad := csvHeader() + "\n" + strings.Replace(csvRow("0"), "0.5", "oops", 1) + "\n"
	_, err = ReadCSV(strings.NewReader(bad), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column V2")
}

func TestChaosFraud(t *testing.T) {
	set := NewGenerator(1).ChaosFraud(4)
	require.Equal(t, 4, set.Len())
	for i, row := range set.X {
		assert.Equal(t, Fraud, set.Y[i])
		assert.Len(t, row, features.Width)
		assert.Equal(t, ChaosV, row[features.IdxV1])
		assert.Equal(t, ChaosV, row[11])
		assert.Equal(t, ChaosAmount, row[features.IdxAmount])
		assert.Zero(t, row[features.IdxTime])
	}
}

func TestSafeBaseline(t *testing.T) {
	set := NewGenerator(2).SafeBaseline(50)
	safe, fraud := set.Counts()
	assert.Equal(t, 50, safe)
	assert.Zero(t, fraud)
	for _, row := range set.X {
		assert.GreaterOrEqual(t, row[features.IdxAmount], 0.0)
		assert.Less(t, row[features.IdxAmount], 100.0)
		assert.LessOrEqual(t, row[features.IdxTime], 170000.0)
	}
}

func TestJitterAround(t *testing.T) {
	pattern := make([]float64, features.Width)
	pattern[features.IdxAmount] = 9000
	set, err := NewGenerator(3).JitterAround(pattern, 20, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 20, set.Len())
	for _, row := range set.X {
		assert.InDelta(t, 9000, row[features.IdxAmount], 5)
	}

	_, err = NewGenerator(3).JitterAround(pattern[:3], 1, 1)
	assert.ErrorIs(t, err, ErrPattern)
}

func TestSMOTE_Balances(t *testing.T) {
	g := NewGenerator(4)
	set := g.SafeBaseline(40)
	set.Append(g.ChaosFraud(5))

	balanced := g.SMOTE(set, 3, 0)
	safe, fraud := balanced.Counts()
	assert.Equal(t, 40, safe)
	assert.Equal(t, 40, fraud)

	// Synthetic fraud rows interpolate between chaos rows, so the pinned
	// columns stay pinned.
	for i := set.Len(); i < balanced.Len(); i++ {
		assert.Equal(t, Fraud, balanced.Y[i])
		assert.InDelta(t, ChaosAmount, balanced.X[i][features.IdxAmount], 1e-9)
	}

	// Input set is untouched.
	assert.Equal(t, 45, set.Len())
}

func TestSMOTE_SingleMinorityRow(t *testing.T) {
	g := NewGenerator(5)
	set := g.SafeBaseline(3)
	set.Append(g.ChaosFraud(1))
	balanced := g.SMOTE(set, 5, 0)
	_, fraud := balanced.Counts()
	assert.Equal(t, 3, fraud)
}

func TestSMOTE_NoOp(t *testing.T) {
	g := NewGenerator(6)
	set := g.SafeBaseline(3)
	assert.Same(t, set, g.SMOTE(set, 5, 0))
}

func TestSplit(t *testing.T) {
	g := NewGenerator(7)
	set := g.SafeBaseline(100)
	train, test := g.Split(set, 0.2)
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())
}

func TestEvaluate(t *testing.T) {
	r := Evaluate([]int{1, 1, 0, 0}, []int{1, 0, 1, 0})
	assert.Equal(t, 1, r.TruePositive)
	assert.Equal(t, 1, r.FalseNegative)
	assert.Equal(t, 1, r.FalsePositive)
	assert.Equal(t, 1, r.TrueNegative)
	assert.InDelta(t, 0.5, r.Precision, 1e-9)
	assert.InDelta(t, 0.5, r.Recall, 1e-9)
	assert.InDelta(t, 0.5, r.Accuracy, 1e-9)

	empty := Evaluate([]int{0}, []int{0})
	assert.Zero(t, empty.Precision)
}
