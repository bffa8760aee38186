package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mbd888/fraudwatchdog/internal/features"
)

// Number is a JSON number that may also arrive as a numeric string. The
// dashboard sends amounts formatted with toFixed(2). Raw keeps the caller's
// text so the amount can be echoed back unchanged.
type Number struct {
	Value float64
	Raw   string
}

// UnmarshalJSON accepts 12.5 and "12.50".
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	if raw == "" || raw == "null" {
		return fmt.Errorf("empty number")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a finite number: %q", raw)
	}
	n.Value, n.Raw = v, raw
	return nil
}

// MarshalJSON writes the numeric value.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(n.Value, 'g', -1, 64)), nil
}

// Num builds a Number from a float.
func Num(v float64) *Number {
	return &Number{Value: v, Raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Request is the /predict body. Either the four named fields or a complete
// 30 entry features list must be present; the list wins when both are.
type Request struct {
	Time     *Number  `json:"Time,omitempty"`
	V1       *Number  `json:"V1,omitempty"`
	V2       *Number  `json:"V2,omitempty"`
	Amount   *Number  `json:"Amount,omitempty"`
	Features []Number `json:"features,omitempty"`
	Profile  string   `json:"profile,omitempty"`
}

// vector builds the model input. Named input gets noise in V3..V28.
func (r *Request) vector(noise features.Noise, stddev float64) (features.Transaction, string, error) {
	if len(r.Features) > 0 {
		vals := make([]float64, len(r.Features))
		for i, n := range r.Features {
			vals[i] = n.Value
		}
		tx, err := features.FromVector(vals)
		if err != nil {
			return tx, "", fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
		}
		return tx, r.Features[len(r.Features)-1].Raw, nil
	}

	var missing []string
	for _, f := range []struct {
		name string
		val  *Number
	}{{"Time", r.Time}, {"V1", r.V1}, {"V2", r.V2}, {"Amount", r.Amount}} {
		if f.val == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return features.Transaction{}, "", fmt.Errorf("%w: missing %s", ErrInvalidTransaction, strings.Join(missing, ", "))
	}
	tx := features.FromNamed(features.Named{
		TimeMillis: r.Time.Value,
		V1:         r.V1.Value,
		V2:         r.V2.Value,
		Amount:     r.Amount.Value,
	}, noise, stddev)
	return tx, r.Amount.Raw, nil
}

// formatProbability renders p rounded to four places, always with a
// decimal point: 0.4 becomes "0.4", 1 becomes "1.0".
func formatProbability(p float64) string {
	s := strconv.FormatFloat(round4(p), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
