// Package policy provides the attendance decision rules agents follow.
// A Policy is a closed set of variants dispatched by Kind; every variant is a
// pure function of the visible round history, except the random ones which
// draw from the stream the caller passes in.
package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultThreshold is the predicted attendance ratio at or above which a
// forecasting policy stays home.
const DefaultThreshold = 0.6

// Kind identifies a policy variant.
type Kind uint8

const (
	KindAlwaysGo               Kind = iota // Attends every round
	KindNeverGo                            // Never attends
	KindRandom                             // Fair coin flip
	KindUniform                            // Prediction drawn from U[Low, High]
	KindLastRound                          // Predicts last round's ratio
	KindDayBeforeYesterday                 // Predicts the ratio two rounds back
	KindMovingAverage                      // Mean of the last Window rounds
	KindFullHistoryAverage                 // Mean of every visible round
	KindEvenHistoryAverage                 // Mean of the even-indexed rounds
	KindExponentialMovingAverage           // EMA with smoothing factor Alpha
	KindWeightedHistory                    // Linearly weighted mean, newest heaviest
	KindSlidingWeightedAverage             // Linearly weighted mean of the last Window rounds
	KindGeneralizedMean                    // Power mean with Exponent over the last Window rounds
)

// NumKinds is the number of policy variants.
const NumKinds = 13

var kindNames = [NumKinds]string{
	"always_go",
	"never_go",
	"random",
	"uniform",
	"last_round",
	"day_before_yesterday",
	"moving_average",
	"full_history_average",
	"even_history_average",
	"exponential_moving_average",
	"weighted_history",
	"sliding_weighted_average",
	"generalized_mean",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown policy kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds read naturally in
// YAML and JSON.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown policy kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Windowed reports whether the kind reads only the last Window rounds.
func (k Kind) Windowed() bool {
	switch k {
	case KindMovingAverage, KindSlidingWeightedAverage, KindGeneralizedMean:
		return true
	default:
		return false
	}
}

// Stochastic reports whether the kind draws from its random stream.
func (k Kind) Stochastic() bool {
	return k == KindRandom || k == KindUniform
}

// Outcome is one resolved round as seen by a policy.
type Outcome struct {
	Attendance int `json:"attendance"`
	Population int `json:"population"`
}

// Ratio returns attendance as a fraction of the population.
func (o Outcome) Ratio() float64 {
	if o.Population <= 0 {
		return 0
	}
	return float64(o.Attendance) / float64(o.Population)
}

// Policy is an immutable decision rule. Policies are comparable values, so two
// agents hold "the same" policy exactly when their Policy values are equal.
type Policy struct {
	Kind      Kind    `json:"kind" yaml:"kind"`
	Window    int     `json:"window,omitempty" yaml:"window,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"` // 0 = DefaultThreshold
	Alpha     float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Exponent  float64 `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	Low       float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High      float64 `json:"high,omitempty" yaml:"high,omitempty"`
}

func AlwaysGo() Policy           { return Policy{Kind: KindAlwaysGo} }
func NeverGo() Policy            { return Policy{Kind: KindNeverGo} }
func Random() Policy             { return Policy{Kind: KindRandom} }
func LastRound() Policy          { return Policy{Kind: KindLastRound} }
func DayBeforeYesterday() Policy { return Policy{Kind: KindDayBeforeYesterday} }
func FullHistoryAverage() Policy { return Policy{Kind: KindFullHistoryAverage} }
func EvenHistoryAverage() Policy { return Policy{Kind: KindEvenHistoryAverage} }
func WeightedHistory() Policy    { return Policy{Kind: KindWeightedHistory} }

func Uniform(low, high float64) Policy {
	return Policy{Kind: KindUniform, Low: low, High: high}
}

func MovingAverage(window int) Policy {
	return Policy{Kind: KindMovingAverage, Window: window}
}

func ExponentialMovingAverage(alpha float64) Policy {
	return Policy{Kind: KindExponentialMovingAverage, Alpha: alpha}
}

func SlidingWeightedAverage(window int) Policy {
	return Policy{Kind: KindSlidingWeightedAverage, Window: window}
}

func GeneralizedMean(window int, exponent float64) Policy {
	return Policy{Kind: KindGeneralizedMean, Window: window, Exponent: exponent}
}

// WithThreshold returns a copy of p that stays home at predictions >= t.
// A t of 0 selects DefaultThreshold.
func (p Policy) WithThreshold(t float64) Policy {
	p.Threshold = t
	return p
}

// EffectiveThreshold resolves the zero value to DefaultThreshold, so a
// literal threshold of 0 cannot be expressed. Parse rejects it.
func (p Policy) EffectiveThreshold() float64 {
	if p.Threshold == 0 {
		return DefaultThreshold
	}
	return p.Threshold
}

// Validate checks the parameters required by the policy's kind.
func (p Policy) Validate() error {
	if int(p.Kind) >= NumKinds {
		return fmt.Errorf("unknown policy kind %d", uint8(p.Kind))
	}
	if p.Threshold < 0 || p.Threshold > 1 || math.IsNaN(p.Threshold) {
		return fmt.Errorf("%s: threshold must be within [0, 1], got %v", p.Kind, p.Threshold)
	}
	if p.Kind.Windowed() && p.Window < 1 {
		return fmt.Errorf("%s: window must be at least 1, got %d", p.Kind, p.Window)
	}
	switch p.Kind {
	case KindUniform:
		if p.Low < 0 || p.High > 1 || p.Low > p.High {
			return fmt.Errorf("uniform: need 0 <= low <= high <= 1, got [%v, %v]", p.Low, p.High)
		}
	case KindExponentialMovingAverage:
		if !(p.Alpha > 0 && p.Alpha <= 1) {
			return fmt.Errorf("exponential_moving_average: alpha must be within (0, 1], got %v", p.Alpha)
		}
	case KindGeneralizedMean:
		if math.IsNaN(p.Exponent) || math.IsInf(p.Exponent, 0) {
			return fmt.Errorf("generalized_mean: exponent must be finite, got %v", p.Exponent)
		}
	}
	return nil
}

// Name returns a human-readable label, used in legends and logs.
func (p Policy) Name() string {
	var name string
	switch p.Kind {
	case KindAlwaysGo:
		name = "Always Go"
	case KindNeverGo:
		name = "Never Go"
	case KindRandom:
		name = "Random"
	case KindUniform:
		name = fmt.Sprintf("Uniform [%.2f, %.2f]", p.Low, p.High)
	case KindLastRound:
		name = "Predict from yesterday"
	case KindDayBeforeYesterday:
		name = "Predict from day before yesterday"
	case KindMovingAverage:
		name = fmt.Sprintf("Moving Average (%d)", p.Window)
	case KindFullHistoryAverage:
		name = "Full History Average"
	case KindEvenHistoryAverage:
		name = "Even History Average"
	case KindExponentialMovingAverage:
		name = fmt.Sprintf("Exponential Moving Average (%.2f)", p.Alpha)
	case KindWeightedHistory:
		name = "Weighted History"
	case KindSlidingWeightedAverage:
		name = fmt.Sprintf("Sliding Weighted Average (%d)", p.Window)
	case KindGeneralizedMean:
		name = fmt.Sprintf("Generalized Mean (%d, p=%g)", p.Window, p.Exponent)
	default:
		return p.Kind.String()
	}
	if p.Threshold != 0 && p.Threshold != DefaultThreshold && p.usesThreshold() {
		name += fmt.Sprintf(" @%.2f", p.Threshold)
	}
	return name
}

func (p Policy) usesThreshold() bool {
	switch p.Kind {
	case KindAlwaysGo, KindNeverGo, KindRandom:
		return false
	default:
		return true
	}
}

// Decide reports whether an agent following p attends the next round.
func (p Policy) Decide(history []Outcome, rng *rand.Rand) bool {
	attend, _ := p.Evaluate(history, rng)
	return attend
}

// Evaluate returns the attendance decision together with the forecast it was
// based on. Stochastic kinds draw exactly once per call.
func (p Policy) Evaluate(history []Outcome, rng *rand.Rand) (bool, float64) {
	switch p.Kind {
	case KindAlwaysGo:
		return true, 0
	case KindNeverGo:
		return false, 1
	case KindRandom:
		draw := rng.Float64()
		return draw < 0.5, draw
	default:
		prediction := p.Predict(history, rng)
		return prediction < p.EffectiveThreshold(), prediction
	}
}

// Predict forecasts the next round's attendance ratio. With no visible
// history every forecasting kind predicts an empty bar.
func (p Policy) Predict(history []Outcome, rng *rand.Rand) float64 {
	switch p.Kind {
	case KindAlwaysGo:
		return 0
	case KindNeverGo:
		return 1
	case KindRandom:
		return rng.Float64()
	case KindUniform:
		return p.Low + rng.Float64()*(p.High-p.Low)
	case KindLastRound:
		if len(history) == 0 {
			return 0
		}
		return history[len(history)-1].Ratio()
	case KindDayBeforeYesterday:
		if len(history) < 2 {
			return 0
		}
		return history[len(history)-2].Ratio()
	case KindMovingAverage:
		return mean(tail(history, p.Window))
	case KindFullHistoryAverage:
		return mean(history)
	case KindEvenHistoryAverage:
		return evenMean(history)
	case KindExponentialMovingAverage:
		return ema(history, p.Alpha)
	case KindWeightedHistory:
		return linearWeighted(history)
	case KindSlidingWeightedAverage:
		return linearWeighted(tail(history, p.Window))
	case KindGeneralizedMean:
		return powerMean(tail(history, p.Window), p.Exponent)
	default:
		return 0
	}
}
