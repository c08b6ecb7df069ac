package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads the compact form used on the command line:
//
//	kind[:key=value,key=value...]
//
// e.g. "moving_average:window=5,threshold=0.55". The result is validated.
func Parse(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	kindPart, params, _ := strings.Cut(s, ":")
	kind, err := ParseKind(strings.TrimSpace(kindPart))
	if err != nil {
		return Policy{}, err
	}

	p := Policy{Kind: kind}
	if params != "" {
		for _, kv := range strings.Split(params, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
			if !ok {
				return Policy{}, fmt.Errorf("policy %q: parameter %q is not key=value", s, kv)
			}
			if err := p.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
				return Policy{}, fmt.Errorf("policy %q: %w", s, err)
			}
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) set(key, value string) error {
	if key == "window" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		p.Window = n
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case "threshold":
		if f <= 0 {
			return fmt.Errorf("threshold: %v must be positive; omit it for the default %v", f, DefaultThreshold)
		}
		p.Threshold = f
	case "alpha":
		p.Alpha = f
	case "exponent", "p":
		p.Exponent = f
	case "low":
		p.Low = f
	case "high":
		p.High = f
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	return nil
}

// String returns the compact form accepted by Parse.
func (p Policy) String() string {
	var params []string
	if p.Window != 0 {
		params = append(params, "window="+strconv.Itoa(p.Window))
	}
	add := func(key string, v float64) {
		if v != 0 {
			params = append(params, key+"="+strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	add("threshold", p.Threshold)
	add("alpha", p.Alpha)
	add("exponent", p.Exponent)
	add("low", p.Low)
	add("high", p.High)

	if len(params) == 0 {
		return p.Kind.String()
	}
	return p.Kind.String() + ":" + strings.Join(params, ",")
}

// Catalog returns one instance of every variant with the parameters the
// bundled scenarios use.
func Catalog() []Policy {
	return []Policy{
		AlwaysGo(),
		NeverGo(),
		LastRound(),
		DayBeforeYesterday(),
		Random(),
		Uniform(0.25, 0.75),
		MovingAverage(3),
		MovingAverage(5),
		FullHistoryAverage(),
		EvenHistoryAverage(),
		ExponentialMovingAverage(0.5),
		WeightedHistory(),
		SlidingWeightedAverage(5),
		GeneralizedMean(5, 2),
	}
}
