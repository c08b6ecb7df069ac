package policy

import "math"

func tail(history []Outcome, n int) []Outcome {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}

func mean(history []Outcome) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range history {
		sum += o.Ratio()
	}
	return sum / float64(len(history))
}

// evenMean averages the rounds at even positions of the visible history.
func evenMean(history []Outcome) float64 {
	sum, n := 0.0, 0
	for i := 0; i < len(history); i += 2 {
		sum += history[i].Ratio()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func ema(history []Outcome, alpha float64) float64 {
	if len(history) == 0 {
		return 0
	}
	e := history[0].Ratio()
	for _, o := range history[1:] {
		e = alpha*o.Ratio() + (1-alpha)*e
	}
	return e
}

// linearWeighted gives the i-th oldest round weight i+1.
func linearWeighted(history []Outcome) float64 {
	if len(history) == 0 {
		return 0
	}
	sum, weights := 0.0, 0.0
	for i, o := range history {
		w := float64(i + 1)
		sum += w * o.Ratio()
		weights += w
	}
	return sum / weights
}

// powerMean is the generalized mean M_p. p = 0 is the geometric mean. A zero
// ratio pulls means with p <= 0 to zero.
func powerMean(history []Outcome, p float64) float64 {
	if len(history) == 0 {
		return 0
	}
	n := float64(len(history))
	if p == 0 {
		logSum := 0.0
		for _, o := range history {
			r := o.Ratio()
			if r <= 0 {
				return 0
			}
			logSum += math.Log(r)
		}
		return math.Exp(logSum / n)
	}
	sum := 0.0
	for _, o := range history {
		r := o.Ratio()
		if r <= 0 && p < 0 {
			return 0
		}
		sum += math.Pow(r, p)
	}
	return math.Pow(sum/n, 1/p)
}
