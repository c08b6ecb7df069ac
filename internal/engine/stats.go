package engine

import (
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a run's rounds into a handful of numbers.
type Summary struct {
	Rounds       int     `json:"rounds"`
	MeanRatio    float64 `json:"mean_ratio"`
	StdDevRatio  float64 `json:"stddev_ratio"`
	CrowdedShare float64 `json:"crowded_share"`
	Updates      int     `json:"updates"`
	Switches     int     `json:"switches"`

	// Final population per policy id.
	Population []int `json:"population"`
}

// Summarize computes a Summary from rounds and their series. The series may
// be empty when only records are available, e.g. when reading from storage.
func Summarize(rounds []RoundRecord, series Series) Summary {
	sum := Summary{Rounds: len(rounds)}
	if len(rounds) == 0 {
		return sum
	}

	ratios := make([]float64, len(rounds))
	crowded := 0
	for i, r := range rounds {
		ratios[i] = r.Ratio()
		if r.Crowded {
			crowded++
		}
		if r.Adapted {
			sum.Updates++
			sum.Switches += r.Switches
		}
	}
	sum.MeanRatio, sum.StdDevRatio = stat.MeanStdDev(ratios, nil)
	if len(ratios) < 2 {
		sum.StdDevRatio = 0
	}
	sum.CrowdedShare = float64(crowded) / float64(len(rounds))

	if n := len(series.PolicyCounts); n > 0 {
		sum.Population = append([]int(nil), series.PolicyCounts[n-1]...)
	}
	return sum
}

// Summary summarizes the rounds played so far.
func (s *Simulation) Summary() Summary {
	return Summarize(s.Rounds(), s.Series())
}

// TailMeanRatio returns the mean attendance ratio of the last n rounds.
func TailMeanRatio(rounds []RoundRecord, n int) float64 {
	if n <= 0 || len(rounds) == 0 {
		return 0
	}
	if n > len(rounds) {
		n = len(rounds)
	}
	ratios := make([]float64, n)
	for i, r := range rounds[len(rounds)-n:] {
		ratios[i] = r.Ratio()
	}
	return stat.Mean(ratios, nil)
}
