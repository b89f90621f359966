package analysis

// Sampling strategies.
const (
	StrategyFull      = "full"
	StrategyStrategic = "strategic"

	fullSampleCutoff  = 5120
	headSampleBytes   = 1024
	middleSampleBytes = 512
	tailSampleBytes   = 500
)

// Samples is the compact prompt input fed to the agent. The slices are raw
// substrings of the serialized payload and need not be valid JSON.
type Samples struct {
	First    string
	Middle   []string
	Last     string
	Strategy string
}

// SamplePayload slices a serialized payload for analysis. Payloads up to
// 5120 bytes are passed whole; larger ones contribute the head, three
// interior windows at 25/50/75%, and the tail.
func SamplePayload(serialized string) Samples {
	length := len(serialized)
	if length <= fullSampleCutoff {
		return Samples{
			First:    serialized,
			Middle:   []string{},
			Strategy: StrategyFull,
		}
	}

	middle := make([]string, 0, 3)
	for _, fraction := range []float64{0.25, 0.5, 0.75} {
		start := int(float64(length) * fraction)
		end := min(start+middleSampleBytes, length)
		middle = append(middle, serialized[start:end])
	}

	return Samples{
		First:    serialized[:headSampleBytes],
		Middle:   middle,
		Last:     serialized[length-tailSampleBytes:],
		Strategy: StrategyStrategic,
	}
}
