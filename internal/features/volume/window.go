package volume

// Capacity is the number of 5-minute volume samples kept per token.
const Capacity = 5

// Window is a bounded, oldest-first list of volume_5m samples.
type Window struct {
	Samples []float64 `json:"samples"`
}

// Record appends sample and returns the spike ratio against the average of
// the samples that were already in the window. With no prior samples, or a
// non-positive prior average, the ratio is 1.0.
func (w *Window) Record(sample float64) float64 {
	if sample < 0 {
		sample = 0
	}

	ratio := 1.0
	if n := len(w.Samples); n > 0 {
		var sum float64
		for _, s := range w.Samples {
			sum += s
		}
		if avg := sum / float64(n); avg > 0 {
			ratio = sample / avg
		}
	}

	w.Samples = append(w.Samples, sample)
	if over := len(w.Samples) - Capacity; over > 0 {
		w.Samples = append(w.Samples[:0:0], w.Samples[over:]...)
	}
	return ratio
}

func (w Window) Len() int { return len(w.Samples) }

// Clone returns an independent copy.
func (w Window) Clone() Window {
	if w.Samples == nil {
		return Window{}
	}
	return Window{Samples: append([]float64(nil), w.Samples...)}
}
