package simulation

// measurement averages a value over a window of ticks.
type measurement struct {
	samples []float64
	next    int
}

func newMeasurement(window int) measurement {
	return measurement{samples: make([]float64, window)}
}

// add records a sample. It returns the window average each time the window
// is full.
func (m *measurement) add(v float64) (float64, bool) {
	m.samples[m.next] = v
	m.next = (m.next + 1) % len(m.samples)
	if m.next != 0 {
		return 0, false
	}

	var total float64
	for _, s := range m.samples {
		total += s
	}
	return total / float64(len(m.samples)), true
}
