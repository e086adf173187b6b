// Package ring implements a fixed-capacity sliding window over float64
// observations. Once full, the oldest value is overwritten first.
package ring

type Window struct {
	capacity int
	values   []float64
	index    int
	count    int
	sum      float64
}

func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		values:   make([]float64, capacity),
	}
}

func (w *Window) Add(value float64) {
	if w.count < w.capacity {
		w.values[w.index] = value
		w.sum += value
		w.count++
		w.index = (w.index + 1) % w.capacity
		return
	}

	old := w.values[w.index]
	w.values[w.index] = value
	w.sum = w.sum - old + value
	w.index = (w.index + 1) % w.capacity
}

func (w *Window) Len() int {
	return w.count
}

func (w *Window) Cap() int {
	return w.capacity
}

func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Values returns a copy of the window in insertion order, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	if w.count < w.capacity {
		out = append(out, w.values[:w.count]...)
		return out
	}
	out = append(out, w.values[w.index:]...)
	out = append(out, w.values[:w.index]...)
	return out
}

// Last returns a copy of the n most recent values, oldest of them first.
func (w *Window) Last(n int) []float64 {
	values := w.Values()
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}
