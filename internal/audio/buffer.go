package audio

// Buffer accumulates float32 samples for the current span. It keeps at most
// ceiling samples; when an append overflows, the oldest samples are dropped.
// Buffer is owned by a single session loop and is not safe for concurrent use.
type Buffer struct {
	samples []float32
	window  int
	ceiling int
}

// NewBuffer creates a buffer exposing windows of window samples and retaining
// at most ceiling samples. A ceiling below window is raised to window.
func NewBuffer(window, ceiling int) *Buffer {
	if window < 1 {
		window = 1
	}
	if ceiling < window {
		ceiling = window
	}
	return &Buffer{
		samples: make([]float32, 0, ceiling),
		window:  window,
		ceiling: ceiling,
	}
}

// Append adds samples to the tail and returns how many samples were evicted
// from the head to stay within the ceiling. Evicted audio is gone for good.
func (b *Buffer) Append(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	b.samples = append(b.samples, samples...)

	over := len(b.samples) - b.ceiling
	if over <= 0 {
		return 0
	}
	n := copy(b.samples, b.samples[over:])
	b.samples = b.samples[:n]
	return over
}

// Window returns a copy of the newest window samples, or everything buffered
// when fewer are present.
func (b *Buffer) Window() []float32 {
	start := len(b.samples) - b.window
	if start < 0 {
		start = 0
	}
	out := make([]float32, len(b.samples)-start)
	copy(out, b.samples[start:])
	return out
}

// Samples returns a copy of the whole span.
func (b *Buffer) Samples() []float32 {
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}

func (b *Buffer) Len() int {
	return len(b.samples)
}

func (b *Buffer) WindowSize() int {
	return b.window
}

func (b *Buffer) Ceiling() int {
	return b.ceiling
}
