package sequence

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// smootherstep is 6x^5 - 15x^4 + 10x^3.
func smootherstep(x float64) float64 {
	return x * x * x * (x*(x*6-15) + 10)
}

func easeApply(kind string, x float64) float64 {
	switch kind {
	case "smooth":
		return x * x * (3 - 2*x)
	case "cubic":
		return smootherstep(x)
	default:
		return x
	}
}

func validEase(kind string) bool {
	switch kind {
	case "", "linear", "smooth", "cubic":
		return true
	}
	return false
}

// Eval returns the level at t seconds. Before the first key and after the
// last the end values hold.
func (e Envelope) Eval(t float64) float64 {
	n := len(e)
	if n == 0 {
		return 0
	}
	if t <= e[0].T {
		return e[0].V
	}
	if t >= e[n-1].T {
		return e[n-1].V
	}
	for i := 0; i < n-1; i++ {
		a, b := e[i], e[i+1]
		if t > b.T {
			continue
		}
		den := b.T - a.T
		if den <= 0 {
			return b.V
		}
		u := easeApply(a.Ease, clamp01((t-a.T)/den))
		return a.V + (b.V-a.V)*u
	}
	return e[n-1].V
}

// level evaluates e as a channel intensity.
func (e Envelope) level(t float64) byte {
	v := e.Eval(t)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
