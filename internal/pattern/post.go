package pattern

import (
	"math"

	"github.com/coreman2200/bamtile/internal/layout"
)

// Post shapes a frame before it leaves the sender. The zero value passes
// frames through unchanged.
//
//   - WhiteCap: per-pixel cap on R+G+B in full-scale units (0..3, 0 = off)
//   - BudgetmA: whole-frame current budget (0 = off)
//   - ChannelmA: current of one channel at 255 (default 20)
//   - Knee: fraction of the budget where soft limiting starts (default 0.9)
//   - Gamma: output gamma applied last (0 or 1 = off)
type Post struct {
	WhiteCap  float64
	BudgetmA  float64
	ChannelmA float64
	Knee      float64
	Gamma     float64

	lut      [256]byte
	lutGamma float64
}

func (p *Post) enabled() bool {
	return p.WhiteCap > 0 || p.BudgetmA > 0 || (p.Gamma > 0 && p.Gamma != 1)
}

// Apply limits f in place, then gamma corrects it.
func (p *Post) Apply(f *Frame) {
	if !p.enabled() {
		return
	}
	n := layout.Panel.Count()
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}

	if p.WhiteCap > 0 && p.WhiteCap < 3 {
		for i := 0; i < n; i++ {
			s := pixelSum(f, i)
			if s > p.WhiteCap {
				scale[i] = p.WhiteCap / s
			}
		}
	}

	if p.BudgetmA > 0 {
		chanmA := p.ChannelmA
		if chanmA <= 0 {
			chanmA = 20
		}
		knee := p.Knee
		if knee <= 0 || knee >= 1 {
			knee = 0.9
		}
		var total float64
		for i := 0; i < n; i++ {
			total += pixelSum(f, i) * scale[i] * chanmA
		}
		if g := budgetScale(total, p.BudgetmA, knee); g < 1 {
			for i := range scale {
				scale[i] *= g
			}
		}
	}

	for i := 0; i < n; i++ {
		if scale[i] >= 1 {
			continue
		}
		for c := 0; c < layout.Colors; c++ {
			ch := i*layout.Colors + c
			f[ch] = byte(float64(f[ch]) * scale[i])
		}
	}

	if p.Gamma > 0 && p.Gamma != 1 {
		if p.lutGamma != p.Gamma {
			for v := range p.lut {
				p.lut[v] = byte(math.Round(255 * math.Pow(float64(v)/255, p.Gamma)))
			}
			p.lutGamma = p.Gamma
		}
		for ch, v := range f {
			f[ch] = p.lut[v]
		}
	}
}

// pixelSum is R+G+B of the pixel at scan index i in full-scale units.
func pixelSum(f *Frame, i int) float64 {
	base := i * layout.Colors
	return (float64(f[base]) + float64(f[base+1]) + float64(f[base+2])) / 255
}

// budgetScale is the frame scale for a current draw of total. Below
// knee*budget nothing changes; above it the excess is halved until the draw
// reaches the budget, which is then held.
func budgetScale(total, budget, knee float64) float64 {
	if total <= 0 {
		return 1
	}
	ratio := total / budget
	if ratio <= knee {
		return 1
	}
	if ratio >= 2-knee {
		return 1 / ratio
	}
	return (knee + (ratio-knee)/2) / ratio
}

// Mix blends a and b into dst; alpha 0 is a, 1 is b.
func Mix(dst, a, b *Frame, alpha float64) {
	if alpha <= 0 {
		*dst = *a
		return
	}
	if alpha >= 1 {
		*dst = *b
		return
	}
	for ch := range dst {
		dst[ch] = byte(math.Round(float64(a[ch])*(1-alpha) + float64(b[ch])*alpha))
	}
}
