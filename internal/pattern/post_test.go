package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/bamtile/internal/layout"
)

func solid(v byte) *Frame {
	var f Frame
	for i := range f {
		f[i] = v
	}
	return &f
}

func frameCurrent(f *Frame, chanmA float64) float64 {
	var total float64
	for _, v := range f {
		total += float64(v) / 255 * chanmA
	}
	return total
}

func TestPostZeroValuePassesThrough(t *testing.T) {
	var f Frame
	Gradient(&f, 3)
	want := f
	var p Post
	p.Apply(&f)
	assert.Equal(t, want, f)
}

func TestWhiteCap(t *testing.T) {
	f := solid(255)
	f[layout.Panel.Channel(0, 0, layout.Red)] = 255
	f[layout.Panel.Channel(0, 0, layout.Green)] = 0
	f[layout.Panel.Channel(0, 0, layout.Blue)] = 0
	p := Post{WhiteCap: 1.5}
	p.Apply(f)
	assert.Equal(t, byte(127), f[layout.Panel.Channel(3, 3, layout.Green)], "white halved")
	assert.Equal(t, byte(255), f[layout.Panel.Channel(0, 0, layout.Red)], "single channel under the cap")
}

func TestBudgetLimiter(t *testing.T) {
	f := solid(255)
	p := Post{BudgetmA: 1000}
	p.Apply(f)
	total := frameCurrent(f, 20)
	assert.LessOrEqual(t, total, 1000.0)
	assert.Greater(t, total, 950.0)

	// under the knee nothing moves
	f = solid(255)
	p = Post{BudgetmA: frameCurrent(f, 20) / 0.8}
	p.Apply(f)
	assert.Equal(t, *solid(255), *f)
}

func TestBudgetScaleKnee(t *testing.T) {
	assert.Equal(t, 1.0, budgetScale(0, 100, 0.9))
	assert.Equal(t, 1.0, budgetScale(90, 100, 0.9))
	s := budgetScale(95, 100, 0.9)
	assert.Less(t, s, 1.0)
	assert.InDelta(t, 0.925/0.95, s, 1e-9)
	assert.Equal(t, 0.5, budgetScale(200, 100, 0.9))
}

func TestGamma(t *testing.T) {
	var f Frame
	f[0], f[1], f[2] = 0, 128, 255
	p := Post{Gamma: 2.2}
	p.Apply(&f)
	assert.Equal(t, byte(0), f[0])
	assert.InDelta(t, 56, int(f[1]), 1)
	assert.Equal(t, byte(255), f[2])
}

func TestMix(t *testing.T) {
	a, b := solid(0), solid(200)
	var dst Frame
	Mix(&dst, a, b, 0)
	assert.Equal(t, *a, dst)
	Mix(&dst, a, b, 1)
	assert.Equal(t, *b, dst)
	Mix(&dst, a, b, 0.5)
	assert.Equal(t, byte(100), dst[7])
}

func TestRunnerAppliesPost(t *testing.T) {
	r := NewRunner(Plan{Kind: Solid, Post: Post{WhiteCap: 1.5}})
	var f Frame
	require.True(t, r.Step(&f))
	assert.Equal(t, byte(127), f[0])
}
