package sequence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/bamtile/internal/pattern"
)

func TestEnvelopeEval(t *testing.T) {
	env := Envelope{{T: 0, V: 0}, {T: 10, V: 10, Ease: "smooth"}, {T: 20, V: 0}}
	assert.Equal(t, 0.0, env.Eval(-1))
	assert.Equal(t, 0.0, env.Eval(0))
	assert.Equal(t, 5.0, env.Eval(5))
	assert.Equal(t, 10.0, env.Eval(10))
	assert.Equal(t, 5.0, env.Eval(15), "smooth is symmetric at the midpoint")
	assert.Greater(t, env.Eval(12), 8.0, "smooth starts slow")
	assert.Equal(t, 0.0, env.Eval(30))
	assert.Zero(t, Envelope{}.Eval(3))
	assert.Equal(t, byte(255), Envelope{{V: 400}}.level(0))
}

func play(t *testing.T, p *Player, n int) []byte {
	t.Helper()
	var out []byte
	var f pattern.Frame
	for i := 0; i < n; i++ {
		if !p.Step(&f) {
			break
		}
		out = append(out, f[0])
	}
	return out
}

func TestPlayerCrossfade(t *testing.T) {
	p := NewPlayer(time.Second, pattern.Post{})
	require.NoError(t, p.Load(Program{Clips: []Clip{
		{Name: "A", Pattern: "solid", Level: 100, Duration: 4 * time.Second, Fade: 2 * time.Second},
		{Name: "B", Pattern: "solid", Level: 200, Duration: 3 * time.Second},
	}}))
	assert.False(t, p.Step(new(pattern.Frame)), "idle until started")
	p.Start()

	assert.Equal(t, []byte{100, 100, 100, 150, 200}, play(t, p, 10))
	assert.Equal(t, Idle, p.State)
	i, name := p.Clip()
	assert.Equal(t, 0, i, "rewound")
	assert.Equal(t, "A", name)
}

func TestPlayerLoopAndLevels(t *testing.T) {
	p := NewPlayer(time.Second, pattern.Post{})
	require.NoError(t, p.Load(Program{Loop: true, Clips: []Clip{
		{Pattern: "solid", Duration: 3 * time.Second, Levels: Envelope{{T: 0, V: 0}, {T: 2, V: 200}}},
		{Pattern: "solid", Level: 7, Duration: time.Second},
	}}))
	p.Start()
	assert.Equal(t, []byte{0, 100, 200, 7, 0, 100}, play(t, p, 6))
	assert.Equal(t, Running, p.State)
}

func TestPlayerPauseRepeatsFrame(t *testing.T) {
	p := NewPlayer(time.Second, pattern.Post{Gamma: 2.2})
	require.NoError(t, p.Load(Program{Clips: []Clip{
		{Pattern: "ramp", Duration: time.Minute},
	}}))
	p.Start()
	var a, b pattern.Frame
	require.True(t, p.Step(&a))
	p.Pause()
	require.True(t, p.Step(&b))
	assert.Equal(t, a, b)
	p.Resume()
	require.True(t, p.Step(&b))
	assert.NotEqual(t, a, b, "ramp moves on")

	p.Stop()
	assert.Equal(t, Idle, p.State)
}

func TestProgramValidate(t *testing.T) {
	ok := Clip{Pattern: "solid", Duration: time.Second}
	cases := map[string]Program{
		"empty":   {},
		"pattern": {Clips: []Clip{{Pattern: "plasma", Duration: time.Second}}},
		"length":  {Clips: []Clip{{Pattern: "solid"}}},
		"fade":    {Clips: []Clip{{Pattern: "solid", Duration: time.Second, Fade: 2 * time.Second}}},
		"level":   {Clips: []Clip{{Pattern: "solid", Duration: time.Second, Level: 300}}},
		"ease":    {Clips: []Clip{{Pattern: "solid", Duration: time.Second, Ease: "bounce"}}},
		"order":   {Clips: []Clip{ok, {Pattern: "solid", Duration: time.Second, Levels: Envelope{{T: 2}, {T: 1}}}}},
	}
	for name, prog := range cases {
		assert.ErrorIs(t, prog.Validate(), ErrProgram, name)
	}
	assert.NoError(t, Program{Clips: []Clip{ok}}.Validate())
}

func TestLoadProgram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: show.v1
loop: true
clips:
  - name: warmup
    pattern: ramp
    duration: 10s
    fade: 2s
    ease: cubic
  - name: white
    pattern: solid
    duration: 5s
    levels:
      - {t: 0, v: 0}
      - {t: 5, v: 255, ease: smooth}
`), 0644))
	prog, err := LoadProgram(path)
	require.NoError(t, err)
	require.Len(t, prog.Clips, 2)
	assert.True(t, prog.Loop)
	assert.Equal(t, 10*time.Second, prog.Clips[0].Duration)
	assert.Equal(t, 2*time.Second, prog.Clips[0].Fade)
	assert.Equal(t, 255.0, prog.Clips[1].Levels[1].V)

	_, err = LoadProgram(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenStartsShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`clips:
  - pattern: solid
    level: 9
    duration: 2s
`), 0644))
	s, err := Open(path, time.Second, pattern.Post{})
	require.NoError(t, err)
	s.With(func(p *Player) { assert.Equal(t, Running, p.State) })
	var f pattern.Frame
	require.True(t, s.Step(&f))
	assert.Equal(t, byte(9), f[0])

	_, err = Open(filepath.Join(t.TempDir(), "missing.yaml"), time.Second, pattern.Post{})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("clips: []\n"), 0644))
	_, err = Open(bad, time.Second, pattern.Post{})
	assert.ErrorIs(t, err, ErrProgram)
}
