package sequence

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/coreman2200/bamtile/internal/pattern"
)

var ErrProgram = errors.New("sequence: invalid program")

// LoadProgram reads a YAML show file and validates it.
func LoadProgram(path string) (Program, error) {
	var prog Program
	b, err := os.ReadFile(path)
	if err != nil {
		return prog, fmt.Errorf("sequence: %w", err)
	}
	if err := yaml.Unmarshal(b, &prog); err != nil {
		return prog, fmt.Errorf("sequence: %s: %w", path, err)
	}
	return prog, prog.Validate()
}

func (p Program) Validate() error {
	if len(p.Clips) == 0 {
		return fmt.Errorf("%w: no clips", ErrProgram)
	}
	for i, c := range p.Clips {
		if _, err := pattern.Parse(c.Pattern); err != nil {
			return fmt.Errorf("%w: clip %d: %v", ErrProgram, i, err)
		}
		if c.Duration <= 0 {
			return fmt.Errorf("%w: clip %d: duration %s", ErrProgram, i, c.Duration)
		}
		if c.Fade < 0 || c.Fade > c.Duration {
			return fmt.Errorf("%w: clip %d: fade %s", ErrProgram, i, c.Fade)
		}
		if c.Level < 0 || c.Level > 255 {
			return fmt.Errorf("%w: clip %d: level %d", ErrProgram, i, c.Level)
		}
		if !validEase(c.Ease) {
			return fmt.Errorf("%w: clip %d: ease %q", ErrProgram, i, c.Ease)
		}
		for j, k := range c.Levels {
			if j > 0 && k.T < c.Levels[j-1].T {
				return fmt.Errorf("%w: clip %d: levels out of order", ErrProgram, i)
			}
			if !validEase(k.Ease) {
				return fmt.Errorf("%w: clip %d: ease %q", ErrProgram, i, k.Ease)
			}
		}
	}
	return nil
}

// Player renders a Program one frame at a time. It satisfies the feeder's
// frame source, so a show replaces a single pattern plan.
type Player struct {
	State PlayerState

	prog Program
	dt   time.Duration
	post pattern.Post

	idx  int
	now  time.Duration // position within the current clip
	cur  *pattern.Runner
	next *pattern.Runner

	a, b, out pattern.Frame
}

// NewPlayer advances dt per frame and shapes every mixed frame with post.
func NewPlayer(dt time.Duration, post pattern.Post) *Player {
	return &Player{State: Idle, dt: dt, post: post}
}

// Load replaces the program and rewinds to its first clip.
func (p *Player) Load(prog Program) error {
	if err := prog.Validate(); err != nil {
		return err
	}
	p.prog = prog
	p.rewind()
	return nil
}

func (p *Player) rewind() {
	p.State = Idle
	p.idx, p.now = 0, 0
	p.cur, p.next = p.runner(0), nil
}

func (p *Player) runner(i int) *pattern.Runner {
	c := p.prog.Clips[i]
	k, _ := pattern.Parse(c.Pattern)
	return pattern.NewRunner(pattern.Plan{Kind: k, Level: byte(c.Level), Loop: true})
}

func (p *Player) Start() {
	if len(p.prog.Clips) > 0 && p.State == Idle {
		p.State = Running
		log.Info().Str("clip", p.prog.Clips[p.idx].Name).Msg("show started")
	}
}

func (p *Player) Pause() {
	if p.State == Running {
		p.State = Paused
	}
}

func (p *Player) Resume() {
	if p.State == Paused {
		p.State = Running
	}
}

// Stop rewinds to the first clip and leaves the player idle.
func (p *Player) Stop() {
	if len(p.prog.Clips) > 0 {
		p.rewind()
	}
}

// Clip reports the current clip index and name.
func (p *Player) Clip() (int, string) {
	if len(p.prog.Clips) == 0 {
		return -1, ""
	}
	return p.idx, p.prog.Clips[p.idx].Name
}

func (p *Player) nextIndex() int {
	n := p.idx + 1
	if n < len(p.prog.Clips) {
		return n
	}
	if p.prog.Loop {
		return 0
	}
	return -1
}

// Step fills f with the next frame of the show. A paused player repeats its
// last frame; an idle or finished one returns false.
func (p *Player) Step(f *pattern.Frame) bool {
	switch p.State {
	case Paused:
		*f = p.out
		return true
	case Running:
	default:
		return false
	}

	clip := p.prog.Clips[p.idx]
	if len(clip.Levels) > 0 {
		p.cur.SetLevel(clip.Levels.level(p.now.Seconds()))
	}
	p.cur.Step(&p.a)
	p.out = p.a

	fadeAt := clip.Duration - clip.Fade
	ni := p.nextIndex()
	if clip.Fade > 0 && p.now >= fadeAt && ni >= 0 {
		if p.next == nil {
			p.next = p.runner(ni)
		}
		nc := p.prog.Clips[ni]
		into := p.now - fadeAt
		if len(nc.Levels) > 0 {
			p.next.SetLevel(nc.Levels.level(into.Seconds()))
		}
		p.next.Step(&p.b)
		alpha := easeApply(clip.Ease, clamp01(float64(into)/float64(clip.Fade)))
		pattern.Mix(&p.out, &p.a, &p.b, alpha)
	}
	p.post.Apply(&p.out)
	*f = p.out

	p.now += p.dt
	if p.now >= clip.Duration {
		p.advance(ni)
	}
	return true
}

// advance moves to clip ni. The next clip keeps the time it already ran
// during the fade.
func (p *Player) advance(ni int) {
	if ni < 0 {
		p.State = Idle
		p.idx, p.now = 0, 0
		p.cur, p.next = p.runner(0), nil
		log.Info().Msg("show finished")
		return
	}
	faded := p.prog.Clips[p.idx].Fade
	p.idx = ni
	if p.next != nil {
		p.cur, p.next = p.next, nil
		p.now = faded
	} else {
		p.cur = p.runner(ni)
		p.now = 0
	}
	log.Debug().Int("clip", p.idx).Str("name", p.prog.Clips[p.idx].Name).Msg("clip")
}

// Open loads the show at path and starts it playing at dt per frame.
func Open(path string, dt time.Duration, post pattern.Post) (*SafePlayer, error) {
	prog, err := LoadProgram(path)
	if err != nil {
		return nil, err
	}
	p := NewPlayer(dt, post)
	if err := p.Load(prog); err != nil {
		return nil, err
	}
	p.Start()
	return NewSafePlayer(p), nil
}

// SafePlayer serializes control calls against a feeder stepping the player.
type SafePlayer struct {
	mu sync.Mutex
	P  *Player
}

func NewSafePlayer(p *Player) *SafePlayer {
	return &SafePlayer{P: p}
}

func (s *SafePlayer) With(f func(p *Player)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.P)
}

func (s *SafePlayer) Step(f *pattern.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.P.Step(f)
}
