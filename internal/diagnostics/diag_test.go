package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/rx"
	"github.com/coreman2200/bamtile/internal/tile"
)

func TestProfileFlagsOverrun(t *testing.T) {
	d := Profile(bam.DefaultTiming, 40*time.Microsecond)
	assert.Equal(t, Err, d.Severity)
	assert.Equal(t, CodeOverrun, d.Code)

	d = Profile(bam.DefaultTiming, 17*time.Microsecond)
	assert.Equal(t, Info, d.Severity)
	assert.Equal(t, int64(17000), d.Evidence["worst_ns"])
}

func TestWatch(t *testing.T) {
	prev := tile.Stats{Snapshot: rx.Snapshot{Bytes: 100, Frames: 1}}
	cur := tile.Stats{Snapshot: rx.Snapshot{Bytes: 1000, Frames: 1, Overwritten: 3, Resyncs: 1}}
	ds := Watch(prev, cur)
	require.Len(t, ds, 3)
	assert.Equal(t, CodeOverwrite, ds[0].Code)
	assert.Equal(t, uint64(3), ds[0].Evidence["lost"])
	assert.Equal(t, CodeResync, ds[1].Code)
	assert.Equal(t, CodeStalled, ds[2].Code)

	assert.Empty(t, Watch(cur, cur))
	Log(ds[0])
}
