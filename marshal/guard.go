package marshal

import (
	"sync"

	"github.com/wippyai/testopt/errors"
)

// Guard releases an engine-owned buffer exactly once
type Guard struct {
	release func() error
	err     error
	once    sync.Once
	done    bool
	mu      sync.Mutex
}

func NewGuard(release func() error) *Guard {
	return &Guard{release: release}
}

// Release runs the release function on the first call. Later calls do not
// run it again and report a double release.
func (g *Guard) Release() error {
	ran := false
	g.once.Do(func() {
		ran = true
		if g.release != nil {
			g.err = g.release()
		}
		g.mu.Lock()
		g.done = true
		g.mu.Unlock()
	})
	if !ran {
		return errors.New(errors.PhaseCall, errors.KindDoubleRelease).
			Detail("engine buffer already released").
			Build()
	}
	return g.err
}

// Released reports whether Release has run
func (g *Guard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}
