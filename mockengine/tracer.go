package mockengine

import (
	"sort"
	"sync"

	"github.com/wippyai/testopt/abi"
)

// Span is the engine-side record of an entity or a free-standing span
type Span struct {
	StringTags map[string]string
	NumberTags map[string]float64
	Kind       abi.Entity
	Operation  string
	Name       string
	Start      abi.UnixTime
	Finish     abi.UnixTime
	ID         abi.ID
	TraceID    abi.ID
	ParentID   abi.ID
	Finished   bool
}

func newSpan(kind abi.Entity, op string) *Span {
	return &Span{
		Kind:       kind,
		Operation:  op,
		StringTags: make(map[string]string),
		NumberTags: make(map[string]float64),
	}
}

func (s *Span) clone() Span {
	c := *s
	c.StringTags = make(map[string]string, len(s.StringTags))
	for k, v := range s.StringTags {
		c.StringTags[k] = v
	}
	c.NumberTags = make(map[string]float64, len(s.NumberTags))
	for k, v := range s.NumberTags {
		c.NumberTags[k] = v
	}
	return c
}

// tracer records spans while the mock tracer is enabled
type tracer struct {
	open     map[abi.ID]*Span
	finished []*Span
	enabled  bool
	mu       sync.Mutex
}

func newTracer() *tracer {
	return &tracer{open: make(map[abi.ID]*Span)}
}

func (t *tracer) setEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *tracer) started(s *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		t.open[s.ID] = s
	}
}

func (t *tracer) finish(s *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	delete(t.open, s.ID)
	t.finished = append(t.finished, s)
}

func (t *tracer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[abi.ID]*Span)
	t.finished = nil
}

// snapshot copies spans sorted by id
func (t *tracer) snapshot(finished bool) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var src []*Span
	if finished {
		src = t.finished
	} else {
		for _, s := range t.open {
			src = append(src, s)
		}
	}
	out := make([]Span, len(src))
	for i, s := range src {
		out[i] = s.clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
