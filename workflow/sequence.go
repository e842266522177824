package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/songzhibin97/gkit/generator"
)

// idPrefix is the prefix of allocated workflow ids.
const idPrefix = "wf"

// Sequence is a monotonically increasing generator.Generator. The store
// advances it past every id it loads so reloaded stores never collide.
type Sequence struct {
	mu   sync.Mutex
	last uint64
}

var _ generator.Generator = (*Sequence)(nil)

// NewSequence returns a sequence whose next id is floor+1.
func NewSequence(floor uint64) *Sequence {
	return &Sequence{last: floor}
}

// NextID returns the next id.
func (s *Sequence) NextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last, nil
}

// Advance moves the floor up to at least floor. It never moves backwards.
func (s *Sequence) Advance(floor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if floor > s.last {
		s.last = floor
	}
}

// Last returns the most recently issued id or floor.
func (s *Sequence) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// advancer is implemented by generators that can be moved past loaded ids.
type advancer interface {
	Advance(floor uint64)
}

// FormatID renders a numeric id as "wf_001".
func FormatID(n uint64) string {
	return fmt.Sprintf("%s_%03d", idPrefix, n)
}

// ParseID extracts the numeric suffix of an id of the form "<prefix>_<digits>".
func ParseID(id string) (uint64, bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
