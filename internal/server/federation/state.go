package federation

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const stateSize = 16

// StateStore hands out OAuth state values and accepts each one once,
// within ttl of issuing it.
type StateStore struct {
	mu     sync.Mutex
	states *lru.LRU[string, struct{}]
}

// NewStateStore keeps at most size pending states.
func NewStateStore(size int, ttl time.Duration) *StateStore {
	return &StateStore{
		states: lru.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (s *StateStore) Issue() (string, error) {
	state, err := common.MakeRandHexString(stateSize)
	if err != nil {
		return "", err
	}
	s.states.Add(state, struct{}{})
	return state, nil
}

// Consume reports whether state was issued, is unexpired and has not been
// consumed before.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states.Peek(state); !ok {
		return false
	}
	s.states.Remove(state)
	return true
}
