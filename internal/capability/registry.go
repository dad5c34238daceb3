package capability

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves external capability references by address at call time,
// so mock venues and tokens can be substituted for deterministic tests.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[common.Address]Token
	routers map[common.Address]Router
}

func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[common.Address]Token, 8),
		routers: make(map[common.Address]Router, 4),
	}
}

func (r *Registry) RegisterToken(addr common.Address, t Token) {
	r.mu.Lock()
	r.tokens[addr] = t
	r.mu.Unlock()
}

func (r *Registry) RegisterRouter(addr common.Address, rt Router) {
	r.mu.Lock()
	r.routers[addr] = rt
	r.mu.Unlock()
}

func (r *Registry) Token(addr common.Address) (Token, bool) {
	r.mu.RLock()
	t, ok := r.tokens[addr]
	r.mu.RUnlock()
	return t, ok
}

func (r *Registry) Router(addr common.Address) (Router, bool) {
	r.mu.RLock()
	rt, ok := r.routers[addr]
	r.mu.RUnlock()
	return rt, ok
}
