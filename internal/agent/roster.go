package agent

import (
	"errors"
	"sort"
	"sync"

	"github.com/crewline/arbiter/pkg/models"
)

// Roster errors.
var (
	// ErrAgentExists indicates an agent with that ID is already registered.
	ErrAgentExists = errors.New("agent already registered")
	// ErrAgentNotFound indicates the requested agent is not registered.
	ErrAgentNotFound = errors.New("agent not registered")
)

// Roster is the capability registry. Proxies register once at startup with
// their declared capability set; matching reads the declarations, it never
// asks a proxy at call time. The roster also tracks per-agent in-flight
// load so assignment can prefer idle agents.
type Roster struct {
	// proxies maps agent IDs to registered proxies.
	proxies map[string]Proxy
	// load maps agent IDs to in-flight invocation counts.
	load map[string]int
	// order preserves registration order for deterministic tie-breaks.
	order []string
	// onRelease, when set, is invoked after every load release. The engine
	// hooks this to re-run its assignment sweep as capacity frees up.
	onRelease func()
	// mu protects all fields.
	mu sync.RWMutex
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		proxies: make(map[string]Proxy),
		load:    make(map[string]int),
	}
}

// Register adds a proxy to the roster.
func (r *Roster) Register(p Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proxies[p.ID()]; ok {
		return ErrAgentExists
	}
	r.proxies[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

// Get retrieves a registered proxy by ID.
func (r *Roster) Get(agentID string) (Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[agentID]
	return p, ok
}

// Agents returns the registry view of every registered proxy, in
// registration order.
func (r *Roster) Agents() []models.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]models.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, Info(r.proxies[id]))
	}
	return infos
}

// Count returns the number of registered proxies.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}

// Acquire increments an agent's in-flight load.
func (r *Roster) Acquire(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load[agentID]++
}

// Release decrements an agent's in-flight load and fires the release hook.
func (r *Roster) Release(agentID string) {
	r.mu.Lock()
	if r.load[agentID] > 0 {
		r.load[agentID]--
	}
	hook := r.onRelease
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// OnRelease registers a callback invoked after every Release. The callback
// runs outside the roster lock; it must not block.
func (r *Roster) OnRelease(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRelease = fn
}

// Load returns an agent's current in-flight load.
func (r *Roster) Load(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load[agentID]
}

// Match returns the proxies of the given role whose declared capabilities
// cover requires, ordered idle first, then lowest load, then registration
// order. Exclude drops specific agent IDs from consideration (a validator
// must not judge its own work).
func (r *Roster) Match(role models.AgentRole, requires []string, exclude ...string) []Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	type candidate struct {
		proxy Proxy
		load  int
	}
	var eligible []candidate
	for _, id := range r.order {
		if excluded[id] {
			continue
		}
		p := r.proxies[id]
		if p.Role() != role {
			continue
		}
		info := Info(p)
		if !info.HasCapabilities(requires) {
			continue
		}
		eligible = append(eligible, candidate{proxy: p, load: r.load[id]})
	}

	// Stable sort keeps registration order within equal loads; idle-first
	// falls out of ascending load.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].load < eligible[j].load
	})

	matched := make([]Proxy, len(eligible))
	for i, c := range eligible {
		matched[i] = c.proxy
	}
	return matched
}
