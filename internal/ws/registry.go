package ws

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ClientInfo is the metadata the registry keeps for a live connection.
type ClientInfo struct {
	ID          string    `json:"client_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Channel     string    `json:"channel"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RegistrationResult describes the outcome of Register. When the client id
// was already in use, Replaced holds the evicted connection and ReplacedInfo
// its former metadata; the evicted connection is no longer a member of any
// channel when Register returns.
type RegistrationResult struct {
	Info         ClientInfo
	Replaced     *Client
	ReplacedInfo ClientInfo
}

// Registry tracks live connections and their channel membership. The set of
// channel names is fixed at construction. All mutations take the write lock,
// so a reader never observes a connection in zero or two channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[*Client]*ClientInfo
	byID     map[string]*Client
	order    []string
}

// NewRegistry creates a registry for the given channel universe.
func NewRegistry(channelNames []string) *Registry {
	r := &Registry{
		channels: make(map[string]map[*Client]struct{}, len(channelNames)),
		clients:  make(map[*Client]*ClientInfo),
		byID:     make(map[string]*Client),
	}
	for _, name := range channelNames {
		if _, ok := r.channels[name]; ok {
			continue
		}
		r.channels[name] = make(map[*Client]struct{})
		r.order = append(r.order, name)
	}
	return r
}

// Register adds c to channel and stores its metadata. Registering an id that
// is already in use replaces the previous connection: it is removed from its
// channel and from the client table before the new entry is inserted.
func (r *Registry) Register(c *Client, id, name, role, channel string) (RegistrationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return RegistrationResult{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if _, exists := r.clients[c]; exists {
		return RegistrationResult{}, fmt.Errorf("%w: connection already registered", ErrDuplicateClient)
	}

	var res RegistrationResult
	if prev, ok := r.byID[id]; ok {
		res.Replaced = prev
		res.ReplacedInfo = *r.clients[prev]
		r.removeLocked(prev)
	}

	info := &ClientInfo{
		ID:          id,
		Name:        name,
		Role:        role,
		Channel:     channel,
		ConnectedAt: time.Now().UTC(),
	}
	r.clients[c] = info
	r.byID[id] = c
	members[c] = struct{}{}

	res.Info = *info
	return res, nil
}

// Unregister removes c from the client table and from its current channel.
func (r *Registry) Unregister(c *Client) (ClientInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.clients[c]
	if !ok {
		return ClientInfo{}, ErrNotFound
	}
	removed := *info
	r.removeLocked(c)
	return removed, nil
}

func (r *Registry) removeLocked(c *Client) {
	info := r.clients[c]
	delete(r.channels[info.Channel], c)
	delete(r.clients, c)
	if r.byID[info.ID] == c {
		delete(r.byID, info.ID)
	}
}

// MoveChannel moves c from one channel to another under a single lock.
func (r *Registry) MoveChannel(c *Client, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.channels[to]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, to)
	}
	info, ok := r.clients[c]
	if !ok {
		return ErrNotFound
	}
	if info.Channel != from {
		return fmt.Errorf("%w: client %s is in %q, not %q", ErrNotFound, info.ID, info.Channel, from)
	}

	delete(r.channels[from], c)
	target[c] = struct{}{}
	info.Channel = to
	return nil
}

// Info returns the metadata recorded for c.
func (r *Registry) Info(c *Client) (ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.clients[c]
	if !ok {
		return ClientInfo{}, false
	}
	return *info, true
}

// Lookup returns the live connection registered under id.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// HasChannel reports whether name belongs to the channel universe.
func (r *Registry) HasChannel(name string) bool {
	_, ok := r.channels[name]
	return ok
}

// Channels returns the channel universe in configuration order.
func (r *Registry) Channels() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Members returns a snapshot of the connections currently in channel.
func (r *Registry) Members(channel string) ([]*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out, nil
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// ByRoles returns the connections whose role is in roles. The pseudo-role
// "all" matches every connection.
func (r *Registry) ByRoles(roles []string) []*Client {
	want := make(map[string]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for c, info := range r.clients {
		if want["all"] || want[info.Role] {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns the number of members per channel.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.channels))
	for name, members := range r.channels {
		out[name] = len(members)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns every registered client's metadata sorted by id.
func (r *Registry) Snapshot() []ClientInfo {
	r.mu.RLock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, info := range r.clients {
		out = append(out, *info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
