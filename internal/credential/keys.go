package credential

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key is a named HMAC secret.
type Key struct {
	ID     string
	Secret []byte
}

// KeyProvider supplies signing keys.  Implementations must be safe for
// concurrent use.
type KeyProvider interface {
	// ActiveKey returns the key new credentials are signed with.
	ActiveKey() (Key, error)
	// Lookup returns a retained key by id.
	Lookup(id string) (Key, bool)
	// Keys returns every retained key, active key first.
	Keys() []Key
}

// KeyRing is an in-memory KeyProvider with explicit rotation.
type KeyRing struct {
	mu     sync.RWMutex
	active string
	keys   map[string]Key
}

// NewKeyRing builds a ring from keys, marking activeID as the signing key.
func NewKeyRing(activeID string, keys ...Key) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	r := &KeyRing{keys: make(map[string]Key, len(keys))}
	for _, k := range keys {
		if k.ID == "" || len(k.Secret) == 0 {
			return nil, fmt.Errorf("credential: key %q is empty", k.ID)
		}
		r.keys[k.ID] = k
	}
	if _, ok := r.keys[activeID]; !ok {
		return nil, fmt.Errorf("credential: active key %q not in ring", activeID)
	}
	r.active = activeID
	return r, nil
}

// ParseKeyRing parses "kid:secret,kid2:secret2" as used in configuration.
func ParseKeyRing(spec, activeID string) (*KeyRing, error) {
	var keys []Key
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("credential: malformed key entry %q", part)
		}
		keys = append(keys, Key{ID: strings.TrimSpace(id), Secret: []byte(strings.TrimSpace(secret))})
	}
	if activeID == "" && len(keys) > 0 {
		activeID = keys[0].ID
	}
	return NewKeyRing(activeID, keys...)
}

// Rotate adds k and makes it the active key.  Previous keys stay
// available for verification until Retire is called.
func (r *KeyRing) Rotate(k Key) error {
	if k.ID == "" || len(k.Secret) == 0 {
		return fmt.Errorf("credential: key %q is empty", k.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[k.ID] = k
	r.active = k.ID
	return nil
}

// Retire drops a non-active key.
func (r *KeyRing) Retire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.active {
		return fmt.Errorf("credential: cannot retire active key %q", id)
	}
	delete(r.keys, id)
	return nil
}

func (r *KeyRing) ActiveKey() (Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[r.active]
	if !ok {
		return Key{}, ErrNoKeys
	}
	return k, nil
}

func (r *KeyRing) Lookup(id string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[id]
	return k, ok
}

func (r *KeyRing) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.keys))
	for id, k := range r.keys {
		if id != r.active {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if k, ok := r.keys[r.active]; ok {
		out = append([]Key{k}, out...)
	}
	return out
}
