package profile

import "sync"

// Cache is the in-process profile store. Profiles are upserted from event
// payloads and read during rule matching; they are never deleted here.
type Cache struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewCache() *Cache {
	return &Cache{
		profiles: make(map[string]*Profile),
	}
}

// Get returns a copy of the profile for userID, or false if unknown.
func (c *Cache) Get(userID string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Upsert stores or replaces the profile for p.ID.
func (c *Cache) Upsert(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := p
	c.profiles[p.ID] = &cp
}

// SetCohort re-tags the cached cohort for userID. Returns false if the user
// is unknown.
func (c *Cache) SetCohort(userID, cohort string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.profiles[userID]
	if !ok {
		return false
	}
	p.Cohort = cohort
	return true
}

// SetField mutates a named field on the cached profile. Returns false if the
// user is unknown or the field name is not mutable.
func (c *Cache) SetField(userID, field string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.profiles[userID]
	if !ok {
		return false
	}
	return p.SetField(field, value)
}

// All returns copies of every cached profile. Used by scheduled-rule sweeps.
func (c *Cache) All() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, *p)
	}
	return out
}

// Len reports the number of cached profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
