package monitor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// loop is the handle of a running monitoring goroutine
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the monitoring state shared between campaigns: the running
// loops, the checks in flight and the last alert time per channel.
type Registry struct {
	mu       sync.Mutex
	loops    map[string]*loop
	inFlight map[string]struct{}
	lastSent map[string]time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		loops:    make(map[string]*loop),
		inFlight: make(map[string]struct{}),
		lastSent: make(map[string]time.Time),
	}
}

// register adds a loop unless the campaign is already monitored
func (r *Registry) register(campaignID string, l *loop) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loops[campaignID]; ok {
		return false
	}
	r.loops[campaignID] = l
	return true
}

// remove detaches and returns the loop of a campaign
func (r *Registry) remove(campaignID string) *loop {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.loops[campaignID]
	delete(r.loops, campaignID)
	return l
}

// removeAll detaches every loop
func (r *Registry) removeAll() map[string]*loop {
	r.mu.Lock()
	defer r.mu.Unlock()
	loops := r.loops
	r.loops = make(map[string]*loop)
	return loops
}

// deregister removes l if it is still the registered loop of the campaign
func (r *Registry) deregister(campaignID string, l *loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loops[campaignID] == l {
		delete(r.loops, campaignID)
	}
}

// IsMonitoring reports whether a loop is registered for the campaign
func (r *Registry) IsMonitoring(campaignID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[campaignID]
	return ok
}

// Count returns the number of monitored campaigns
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

// Campaigns returns the monitored campaign IDs in sorted order
func (r *Registry) Campaigns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// tryBegin marks a check in flight. It fails when one already is.
func (r *Registry) tryBegin(campaignID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[campaignID]; ok {
		return false
	}
	r.inFlight[campaignID] = struct{}{}
	return true
}

func (r *Registry) end(campaignID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, campaignID)
}

// AllowAlert reports whether the channel may receive an alert at now and,
// if so, records now as its last dispatch
func (r *Registry) AllowAlert(channelKey string, now time.Time, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastSent[channelKey]; ok && now.Sub(last) < cooldown {
		return false
	}
	r.lastSent[channelKey] = now
	return true
}

// channelKey identifies a salon notification channel for cooldown tracking
func channelKey(salonID, channelID string) string {
	return salonID + ":" + channelID
}
