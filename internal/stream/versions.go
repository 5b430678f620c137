// internal/stream/versions.go
package stream

import (
	"fmt"
	"sync"
	"time"
)

// Version is one completed assistant response within a version group.
// Regenerating a reply appends a new version rather than replacing the
// old one, so the user can cycle between alternatives.
type Version struct {
	Content     string    `json:"content"`
	ChangeSetID string    `json:"changeSetId,omitempty"`
	Cancelled   bool      `json:"cancelled"`
	CreatedAt   time.Time `json:"createdAt"`
}

type versionGroup struct {
	id          string
	versions    []Version
	current     int
	autoRetried bool
	request     StartRequest
}

// record appends v unless an identical-content version already exists.
// The newest version becomes current.
func (g *versionGroup) record(v Version) {
	for i, existing := range g.versions {
		if existing.Content == v.Content {
			g.current = i
			return
		}
	}
	g.versions = append(g.versions, v)
	g.current = len(g.versions) - 1
}

// VersionRegistry tracks version groups independently of live streams,
// which are pruned shortly after they finish.
type VersionRegistry struct {
	mu     sync.RWMutex
	groups map[string]*versionGroup
}

func NewVersionRegistry() *VersionRegistry {
	return &VersionRegistry{groups: make(map[string]*versionGroup)}
}

func (r *VersionRegistry) group(id string) *versionGroup {
	g, ok := r.groups[id]
	if !ok {
		g = &versionGroup{id: id, current: -1}
		r.groups[id] = g
	}
	return g
}

// Record stores a completed version under groupID.
func (r *VersionRegistry) Record(groupID string, v Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group(groupID).record(v)
}

// Cycle moves the current version of a group forward or backward,
// wrapping at either end, and returns the version it landed on.
func (r *VersionRegistry) Cycle(groupID string, delta int) (Version, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok || len(g.versions) == 0 {
		return Version{}, 0, fmt.Errorf("version group %s has no versions", groupID)
	}
	n := len(g.versions)
	g.current = ((g.current+delta)%n + n) % n
	return g.versions[g.current], g.current, nil
}

// Current returns the current version of a group.
func (r *VersionRegistry) Current(groupID string) (Version, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok || g.current < 0 || g.current >= len(g.versions) {
		return Version{}, 0, false
	}
	return g.versions[g.current], g.current, true
}

// Versions returns a copy of all versions recorded for a group.
func (r *VersionRegistry) Versions(groupID string) []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]Version, len(g.versions))
	copy(out, g.versions)
	return out
}

// AttachChangeSet links a change-set to the version whose content
// matches. Change-sets are materialized after the stream finishes, so
// the version is recorded first and annotated here.
func (r *VersionRegistry) AttachChangeSet(groupID, content, changeSetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return
	}
	for i := range g.versions {
		if g.versions[i].Content == content {
			g.versions[i].ChangeSetID = changeSetID
			return
		}
	}
}

func (r *VersionRegistry) markAutoRetried(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(groupID)
	if g.autoRetried {
		return false
	}
	g.autoRetried = true
	return true
}

func (r *VersionRegistry) storeRequest(groupID string, req StartRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group(groupID).request = req
}

func (r *VersionRegistry) requestFor(groupID string) (StartRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return StartRequest{}, false
	}
	return g.request, true
}
