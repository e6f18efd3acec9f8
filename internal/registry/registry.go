// Package registry gives typed access to the persisted list of monitored groups.
//
// Every operation reads the full collection from the key/value store and, when it
// mutates, writes the full collection back. Nothing is cached between calls, so
// the store's last-write-wins semantics are the only concurrency control.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupwatch/internal/model"
	"groupwatch/internal/storage"
)

// Persisted keys.
const (
	KeyGroups     = "monitoredGroups"
	KeyMonitoring = "monitoringActive"
)

var (
	// ErrGroupNotFound is returned when no group has the requested id.
	ErrGroupNotFound = errors.New("group not found")
	// ErrDuplicateURL is returned when a group with the same url already exists.
	ErrDuplicateURL = errors.New("this group is already being monitored")
	// ErrDuplicateID is returned by Replace when two groups share an id.
	ErrDuplicateID = errors.New("duplicate group id")
)

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Registry is the single writer of group records.
type Registry struct {
	kv    storage.KV
	newID func() string
}

// New creates a Registry over kv.
func New(kv storage.KV) *Registry {
	return &Registry{kv: kv, newID: uuid.NewString}
}

// Load returns all groups. A missing key yields an empty, non-nil slice.
func (r *Registry) Load(ctx context.Context) ([]model.Group, error) {
	raw, err := r.kv.Get(ctx, KeyGroups)
	if errors.Is(err, storage.ErrNotFound) {
		return []model.Group{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load groups", Err: err}
	}

	groups := []model.Group{}
	if len(raw) == 0 {
		return groups, nil
	}
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, &StorageError{Op: "decode groups", Err: err}
	}
	if groups == nil {
		groups = []model.Group{}
	}
	return groups, nil
}

// Save overwrites the whole collection.
func (r *Registry) Save(ctx context.Context, groups []model.Group) error {
	if groups == nil {
		groups = []model.Group{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	if err := r.kv.Set(ctx, KeyGroups, raw); err != nil {
		return &StorageError{Op: "save groups", Err: err}
	}
	return nil
}

// FindByID returns a copy of the group with the given id.
func (r *Registry) FindByID(ctx context.Context, id string) (*model.Group, error) {
	groups, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(groups, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g := groups[i]
	return &g, nil
}

// Upsert replaces the stored group that has g.ID. Unknown ids are a no-op.
func (r *Registry) Upsert(ctx context.Context, g model.Group) error {
	groups, err := r.Load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(groups, g.ID)
	if i < 0 {
		return nil
	}
	groups[i] = g
	return r.Save(ctx, groups)
}

// Add validates g, assigns a fresh id and appends it. A group whose url is
// already monitored is rejected before anything is written.
func (r *Registry) Add(ctx context.Context, g model.Group) (model.Group, error) {
	g.Normalize()
	if err := g.Validate(); err != nil {
		return model.Group{}, err
	}

	groups, err := r.Load(ctx)
	if err != nil {
		return model.Group{}, err
	}
	for _, existing := range groups {
		if existing.URL == g.URL {
			return model.Group{}, fmt.Errorf("%w: %s", ErrDuplicateURL, g.URL)
		}
	}

	g.ID = r.newID()
	g.Active = true
	g.LastChecked = nil
	g.PostCount = 0

	groups = append(groups, g)
	if err := r.Save(ctx, groups); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// Remove deletes the group with the given id.
func (r *Registry) Remove(ctx context.Context, id string) error {
	groups, err := r.Load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(groups, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	groups = append(groups[:i], groups[i+1:]...)
	return r.Save(ctx, groups)
}

// Update applies fn to the stored group with the given id and saves the result.
// fn receives a copy; returning an error aborts without writing.
func (r *Registry) Update(ctx context.Context, id string, fn func(g *model.Group) error) (model.Group, error) {
	groups, err := r.Load(ctx)
	if err != nil {
		return model.Group{}, err
	}
	i := indexOf(groups, id)
	if i < 0 {
		return model.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}

	g := groups[i]
	if err := fn(&g); err != nil {
		return model.Group{}, err
	}
	g.ID = id
	g.Normalize()
	if err := g.Validate(); err != nil {
		return model.Group{}, err
	}
	for j, other := range groups {
		if j != i && other.URL == g.URL {
			return model.Group{}, fmt.Errorf("%w: %s", ErrDuplicateURL, g.URL)
		}
	}

	groups[i] = g
	if err := r.Save(ctx, groups); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// SetActive toggles whether scheduling considers the group.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.Update(ctx, id, func(g *model.Group) error {
		g.Active = active
		return nil
	})
	return err
}

// Replace validates and stores a whole new collection, as sent by an editor
// that owns the full list. Groups without an id receive one. For ids already
// stored, lastChecked keeps the later of both values and postCount keeps the
// stored value; only new groups take them from the caller.
func (r *Registry) Replace(ctx context.Context, groups []model.Group) error {
	current, err := r.Load(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]model.Group, len(current))
	for _, g := range current {
		stored[g.ID] = g
	}

	ids := make(map[string]struct{}, len(groups))
	urls := make(map[string]struct{}, len(groups))
	out := make([]model.Group, 0, len(groups))

	for _, g := range groups {
		g.Normalize()
		if err := g.Validate(); err != nil {
			return err
		}
		if g.ID == "" {
			g.ID = r.newID()
		}
		if _, ok := ids[g.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, g.ID)
		}
		if _, ok := urls[g.URL]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateURL, g.URL)
		}
		if prev, ok := stored[g.ID]; ok {
			incoming := g.LastChecked
			g.LastChecked = prev.LastChecked
			if incoming != nil {
				g.AdvanceCheckpoint(time.UnixMilli(*incoming))
			}
			g.PostCount = prev.PostCount
		}
		ids[g.ID] = struct{}{}
		urls[g.URL] = struct{}{}
		out = append(out, g)
	}
	return r.Save(ctx, out)
}

// MonitoringActive reports the persisted monitoring switch. Missing means false.
func (r *Registry) MonitoringActive(ctx context.Context) (bool, error) {
	raw, err := r.kv.Get(ctx, KeyMonitoring)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "load monitoring flag", Err: err}
	}
	var active bool
	if err := json.Unmarshal(raw, &active); err != nil {
		return false, &StorageError{Op: "decode monitoring flag", Err: err}
	}
	return active, nil
}

// SetMonitoringActive persists the monitoring switch.
func (r *Registry) SetMonitoringActive(ctx context.Context, active bool) error {
	raw, _ := json.Marshal(active)
	if err := r.kv.Set(ctx, KeyMonitoring, raw); err != nil {
		return &StorageError{Op: "save monitoring flag", Err: err}
	}
	return nil
}

func indexOf(groups []model.Group, id string) int {
	for i := range groups {
		if groups[i].ID == id {
			return i
		}
	}
	return -1
}
