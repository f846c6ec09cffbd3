package blob

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// Object is fully materialized content exposed to consumers, e.g. served
// under /api/v1/objects/:id. It stays valid until revoked.
type Object struct {
	ID       string
	Name     string
	MimeType string

	content Content
}

// Size returns the object's length in bytes.
func (o *Object) Size() int64 { return o.content.Size() }

// Open returns a reader over the object's bytes.
func (o *Object) Open() (io.ReadCloser, error) { return o.content.Open() }

// ObjectTable owns every live Object. Controllers create objects in it and
// must revoke them before being discarded.
type ObjectTable struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{objects: make(map[string]*Object)}
}

// Create allocates a new object over c.
func (t *ObjectTable) Create(name, mimeType string, c Content) *Object {
	obj := &Object{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		content:  c,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[obj.ID] = obj
	return obj
}

// Revoke releases the object. Revoking an unknown id is a no-op.
func (t *ObjectTable) Revoke(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, id)
}

func (t *ObjectTable) Lookup(id string) (*Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.objects[id]
	return obj, ok
}

// Len returns the number of live objects.
func (t *ObjectTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}
