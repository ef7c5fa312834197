package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is the in-process record store: a single shared bus that every
// participant connects to through its own Conn. Used by the test suite and by
// local solo play, where both "clients" live in one process anyway.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	subs    map[string]map[int]OnChange
	nextSub int
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string]any),
		subs: make(map[string]map[int]OnChange),
	}
}

// Connect returns a participant-scoped connection. The disconnect wills
// registered through it fire when the connection is closed.
func (m *Memory) Connect() *Conn {
	return &Conn{bus: m, wills: make(map[string]map[string]any)}
}

func (m *Memory) snapshotLocked(path string) []byte {
	doc, ok := m.docs[path]
	if !ok {
		return nil
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// notify collects the subscriber list under the lock and invokes callbacks
// after releasing it, so a handler may call back into the store.
func (m *Memory) notify(path string) {
	m.mu.Lock()
	raw := m.snapshotLocked(path)
	fns := make([]OnChange, 0, len(m.subs[path]))
	for _, fn := range m.subs[path] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

// Conn is one participant's handle on the shared Memory bus.
type Conn struct {
	bus *Memory

	mu      sync.Mutex
	wills   map[string]map[string]any
	stops   []func()
	closed  bool
	failing bool
}

var _ Store = (*Conn)(nil)

// SetFailing makes every subsequent mutation return an error without touching
// the shared state. Reads and subscriptions keep working, which is exactly
// the degraded mode the engine has to survive: a lagging view, never a crash.
func (c *Conn) SetFailing(fail bool) {
	c.mu.Lock()
	c.failing = fail
	c.mu.Unlock()
}

func (c *Conn) writeGate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.failing {
		return errors.New("injected write failure")
	}
	return nil
}

func (c *Conn) Create(ctx context.Context, collection string, value any) (string, error) {
	if err := c.writeGate(); err != nil {
		return "", err
	}
	doc, err := toDoc(value)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	path := collection + "/" + id

	c.bus.mu.Lock()
	c.bus.docs[path] = doc
	c.bus.mu.Unlock()
	c.bus.notify(path)
	return id, nil
}

func (c *Conn) Read(ctx context.Context, path string, out any) error {
	c.bus.mu.Lock()
	raw := c.bus.snapshotLocked(path)
	c.bus.mu.Unlock()
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (c *Conn) Write(ctx context.Context, path string, value any) error {
	if err := c.writeGate(); err != nil {
		return err
	}
	doc, err := toDoc(value)
	if err != nil {
		return err
	}
	c.bus.mu.Lock()
	c.bus.docs[path] = doc
	c.bus.mu.Unlock()
	c.bus.notify(path)
	return nil
}

func (c *Conn) Merge(ctx context.Context, path string, fields map[string]any) error {
	if err := c.writeGate(); err != nil {
		return err
	}
	c.bus.mu.Lock()
	doc, ok := c.bus.docs[path]
	if !ok {
		doc = make(map[string]any)
		c.bus.docs[path] = doc
	}
	err := applyMerge(doc, fields)
	c.bus.mu.Unlock()
	if err != nil {
		return err
	}
	c.bus.notify(path)
	return nil
}

func (c *Conn) MergeIfAbsent(ctx context.Context, path, guardField string, fields map[string]any) (bool, error) {
	if err := c.writeGate(); err != nil {
		return false, err
	}
	c.bus.mu.Lock()
	doc, ok := c.bus.docs[path]
	if !ok {
		c.bus.mu.Unlock()
		return false, ErrNotFound
	}
	if fieldSet(doc, guardField) {
		c.bus.mu.Unlock()
		return false, nil
	}
	err := applyMerge(doc, fields)
	c.bus.mu.Unlock()
	if err != nil {
		return false, err
	}
	c.bus.notify(path)
	return true, nil
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn OnChange) (func(), error) {
	c.bus.mu.Lock()
	id := c.bus.nextSub
	c.bus.nextSub++
	if c.bus.subs[path] == nil {
		c.bus.subs[path] = make(map[int]OnChange)
	}
	c.bus.subs[path][id] = fn
	raw := c.bus.snapshotLocked(path)
	c.bus.mu.Unlock()

	// Initial snapshot, delivered outside the lock.
	fn(raw)

	stop := func() {
		c.bus.mu.Lock()
		delete(c.bus.subs[path], id)
		c.bus.mu.Unlock()
	}
	c.mu.Lock()
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
	context.AfterFunc(ctx, stop)
	return stop, nil
}

func (c *Conn) RegisterOnDisconnect(ctx context.Context, path string, fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.wills[path] == nil {
		c.wills[path] = make(map[string]any)
	}
	for k, v := range fields {
		c.wills[path][k] = v
	}
	return nil
}

func (c *Conn) List(ctx context.Context, collection string) ([]string, error) {
	prefix := collection + "/"
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	var ids []string
	for path := range c.bus.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if ok && !strings.Contains(rest, "/") {
			ids = append(ids, rest)
		}
	}
	return ids, nil
}

func (c *Conn) Delete(ctx context.Context, path string) error {
	if err := c.writeGate(); err != nil {
		return err
	}
	c.bus.mu.Lock()
	_, existed := c.bus.docs[path]
	delete(c.bus.docs, path)
	c.bus.mu.Unlock()
	if existed {
		c.bus.notify(path)
	}
	return nil
}

// Close drops the connection: subscriptions stop and the registered wills are
// applied, exactly like a real client losing its link.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stops := c.stops
	wills := c.wills
	c.wills = make(map[string]map[string]any)
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for path, fields := range wills {
		c.bus.mu.Lock()
		doc, ok := c.bus.docs[path]
		var err error
		if ok {
			err = applyMerge(doc, fields)
		}
		c.bus.mu.Unlock()
		if ok && err == nil {
			c.bus.notify(path)
		}
	}
	return nil
}
