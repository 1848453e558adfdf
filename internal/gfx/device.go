// Package gfx is a stand-in graphics device. It hands out numbered handles
// for GPU resources and tracks which are still alive, so resource lifetimes
// tied to arenas can be observed without a GPU.
package gfx

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/fbxview/arena"
)

// Kind is the type of resource a handle refers to.
type Kind uint8

const (
	KindBuffer Kind = iota + 1
	KindImage
	KindShader
	KindPipeline
	KindPass
)

var kindNames = map[Kind]string{
	KindBuffer:   "buffer",
	KindImage:    "image",
	KindShader:   "shader",
	KindPipeline: "pipeline",
	KindPass:     "pass",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Handle names a device resource. The zero Handle is invalid. Handles are
// plain values and may be stored in arena memory.
type Handle struct {
	ID   uint32
	Kind Kind
}

func (h Handle) Valid() bool { return h.ID != 0 }

// ErrUnknownHandle is returned when destroying a handle the device does not
// know about, usually because it was already destroyed.
var ErrUnknownHandle = errors.New("gfx: unknown handle")

type resource struct {
	bytes int
}

// Device issues handles and accounts for the memory behind them.
type Device struct {
	mu    sync.Mutex
	log   logr.Logger
	next  uint32
	live  map[Handle]resource
	bytes int
}

func NewDevice(log logr.Logger) *Device {
	return &Device{log: log, live: make(map[Handle]resource)}
}

// Make creates a resource of the given kind backed by bytes of device memory.
func (d *Device) Make(kind Kind, bytes int) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := Handle{ID: d.next, Kind: kind}
	d.live[h] = resource{bytes: bytes}
	d.bytes += bytes
	d.log.V(2).Info("make", "kind", kind, "id", h.ID, "bytes", bytes)
	return h
}

// Destroy releases a resource.
func (d *Device) Destroy(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.live[h]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "destroy %s %d", h.Kind, h.ID)
	}
	delete(d.live, h)
	d.bytes -= r.bytes
	d.log.V(2).Info("destroy", "kind", h.Kind, "id", h.ID)
	return nil
}

// Alive reports whether h has been made and not destroyed.
func (d *Device) Alive(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[h]
	return ok
}

// Live returns the number of live resources of a kind, or of every kind
// when kind is 0.
func (d *Device) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kind == 0 {
		return len(d.live)
	}
	n := 0
	for h := range d.live {
		if h.Kind == kind {
			n++
		}
	}
	return n
}

// Bytes returns the device memory held by live resources.
func (d *Device) Bytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytes
}

// DeferDestroy arranges for h to be destroyed when a is freed. The returned
// pointer identifies the registration: pass it to arena.CancelValue to
// destroy the resource early (run set) or to keep it past the arena.
func (d *Device) DeferDestroy(a *arena.Arena, h Handle) (*Handle, error) {
	return arena.DeferValue(a, d.destroyDeferred, &h)
}

func (d *Device) destroyDeferred(h *Handle) {
	if err := d.Destroy(*h); err != nil {
		d.log.Error(err, "deferred destroy")
	}
}

// MakeOwned creates a resource whose lifetime is bound to a. If the
// registration fails the resource is destroyed again and the error returned.
func (d *Device) MakeOwned(a *arena.Arena, kind Kind, bytes int) (Handle, *Handle, error) {
	h := d.Make(kind, bytes)
	p, err := d.DeferDestroy(a, h)
	if err != nil {
		_ = d.Destroy(h)
		return Handle{}, nil, errors.Wrapf(err, "bind %s to arena", kind)
	}
	return h, p, nil
}
