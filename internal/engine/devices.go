package engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/thingengine/internal/store"
)

// HasDevice reports whether a device with id is registered.
func (e *Engine) HasDevice(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.devices[id]
	return ok
}

// GetDevice returns a copy of the registered device with id.
func (e *Engine) GetDevice(id string) (*Device, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.clone(), nil
}

// Devices returns every registered device in registration order.
func (e *Engine) Devices() []*Device {
	e.mu.RLock()
	out := make([]*Device, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, d.clone())
	}
	e.mu.RUnlock()

	sortBySeq(out, func(d *Device) int64 { return d.seq }, func(d *Device) string { return d.ID })
	return out
}

// LoadOneDevice validates cfg and queues the device for registration.
// The returned device carries the id it will be registered under.
//
// Engine peers marked own with a known tier get the fixed id
// OwnDeviceID(tier). Other devices use their "uniqueId" when present and
// a generated "<kind>-<id>" otherwise.
//
// An id that is registered or already queued fails with ErrDeviceExists.
func (e *Engine) LoadOneDevice(cfg DeviceConfig) (*Device, error) {
	d, err := e.newDevice(cfg)
	if err != nil {
		return nil, err
	}
	if err := e.reserveDevice(d.ID); err != nil {
		return nil, err
	}
	// The queued device belongs to the run loop from here on.
	out := d.clone()
	if err := e.enqueue(Job{Kind: JobLoadDevice, Device: d}); err != nil {
		e.releaseDevice(d.ID)
		return nil, err
	}
	e.logger.Debug("device queued", "id", d.ID, "kind", d.Kind)
	return out, nil
}

func (e *Engine) reserveDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	if _, ok := e.pending[id]; ok {
		return fmt.Errorf("%w: %s (queued)", ErrDeviceExists, id)
	}
	e.pending[id] = struct{}{}
	return nil
}

func (e *Engine) newDevice(cfg DeviceConfig) (*Device, error) {
	kind, _ := cfg["kind"].(string)
	if kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrInvalidDevice)
	}

	d := &Device{Kind: kind, Config: maps.Clone(cfg)}
	if s, ok := cfg["tier"].(string); ok {
		t, err := ParseTier(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
		}
		d.Tier = t
	}
	d.Own, _ = cfg["own"].(bool)

	switch {
	case kind == KindEngine && d.Own && d.Tier != "":
		d.ID = OwnDeviceID(d.Tier)
	default:
		if id, ok := cfg["uniqueId"].(string); ok && id != "" {
			d.ID = id
		} else {
			d.ID = kind + "-" + e.ids.Generate()
		}
	}
	return d, nil
}

func (e *Engine) releaseDevice(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// registerDevice persists and registers d. Runs on the Run goroutine.
func (e *Engine) registerDevice(ctx context.Context, s *store.Store, d *Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, d.ID)

	if _, ok := e.devices[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}

	d.seq = e.clock.Next()
	err := s.PutDevice(ctx, store.DeviceRecord{
		ID:     d.ID,
		Kind:   d.Kind,
		Tier:   string(d.Tier),
		Config: d.Config,
		Seq:    d.seq,
	})
	if err != nil {
		return err
	}
	e.devices[d.ID] = d
	e.logger.Info("device added", "id", d.ID, "kind", d.Kind)
	return nil
}

// RemoveDevice unregisters d and deletes it from the database.
func (e *Engine) RemoveDevice(ctx context.Context, d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrDeviceNotFound)
	}
	s, err := e.openStore()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.devices[d.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, d.ID)
	}
	if _, err := s.DeleteDevice(ctx, d.ID); err != nil {
		return err
	}
	delete(e.devices, d.ID)
	e.logger.Info("device removed", "id", d.ID)
	return nil
}

func deviceFromRecord(rec store.DeviceRecord) *Device {
	d := &Device{
		ID:     rec.ID,
		Kind:   rec.Kind,
		Tier:   Tier(rec.Tier),
		Config: DeviceConfig(rec.Config),
		seq:    rec.Seq,
	}
	d.Own, _ = rec.Config["own"].(bool)
	return d
}

func (d *Device) clone() *Device {
	c := *d
	c.Config = maps.Clone(d.Config)
	return &c
}
