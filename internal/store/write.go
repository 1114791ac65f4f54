package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// DeviceRecord is a persisted device.
type DeviceRecord struct {
	ID     string
	Kind   string
	Tier   string
	Config map[string]any
	Seq    int64
}

// AppRecord is a persisted application definition.
type AppRecord struct {
	ID         string
	Tier       string
	Name       string
	Definition json.RawMessage
	Seq        int64
}

// FeedRecord is a persisted messaging feed.
type FeedRecord struct {
	ID      string
	Contact string
	Seq     int64
}

// PutDevice inserts or replaces a device record.
// Replacing keeps the row's original seq so list order is stable.
func (s *Store) PutDevice(ctx context.Context, d DeviceRecord) error {
	cfg, err := marshalConfig(d.Config)
	if err != nil {
		return fmt.Errorf("put device %s: %w", d.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (id, kind, tier, config, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			tier = excluded.tier,
			config = excluded.config
	`, d.ID, d.Kind, d.Tier, cfg, d.Seq)
	if err != nil {
		return fmt.Errorf("put device %s: %w", d.ID, err)
	}
	return nil
}

// DeleteDevice removes a device record. It reports whether a row existed.
func (s *Store) DeleteDevice(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", id, err)
	}
	return n > 0, nil
}

// PutApp inserts or replaces an app record.
func (s *Store) PutApp(ctx context.Context, a AppRecord) error {
	def, err := compactJSON(a.Definition)
	if err != nil {
		return fmt.Errorf("put app %s: %w", a.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO apps (id, tier, name, definition, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			name = excluded.name,
			definition = excluded.definition
	`, a.ID, a.Tier, a.Name, def, a.Seq)
	if err != nil {
		return fmt.Errorf("put app %s: %w", a.ID, err)
	}
	return nil
}

// PutFeed inserts a feed. A feed for the same contact that already exists
// is left untouched; callers read it back with FeedByContact.
func (s *Store) PutFeed(ctx context.Context, f FeedRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (id, contact, seq)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, f.ID, f.Contact, f.Seq)
	if err != nil {
		return fmt.Errorf("put feed %s: %w", f.ID, err)
	}
	return nil
}
