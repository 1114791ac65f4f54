package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ListDevices returns every device in seq order.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, tier, config, seq
		FROM devices
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var d DeviceRecord
		var cfg string
		if err := rows.Scan(&d.ID, &d.Kind, &d.Tier, &cfg, &d.Seq); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if d.Config, err = unmarshalConfig(cfg); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

// ListApps returns every app in seq order.
func (s *Store) ListApps(ctx context.Context) ([]AppRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tier, name, definition, seq
		FROM apps
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []AppRecord
	for rows.Next() {
		var a AppRecord
		var def string
		if err := rows.Scan(&a.ID, &a.Tier, &a.Name, &def, &a.Seq); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		a.Definition = json.RawMessage(def)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return out, nil
}

// FeedByContact looks up the feed for a contact. ok is false when none
// exists.
func (s *Store) FeedByContact(ctx context.Context, contact string) (f FeedRecord, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT id, contact, seq FROM feeds WHERE contact = ?
	`, contact).Scan(&f.ID, &f.Contact, &f.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedRecord{}, false, nil
	}
	if err != nil {
		return FeedRecord{}, false, fmt.Errorf("feed for %q: %w", contact, err)
	}
	return f, true, nil
}
