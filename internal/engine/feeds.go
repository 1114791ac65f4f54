package engine

import (
	"context"
	"strings"

	"github.com/roach88/thingengine/internal/store"
	"golang.org/x/text/unicode/norm"
)

// GetFeedWithContact returns the feed for contact, creating it on first
// use. Contacts are compared after trimming and NFC normalization, so the
// same person typed two ways shares one feed.
func (e *Engine) GetFeedWithContact(ctx context.Context, contact string) (Feed, error) {
	contact = norm.NFC.String(strings.TrimSpace(contact))
	if contact == "" {
		return Feed{}, ErrEmptyContact
	}
	s, err := e.openStore()
	if err != nil {
		return Feed{}, err
	}

	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	rec, ok, err := s.FeedByContact(ctx, contact)
	if err != nil {
		return Feed{}, err
	}
	if ok {
		return Feed{ID: rec.ID, Contact: rec.Contact}, nil
	}

	rec = store.FeedRecord{
		ID:      "feed-" + e.ids.Generate(),
		Contact: contact,
		Seq:     e.clock.Next(),
	}
	if err := s.PutFeed(ctx, rec); err != nil {
		return Feed{}, err
	}
	e.logger.Info("feed created", "id", rec.ID)
	return Feed{ID: rec.ID, Contact: rec.Contact}, nil
}
