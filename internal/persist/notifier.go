package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// CologneEvent is the payload published when a cologne is first persisted.
type CologneEvent struct {
	RunID     string `json:"run_id"`
	CologneID int64  `json:"cologne_id"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	URL       string `json:"url"`
}

// Notifier announces newly added colognes on a topic.
type Notifier struct {
	publisher crawler.Publisher
	topic     string
	runID     string
}

// NewNotifier constructs a Notifier. An empty topic is allowed when the
// publisher is bound to one already.
func NewNotifier(publisher crawler.Publisher, topic, runID string) (*Notifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	return &Notifier{publisher: publisher, topic: topic, runID: runID}, nil
}

// CologneAdded publishes one CologneEvent.
func (n *Notifier) CologneAdded(ctx context.Context, id int64, c crawler.CologneCandidate) error {
	event := CologneEvent{
		RunID:     n.runID,
		CologneID: id,
		Name:      c.Name,
		Brand:     c.Brand,
		URL:       c.URL,
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish cologne %d: %w", id, err)
	}
	return nil
}
