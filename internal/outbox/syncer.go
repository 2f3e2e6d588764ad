package outbox

import (
	"context"
	"sync"

	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// Syncer drains a Queue through a Deliverer when a background sync event fires.
// Runs are serialized so a submission is never handed to the relay twice.
type Syncer struct {
	queue     *Queue
	deliverer Deliverer
	mu        sync.Mutex
}

func NewSyncer(queue *Queue, deliverer Deliverer) *Syncer {
	return &Syncer{queue: queue, deliverer: deliverer}
}

// Sync delivers pending submissions oldest first. A submission is removed only
// once delivered. The first failure stops the run so that later submissions
// keep their place behind it.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.Info("Syncing messages...")

	pending, err := s.queue.List(ctx)
	if err != nil {
		return err
	}

	for i, sub := range pending {
		if err := s.deliverer.Deliver(ctx, sub); err != nil {
			logrus.WithField("submission", sub.ID).Warnf("Delivery failed, %d submission(s) left: %v", len(pending)-i, err)
			return errors.WithContext(err, "submission", sub.ID)
		}
		if err := s.queue.Remove(ctx, sub.ID); err != nil {
			return err
		}
		logrus.WithField("submission", sub.ID).Debug("Submission delivered")
	}

	if len(pending) > 0 {
		logrus.Infof("Delivered %d submission(s)", len(pending))
	}
	return nil
}
