package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/parcelbroker/parcelbroker/metrics"
	"github.com/parcelbroker/parcelbroker/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sender delivers a single notification over whatever channel the
// deployment uses (push, bot message, webhook).
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// INotifier is fire-and-forget: a failed delivery never propagates to the
// business transition that produced it.
type INotifier interface {
	Notify(ctx context.Context, userID uint, event model.NotificationEvent, payload string)
}

type notifier struct {
	db      *gorm.DB
	sender  Sender
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewNotifier(db *gorm.DB, sender Sender, m *metrics.Metrics, log *zap.SugaredLogger) INotifier {
	return &notifier{db: db, sender: sender, metrics: m, log: log}
}

func (n *notifier) Notify(ctx context.Context, userID uint, event model.NotificationEvent, payload string) {
	row := model.Notification{
		UserID:  userID,
		Event:   event,
		Payload: payload,
	}
	if err := n.db.WithContext(ctx).Create(&row).Error; err != nil {
		n.log.Errorf("recording notification for user %d: %s", userID, err)
		return
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		row.Attempts++
		return n.sender.Send(ctx, row)
	}, bo)

	updates := map[string]interface{}{"attempts": row.Attempts}
	if err != nil {
		n.metrics.NotifyFailures.Inc()
		n.log.Warnf("notifying user %d about %s failed: %s", userID, event, err)
	} else {
		now := time.Now()
		updates["delivered_at"] = &now
	}

	if err := n.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
		n.log.Errorf("updating notification %d: %s", row.ID, err)
	}
}

// LogSender is the default sender, it only logs. Real deployments plug in
// their bot/push transport here.
type LogSender struct {
	Log *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, n model.Notification) error {
	s.Log.Infow("notification", "user", n.UserID, "event", n.Event, "payload", n.Payload)
	return nil
}
