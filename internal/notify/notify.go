package notify

import (
	"context"
	"log/slog"
	"time"

	"partner-bot/internal/chat"
	"partner-bot/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Dispatcher delivers best-effort messages to partners and administrators.
// Delivery failures are logged and counted, never returned.
type Dispatcher struct {
	messenger chat.Messenger
	admins    []int64
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a dispatcher sending through messenger.
func New(messenger chat.Messenger, admins []int64, logger *slog.Logger, metricRegistry *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		messenger: messenger,
		admins:    append([]int64(nil), admins...),
		timeout:   defaultTimeout,
		logger:    logger.With("component", "notify"),
		metrics:   metricRegistry,
	}
}

// NotifyPartner sends msg to a single partner.
func (d *Dispatcher) NotifyPartner(ctx context.Context, partnerID int64, msg chat.Reply) {
	d.deliver(ctx, "partner", partnerID, msg)
}

// NotifyAdmins sends msg to every administrator.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, msg chat.Reply) {
	for _, id := range d.admins {
		d.deliver(ctx, "admin", id, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, target string, chatID int64, msg chat.Reply) {
	// The ledger mutation already committed; a cancelled request must not drop the notice.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	err := d.messenger.Send(sendCtx, chatID, msg)
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(target, metrics.Status(err)).Inc()
	}
	if err != nil {
		d.logger.Warn("notification not delivered", "target", target, "chat_id", chatID, "error", err)
		return
	}
	d.logger.Debug("notification delivered", "target", target, "chat_id", chatID)
}
