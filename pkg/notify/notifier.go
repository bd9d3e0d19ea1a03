package notify

import (
	"github.com/sirupsen/logrus"
)

// Notifier delivers human-readable status messages. Delivery is
// best-effort: implementations swallow their own errors, a failed
// notification never fails the trade that produced it.
type Notifier interface {
	Notify(text string)
}

// LogNotifier writes notifications to the log only. Used when no Telegram
// credentials are configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n *LogNotifier) Notify(text string) {
	n.Logger.Info(text)
}
