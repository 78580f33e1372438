package settlement

import (
	"time"

	"go.uber.org/zap"
)

// NoticeKind classifies a member notification.
type NoticeKind string

const (
	// NoticeUpkeepFailed is sent when a structure is deactivated by a failed upkeep.
	NoticeUpkeepFailed NoticeKind = "upkeep_failed"
	// NoticeToolLow is sent when an upkeep tool falls under the durability threshold.
	NoticeToolLow NoticeKind = "tool_low"
	// NoticeIncomeReady is sent when a daily cycle leaves income to collect.
	NoticeIncomeReady NoticeKind = "income_ready"
)

// Notice is a message for the online members of a settlement.
type Notice struct {
	Settlement string     `json:"settlement"`
	Kind       NoticeKind `json:"kind"`
	Instance   string     `json:"instance,omitempty"`
	Definition string     `json:"definition,omitempty"`
	Message    string     `json:"message"`
	At         time.Time  `json:"at"`
}

// Notifier delivers notices. Implementations must not block the caller.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	l.Logger.Info("settlement notice",
		zap.String("settlement", n.Settlement),
		zap.String("kind", string(n.Kind)),
		zap.String("instance", n.Instance),
		zap.String("message", n.Message),
	)
}

// MultiNotifier fans a notice out to every notifier in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(n Notice) {
	for _, x := range m {
		x.Notify(n)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }
