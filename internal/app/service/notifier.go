package service

import "github.com/ikkim/cartsync/pkg/logger"

// Notifier is the user-facing notification channel. The host application
// supplies its own implementation; the engine only emits short messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
	Info(msg string)
}

// LogNotifier routes notifications to the application log. Default when the
// host wires nothing else.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Success(msg string) {
	logger.Info("notify: "+msg, map[string]interface{}{"level": "success"})
}

func (n *LogNotifier) Error(msg string) {
	logger.Warn("notify: "+msg, map[string]interface{}{"level": "error"})
}

func (n *LogNotifier) Info(msg string) {
	logger.Info("notify: "+msg, map[string]interface{}{"level": "info"})
}
