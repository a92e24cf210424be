package service

import "github.com/ikkim/cartsync/pkg/logger"

// Analytics event names, one per meaningful engine transition.
const (
	EventItemAdded       = "item_added"
	EventItemAddFailed   = "item_add_failed"
	EventItemRemoved     = "item_removed"
	EventQuantityUpdated = "quantity_updated"
	EventCartCleared     = "cart_cleared"
	EventCartSynced      = "cart_synced"
	EventQueueProcessed  = "queue_processed"
)

// Analytics is the event channel for engine transitions. Fields carry the
// operation's identifying parameters; failed operations include an "error"
// field.
type Analytics interface {
	Track(event string, fields map[string]interface{})
}

// LogAnalytics writes events to the application log. Default sink.
type LogAnalytics struct{}

func NewLogAnalytics() *LogAnalytics {
	return &LogAnalytics{}
}

func (a *LogAnalytics) Track(event string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["event"] = event
	logger.Debug("analytics event", fields)
}

// MultiAnalytics fans one event out to several sinks.
type MultiAnalytics []Analytics

func (m MultiAnalytics) Track(event string, fields map[string]interface{}) {
	for _, sink := range m {
		sink.Track(event, fields)
	}
}
