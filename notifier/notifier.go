package notifier

// Notification is one protocol event published to interested subscribers.
// Topic is a dotted subject such as "boot.notification" or
// "stop.transaction"; Data is the JSON-serializable event body.
type Notification struct {
	Topic string
	Data  map[string]interface{}
}
