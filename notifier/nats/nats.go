package nats

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"ocpp-gateway/notifier"
)

// Notifier publishes central-system events to NATS subjects. Publishing is
// fire-and-forget: failures are logged and never reach the protocol path.
type Notifier struct {
	url          string
	connection   *nats.Conn
	notification chan notifier.Notification
	log          *logrus.Logger
}

// New creates a notifier for the given NATS URL. Nothing connects until
// Start is called.
func New(url string, log *logrus.Logger) *Notifier {
	if url == "" {
		url = nats.DefaultURL
	}
	return &Notifier{
		url: url,
		log: log,
	}
}

// SetChannel wires the channel the central system emits notifications on.
func (n *Notifier) SetChannel(notification chan notifier.Notification) {
	n.notification = notification
}

// Start connects to NATS and begins forwarding notifications.
func (n *Notifier) Start() error {
	nc, err := nats.Connect(n.url)
	if err != nil {
		return err
	}
	n.connection = nc
	go n.forward()
	n.log.Infof("nats notifier connected to %s", n.url)
	return nil
}

// Stop closes the NATS connection.
func (n *Notifier) Stop() {
	if n.connection != nil {
		n.connection.Close()
		n.log.Info("nats notifier stopped")
	}
}

func (n *Notifier) forward() {
	for event := range n.notification {
		data, err := json.Marshal(event.Data)
		if err != nil {
			n.log.Errorf("failed to marshal notification for %s: %v", event.Topic, err)
			continue
		}
		if err := n.connection.Publish(event.Topic, data); err != nil {
			n.log.Errorf("failed to publish notification to %s: %v", event.Topic, err)
		}
	}
}
