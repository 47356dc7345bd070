package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fingerattend/internal/attendance"
)

// DefaultTopic carries scan outcomes.
const DefaultTopic = "attendance/outcomes"

// Payload is the JSON document published for each scan.
type Payload struct {
	EventID    string `json:"event_id"`
	IdentityID int    `json:"identity_id"`
	Outcome    string `json:"outcome"`
	Signal     Signal `json:"signal"`
	Message    string `json:"message"`
	Date       string `json:"date"`
	Timestamp  string `json:"timestamp"`
	RollNumber string `json:"roll_number,omitempty"`
	Name       string `json:"name,omitempty"`
	InTime     string `json:"in_time,omitempty"`
	OutTime    string `json:"out_time,omitempty"`
}

// NewPayload builds the published document for res.
func NewPayload(res attendance.Result) Payload {
	return Payload{
		EventID:    res.Event.ID,
		IdentityID: res.Event.IdentityID,
		Outcome:    string(res.Outcome),
		Signal:     SignalFor(res.Outcome),
		Message:    Message(res.Outcome),
		Date:       res.Event.Day.String(),
		Timestamp:  res.Event.Timestamp.Format(time.RFC3339),
		RollNumber: res.Record.RollNumber,
		Name:       res.Record.Name,
		InTime:     res.Record.CheckIn,
		OutTime:    res.Record.CheckOut,
	}
}

// Publisher is the part of mqtt.Client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each outcome to a topic. Publishing is fire and forget:
// a broker outage is logged and never holds up the scan loop for longer
// than the wait bound.
type MQTT struct {
	client Publisher
	topic  string
	wait   time.Duration
	logger *log.Logger
}

// NewMQTT wraps an already connected publisher.
func NewMQTT(client Publisher, topic string, logger *log.Logger) *MQTT {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MQTT{client: client, topic: topic, wait: 2 * time.Second, logger: logger}
}

// Connect dials broker and returns a connected client.
func Connect(broker, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("fingerattend-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true).SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", broker, token.Error())
	}
	return client, nil
}

// Notify publishes res.
func (m *MQTT) Notify(_ context.Context, res attendance.Result) {
	data, err := json.Marshal(NewPayload(res))
	if err != nil {
		m.logger.Printf("mqtt: encode outcome %s: %v", res.Event.ID, err)
		return
	}
	token := m.client.Publish(m.topic, 0, false, data)
	if !token.WaitTimeout(m.wait) {
		m.logger.Printf("mqtt: publish %s timed out", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Printf("mqtt: publish %s: %v", m.topic, err)
	}
}
