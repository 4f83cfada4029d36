package adapter

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hexroute/envelope"
)

// WatermillInbound adapts a Watermill subscriber into an inbound adapter.
// Messages are acked when dispatch succeeds and nacked otherwise, so
// transports with redelivery semantics get to retry.
type WatermillInbound struct {
	PortName   string
	Topic      string
	Subscriber message.Subscriber
}

// NewWatermillInbound wires a subscriber to the named port and topic.
func NewWatermillInbound(portName, topic string, sub message.Subscriber) *WatermillInbound {
	return &WatermillInbound{PortName: portName, Topic: topic, Subscriber: sub}
}

// Run consumes the topic until the context is cancelled. Each message is
// converted to an envelope and handed to dispatch sequentially, preserving the
// subscriber's delivery order for this stream.
func (w *WatermillInbound) Run(ctx context.Context, dispatch DispatchFunc) error {
	messages, err := w.Subscriber.Subscribe(ctx, w.Topic)
	if err != nil {
		return err
	}

	for msg := range messages {
		env := FromMessage(w.PortName, envelope.DirectionInbound, msg)
		if _, err := dispatch(msg.Context(), env); err != nil {
			msg.Nack()
			continue
		}
		msg.Ack()
	}
	return nil
}

func (w *WatermillInbound) Close() error {
	return w.Subscriber.Close()
}

// WatermillOutbound adapts a Watermill publisher into an outbound adapter.
type WatermillOutbound struct {
	Topic     string
	Publisher message.Publisher
}

// NewWatermillOutbound wires a publisher to the given topic.
func NewWatermillOutbound(topic string, pub message.Publisher) *WatermillOutbound {
	return &WatermillOutbound{Topic: topic, Publisher: pub}
}

// Send publishes the envelope on the configured topic. A publish error is the
// adapter's NACK.
func (w *WatermillOutbound) Send(ctx context.Context, env *envelope.Envelope) error {
	msg, err := ToMessage(env)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return w.Publisher.Publish(w.Topic, msg)
}

func (w *WatermillOutbound) Close() error {
	return w.Publisher.Close()
}
