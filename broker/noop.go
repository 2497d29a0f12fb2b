package broker

import "context"

// NoopBroker is the single-instance broker: the local gateway already
// holds every connection, so cross-instance notifications have nothing
// to do. Publishes succeed silently; subscriptions never deliver.
type NoopBroker struct{}

func NewNoopBroker() *NoopBroker { return &NoopBroker{} }

func (b *NoopBroker) Publish(context.Context, string, Message) error { return nil }

func (b *NoopBroker) Subscribe(ctx context.Context, _ ...string) (<-chan Message, error) {
	messages := make(chan Message)
	go func() {
		<-ctx.Done()
		close(messages)
	}()
	return messages, nil
}

func (b *NoopBroker) Type() string { return "none" }

func (b *NoopBroker) Close() error { return nil }
