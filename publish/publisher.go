// Package publish fans encoded frame messages out to subscribers.
package publish

// A Publisher delivers one message on a named channel. Implementations
// must not block on slow consumers: when a consumer cannot keep up, its
// messages are dropped, never queued against the producer.
type Publisher interface {
	Publish(topic string, m interface{}) error
	Close() error
}
