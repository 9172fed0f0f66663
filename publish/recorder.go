package publish

import "sync"

// Recorder is an in-memory Publisher for tests. It stores every message
// by topic and can be armed to fail specific topics.
type Recorder struct {
	mu       sync.Mutex
	messages map[string][]interface{}
	failures map[string]error
	closed   bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		messages: map[string][]interface{}{},
		failures: map[string]error{},
	}
}

// Publish records m under topic, or returns the armed error for it.
func (r *Recorder) Publish(topic string, m interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failures[topic]; ok {
		return err
	}
	r.messages[topic] = append(r.messages[topic], m)
	return nil
}

// FailTopic makes every Publish on topic return err.
func (r *Recorder) FailTopic(topic string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[topic] = err
}

// Messages returns what was published on topic, in order.
func (r *Recorder) Messages(topic string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interface{}, len(r.messages[topic]))
	copy(out, r.messages[topic])
	return out
}

// Count returns how many messages topic received.
func (r *Recorder) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[topic])
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
