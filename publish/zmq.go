package publish

import (
	"sync"
	"syscall"

	"github.com/fxamacker/cbor/v2"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

// sendHighWaterMark bounds how many multipart messages queue per
// subscriber before the socket starts dropping.
const sendHighWaterMark = 8

// ZMQPublisher publishes CBOR-encoded messages as [topic, payload]
// multipart over a bound PUB socket. Sends never block: a full
// high-water mark drops the message, which is the bridge's slow-consumer
// policy.
type ZMQPublisher struct {
	mu     sync.Mutex
	sock   *zmq.Socket
	closed bool
}

// NewZMQPublisher binds a PUB socket at endpoint, e.g.
// "tcp://127.0.0.1:5563" or "inproc://frames".
func NewZMQPublisher(endpoint string) (*ZMQPublisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errors.Wrap(err, "new pub socket")
	}
	if err := sock.SetSndhwm(sendHighWaterMark); err != nil {
		return nil, multiClose(sock, errors.Wrap(err, "set sndhwm"))
	}
	if err := sock.SetLinger(0); err != nil {
		return nil, multiClose(sock, errors.Wrap(err, "set linger"))
	}
	if err := sock.Bind(endpoint); err != nil {
		return nil, multiClose(sock, errors.Wrapf(err, "bind %s", endpoint))
	}
	return &ZMQPublisher{sock: sock}, nil
}

func multiClose(sock *zmq.Socket, err error) error {
	if cerr := sock.Close(); cerr != nil {
		return errors.Wrapf(err, "also failed to close socket: %v", cerr)
	}
	return err
}

// Publish encodes m and sends it on topic. A send refused because the
// high-water mark is full is not an error; the message is dropped.
func (p *ZMQPublisher) Publish(topic string, m interface{}) error {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return errors.Wrapf(err, "encode message for %s", topic)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("publisher is closed")
	}
	if _, err := p.sock.SendMessageDontwait(topic, payload); err != nil {
		if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
			return nil
		}
		return errors.Wrapf(err, "send on %s", topic)
	}
	return nil
}

// Close tears down the socket. Safe to call more than once.
func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Wrap(p.sock.Close(), "close pub socket")
}
