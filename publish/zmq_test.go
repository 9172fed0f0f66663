package publish_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/msg"
	"github.com/shaun-edwards/o3d3xx-ros/publish"
)

var endpointSeq int64

// testEndpoint returns a process-unique inproc endpoint so tests never
// collide on a bind.
func testEndpoint() string {
	return fmt.Sprintf("inproc://publish-test-%d", atomic.AddInt64(&endpointSeq, 1))
}

func TestZMQPublisherDelivers(t *testing.T) {
	endpoint := testEndpoint()
	pub, err := publish.NewZMQPublisher(endpoint)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, pub.Close(), test.ShouldBeNil)
	}()

	sub, err := zmq.NewSocket(zmq.SUB)
	test.That(t, err, test.ShouldBeNil)
	defer goutils.UncheckedErrorFunc(sub.Close)
	test.That(t, sub.SetSubscribe(""), test.ShouldBeNil)
	test.That(t, sub.SetRcvtimeo(100*time.Millisecond), test.ShouldBeNil)
	test.That(t, sub.Connect(endpoint), test.ShouldBeNil)

	want := msg.NewMono16(msg.Header{Seq: 11, FrameID: "camera_link"}, 2, 1, []uint16{1, 2})

	// keep publishing until the subscription has propagated and a
	// message comes through
	var parts [][]byte
	for i := 0; i < 50; i++ {
		test.That(t, pub.Publish("depth", want), test.ShouldBeNil)
		parts, err = sub.RecvMessageBytes(0)
		if err == nil {
			break
		}
	}
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(parts), test.ShouldEqual, 2)
	test.That(t, string(parts[0]), test.ShouldEqual, "depth")

	var got msg.Image
	test.That(t, cbor.Unmarshal(parts[1], &got), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)
}

func TestZMQPublisherClose(t *testing.T) {
	pub, err := publish.NewZMQPublisher(testEndpoint())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pub.Close(), test.ShouldBeNil)
	test.That(t, pub.Close(), test.ShouldBeNil)

	err = pub.Publish("depth", msg.Image{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed")
}

func TestZMQPublisherBadEndpoint(t *testing.T) {
	_, err := publish.NewZMQPublisher("bogus://nope")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRecorder(t *testing.T) {
	rec := publish.NewRecorder()
	test.That(t, rec.Publish("cloud", "a"), test.ShouldBeNil)
	test.That(t, rec.Publish("cloud", "b"), test.ShouldBeNil)
	test.That(t, rec.Publish("depth", "c"), test.ShouldBeNil)

	test.That(t, rec.Count("cloud"), test.ShouldEqual, 2)
	test.That(t, rec.Messages("cloud"), test.ShouldResemble, []interface{}{"a", "b"})
	test.That(t, rec.Count("amplitude"), test.ShouldEqual, 0)

	boom := errors.New("armed failure")
	rec.FailTopic("depth", boom)
	test.That(t, rec.Publish("depth", "d"), test.ShouldBeError, boom)
	test.That(t, rec.Count("depth"), test.ShouldEqual, 1)

	test.That(t, rec.Close(), test.ShouldBeNil)
}
