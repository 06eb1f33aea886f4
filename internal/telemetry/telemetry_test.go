package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/relabs-tech/imu_pipeline/internal/imu"
	"github.com/relabs-tech/imu_pipeline/internal/motion"
	"github.com/relabs-tech/imu_pipeline/internal/orientation"
)

func snapshotWithStamp(ts uint32) Snapshot {
	return Snapshot{AccTimestamp: ts, GyroTimestamp: ts}
}

func TestNewSnapshot(t *testing.T) {
	state := motion.NewState()
	state.Orientation = mgl32.QuatRotate(float32(math.Pi/2), mgl32.Vec3{0, 0, 1})
	state.Velocity = mgl32.Vec3{1, 2, 3}
	state.Position = mgl32.Vec3{4, 5, 6}
	state.LastAccTimestamp = 10
	state.LastGyroTimestamp = 11

	at := time.Unix(100, 0)
	s := NewSnapshot(at, state, imu.Sample{AccY: 1000, AccZ: 1000})
	test.That(t, s.Time, test.ShouldEqual, at)
	test.That(t, s.Velocity, test.ShouldResemble, Vector{1, 2, 3})
	test.That(t, s.Position, test.ShouldResemble, Vector{4, 5, 6})
	test.That(t, s.Pose.Yaw, test.ShouldAlmostEqual, 90, 1e-3)
	test.That(t, s.AccelTilt.Roll, test.ShouldAlmostEqual, 45, 1e-9)
	test.That(t, s.AccTimestamp, test.ShouldEqual, uint32(10))
	test.That(t, s.GyroTimestamp, test.ShouldEqual, uint32(11))
}

// recordingSink collects snapshots; when gate is set each Publish waits on it.
type recordingSink struct {
	mu       sync.Mutex
	got      []Snapshot
	started  chan struct{}
	gate     chan struct{}
	closeErr error
	closed   bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{started: make(chan struct{}, 16)}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(ctx context.Context, s Snapshot) error {
	r.started <- struct{}{}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.closeErr
}

func (r *recordingSink) snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.got...)
}

func waitStarted(t *testing.T, r *recordingSink) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sink never received a snapshot")
	}
}

func TestDispatcherLatestWins(t *testing.T) {
	sink := newRecordingSink()
	sink.gate = make(chan struct{})
	d := NewDispatcher(math.Inf(1), zap.NewNop().Sugar(), sink)
	d.Start(context.Background())

	test.That(t, d.Offer(snapshotWithStamp(1)), test.ShouldBeTrue)
	waitStarted(t, sink)

	// sink is busy with 1; 2 is replaced by 3 before it is picked up
	test.That(t, d.Offer(snapshotWithStamp(2)), test.ShouldBeTrue)
	test.That(t, d.Offer(snapshotWithStamp(3)), test.ShouldBeTrue)

	sink.gate <- struct{}{}
	waitStarted(t, sink)
	sink.gate <- struct{}{}

	test.That(t, d.Close(), test.ShouldBeNil)
	got := sink.snapshots()
	test.That(t, got, test.ShouldHaveLength, 2)
	test.That(t, got[0].AccTimestamp, test.ShouldEqual, uint32(1))
	test.That(t, got[1].AccTimestamp, test.ShouldEqual, uint32(3))
	test.That(t, sink.closed, test.ShouldBeTrue)
}

func TestDispatcherRateLimit(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(0.5, zap.NewNop().Sugar(), sink)
	d.Start(context.Background())
	defer d.Close()

	forwarded := 0
	for i := 0; i < 10; i++ {
		if d.Offer(snapshotWithStamp(uint32(i))) {
			forwarded++
		}
	}
	test.That(t, forwarded, test.ShouldEqual, 1)
}

func TestDispatcherCloseCombinesErrors(t *testing.T) {
	a, b := newRecordingSink(), newRecordingSink()
	a.closeErr = errors.New("a failed")
	b.closeErr = errors.New("b failed")
	d := NewDispatcher(10, zap.NewNop().Sugar(), a, b)
	d.Start(context.Background())

	err := d.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "a failed")
	test.That(t, err.Error(), test.ShouldContainSubstring, "b failed")
}

func TestDispatcherWithoutSinks(t *testing.T) {
	d := NewDispatcher(10, zap.NewNop().Sugar())
	d.Start(context.Background())
	test.That(t, d.Offer(snapshotWithStamp(1)), test.ShouldBeFalse)
	test.That(t, d.Close(), test.ShouldBeNil)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(f.err)
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func TestMQTTMirrorPublishesRetainedJSON(t *testing.T) {
	client := &fakeMQTT{}
	m := NewMQTTMirror(client, "imu/motion", zap.NewNop().Sugar())

	snap := snapshotWithStamp(7)
	snap.Pose = orientation.Pose{Roll: 1, Pitch: 2, Yaw: 3}
	test.That(t, m.Publish(context.Background(), snap), test.ShouldBeNil)

	test.That(t, client.msgs, test.ShouldHaveLength, 1)
	msg := client.msgs[0]
	test.That(t, msg.topic, test.ShouldEqual, "imu/motion")
	test.That(t, msg.qos, test.ShouldEqual, byte(0))
	test.That(t, msg.retained, test.ShouldBeTrue)

	var decoded Snapshot
	test.That(t, json.Unmarshal(msg.payload, &decoded), test.ShouldBeNil)
	test.That(t, decoded.AccTimestamp, test.ShouldEqual, uint32(7))
	test.That(t, decoded.Pose, test.ShouldResemble, snap.Pose)

	test.That(t, m.Close(), test.ShouldBeNil)
	test.That(t, client.disconnected, test.ShouldBeTrue)
}

func TestMQTTMirrorReportsPublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	m := NewMQTTMirror(client, "imu/motion", zap.NewNop().Sugar())
	err := m.Publish(context.Background(), snapshotWithStamp(1))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not connected")
}

func TestWebServerMotionEndpoint(t *testing.T) {
	ws := NewWebServer("127.0.0.1:0", zap.NewNop().Sugar())
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/motion")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)

	test.That(t, ws.Publish(context.Background(), snapshotWithStamp(42)), test.ShouldBeNil)

	resp, err = http.Get(srv.URL + "/api/motion")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "application/json")

	var snap Snapshot
	test.That(t, json.NewDecoder(resp.Body).Decode(&snap), test.ShouldBeNil)
	test.That(t, snap.AccTimestamp, test.ShouldEqual, uint32(42))
}

func TestWebServerWebsocketStream(t *testing.T) {
	ws := NewWebServer("127.0.0.1:0", zap.NewNop().Sugar())
	test.That(t, ws.Start(), test.ShouldBeNil)
	defer ws.Close()

	test.That(t, ws.Publish(context.Background(), snapshotWithStamp(1)), test.ShouldBeNil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ws.Addr()+"/ws", nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)

	// the latest snapshot is sent on connect
	var snap Snapshot
	test.That(t, conn.ReadJSON(&snap), test.ShouldBeNil)
	test.That(t, snap.AccTimestamp, test.ShouldEqual, uint32(1))

	test.That(t, ws.Publish(context.Background(), snapshotWithStamp(2)), test.ShouldBeNil)
	test.That(t, conn.ReadJSON(&snap), test.ShouldBeNil)
	test.That(t, snap.AccTimestamp, test.ShouldEqual, uint32(2))
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func xorChecksum(s string) string {
	var cs byte
	for i := 0; i < len(s); i++ {
		cs ^= s[i]
	}
	return fmt.Sprintf("%02X", cs)
}

func TestAttitudeSentence(t *testing.T) {
	snap := Snapshot{
		Pose:     orientation.Pose{Roll: 1.5, Pitch: -2.25, Yaw: 90},
		Velocity: Vector{X: 0.1, Y: 0, Z: -0.25},
	}
	line := AttitudeSentence(snap)

	body := "PIMUA,1.50,-2.25,90.00,0.100,0.000,-0.250"
	test.That(t, line, test.ShouldEqual, "$"+body+"*"+xorChecksum(body)+"\r\n")
}

func TestNMEAWriter(t *testing.T) {
	var buf bufferCloser
	w := NewNMEAWriter(&buf, zap.NewNop().Sugar())

	test.That(t, w.Publish(context.Background(), snapshotWithStamp(1)), test.ShouldBeNil)
	test.That(t, w.Publish(context.Background(), snapshotWithStamp(2)), test.ShouldBeNil)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	for _, l := range lines {
		test.That(t, l, test.ShouldStartWith, "$PIMUA,")
	}

	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, buf.closed, test.ShouldBeTrue)
}
