package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticsengine/internal/config"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
	"analyticsengine/internal/service/detection"
	"analyticsengine/internal/service/source"
	"analyticsengine/internal/service/tracking"
	live "analyticsengine/internal/service/websocket"
)

// countingCapture yields frames until limit is reached, then reports the
// stream closed. A negative limit never ends.
type countingCapture struct {
	limit    int
	read     int
	captured func(n int) time.Time
}

func (c *countingCapture) Read(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}
	if c.limit >= 0 && c.read >= c.limit {
		return model.Frame{}, source.ErrSourceClosed
	}
	c.read++

	captured := time.Now()
	if c.captured != nil {
		captured = c.captured(c.read)
	}
	return model.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Captured: captured}, nil
}

func (c *countingCapture) Close() error { return nil }

func opener(captures map[string]func() source.Capture) source.Opener {
	return func(ctx context.Context, cameraID, uri string) (source.Capture, error) {
		newCapture, ok := captures[cameraID]
		if !ok {
			return nil, fmt.Errorf("%w: no route to %s", source.ErrSourceUnavailable, uri)
		}
		return newCapture(), nil
	}
}

// seqDetector returns one box per frame whose left edge is the frame seq,
// or nothing when empty is set.
type seqDetector struct {
	empty   bool
	panicOn string
}

func (d seqDetector) Kind() model.Kind   { return model.KindPlate }
func (d seqDetector) Threshold() float64 { return 0.7 }

func (d seqDetector) Detect(ctx context.Context, frame model.Frame, threshold float64) ([]detection.Box, error) {
	if d.panicOn != "" && frame.CameraID == d.panicOn {
		panic("model crashed")
	}
	if d.empty {
		return nil, nil
	}
	x := int(frame.Seq)
	return []detection.Box{{BBox: model.BBox{X1: x, Y1: 10, X2: x + 40, Y2: 30}, Confidence: 0.9}}, nil
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events map[string][]model.DetectionEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]model.DetectionEvent)}
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.DetectionEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events[event.CameraID] = append(p.events[event.CameraID], event)
	return nil
}

func (p *recordingPublisher) For(cameraID string) []model.DetectionEvent {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]model.DetectionEvent(nil), p.events[cameraID]...)
}

func newTestSupervisor(open source.Opener, detector detection.Detector, pub EventPublisher) *Supervisor {
	log := logger.Discard()
	m := metrics.New()
	pipeline := detection.NewPipeline([]detection.Detector{detector}, nil, log, m)

	opts := SupervisorOptions{
		Addr: "127.0.0.1:0",
		Source: source.Options{
			TargetFPS: 500,
			Cooldown:  time.Millisecond,
		},
		Tracking: tracking.DefaultOptions(),
	}
	return NewSupervisor(opts, open, pipeline, pub, live.NewHubService(log, m), log, m)
}

func runSupervisor(t *testing.T, sup *Supervisor, ctx context.Context, cameras []config.Camera) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, cameras) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestSupervisor_UnavailableCameraDoesNotAffectOthers(t *testing.T) {
	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"b": func() source.Capture { return &countingCapture{limit: 10} },
	})
	sup := newTestSupervisor(open, seqDetector{}, pub)

	cameras := []config.Camera{{ID: "a", URI: "rtsp://a"}, {ID: "b", URI: "rtsp://b"}}
	err := waitDone(t, runSupervisor(t, sup, context.Background(), cameras))
	require.NoError(t, err)

	assert.Empty(t, pub.For("a"))
	eventsB := pub.For("b")
	require.Len(t, eventsB, 10)
	for _, event := range eventsB {
		require.Len(t, event.Detections, 1)
		assert.NotEmpty(t, event.Detections[0].TrackingID)
	}

	status := sup.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].ID)
	assert.Equal(t, "failed", status[0].State)
	assert.Nil(t, status[0].LastEvent)
	assert.Equal(t, "b", status[1].ID)
	assert.Equal(t, "closed", status[1].State)
	assert.EqualValues(t, 10, status[1].Events)
	assert.EqualValues(t, 10, status[1].Frames)
	assert.NotNil(t, status[1].LastEvent)
	assert.Equal(t, 0, sup.Running())
}

func TestSupervisor_HeartbeatEventPerFrame(t *testing.T) {
	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"gate": func() source.Capture { return &countingCapture{limit: 3} },
	})
	sup := newTestSupervisor(open, seqDetector{empty: true}, pub)

	err := waitDone(t, runSupervisor(t, sup, context.Background(), []config.Camera{{ID: "gate", URI: "rtsp://gate"}}))
	require.NoError(t, err)

	events := pub.For("gate")
	require.Len(t, events, 3)
	for _, event := range events {
		assert.NotNil(t, event.Detections)
		assert.Empty(t, event.Detections)
	}
}

func TestSupervisor_EventsInCaptureOrderWithMonotonicTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	// Clock jumps backwards every third frame.
	captured := func(n int) time.Time {
		if n%3 == 0 {
			return base.Add(time.Duration(n-5) * time.Second)
		}
		return base.Add(time.Duration(n) * time.Second)
	}

	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"dock": func() source.Capture { return &countingCapture{limit: 9, captured: captured} },
	})
	sup := newTestSupervisor(open, seqDetector{}, pub)

	err := waitDone(t, runSupervisor(t, sup, context.Background(), []config.Camera{{ID: "dock", URI: "rtsp://dock"}}))
	require.NoError(t, err)

	events := pub.For("dock")
	require.Len(t, events, 9)
	for i, event := range events {
		require.Len(t, event.Detections, 1)
		assert.Equal(t, i+1, event.Detections[0].BBox.X1, "event %d out of order", i)
		if i > 0 {
			assert.False(t, event.Timestamp.Before(events[i-1].Timestamp), "timestamp went backwards at %d", i)
		}
	}
}

func TestSupervisor_PanicEndsOnlyThatCamera(t *testing.T) {
	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"bad":  func() source.Capture { return &countingCapture{limit: -1} },
		"good": func() source.Capture { return &countingCapture{limit: 5} },
	})
	sup := newTestSupervisor(open, seqDetector{panicOn: "bad"}, pub)

	cameras := []config.Camera{{ID: "bad", URI: "rtsp://bad"}, {ID: "good", URI: "rtsp://good"}}
	err := waitDone(t, runSupervisor(t, sup, context.Background(), cameras))
	require.NoError(t, err)

	assert.Empty(t, pub.For("bad"))
	assert.Len(t, pub.For("good"), 5)
}

func TestSupervisor_BindFailureIsReturned(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"gate": func() source.Capture { return &countingCapture{limit: 3} },
	})
	sup := newTestSupervisor(open, seqDetector{}, pub)
	sup.opts.Addr = occupied.Addr().String()

	err = sup.Run(context.Background(), []config.Camera{{ID: "gate", URI: "rtsp://gate"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
	assert.Empty(t, pub.For("gate"))
}

func TestSupervisor_CancelStopsEverything(t *testing.T) {
	pub := newRecordingPublisher()
	open := opener(map[string]func() source.Capture{
		"gate": func() source.Capture { return &countingCapture{limit: -1} },
	})
	sup := newTestSupervisor(open, seqDetector{}, pub)
	sup.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sup.Running() == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSupervisor(t, sup, ctx, []config.Camera{{ID: "gate", URI: "rtsp://gate"}})

	addr, err := sup.Addr(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sup.Running() == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 0, sup.Running())
	assert.NotEmpty(t, pub.For("gate"))

	_, err = http.Get("http://" + addr.String() + "/healthz")
	assert.Error(t, err)
}

func TestSupervisor_NoCamerasReturns(t *testing.T) {
	sup := newTestSupervisor(opener(nil), seqDetector{}, newRecordingPublisher())

	err := waitDone(t, runSupervisor(t, sup, context.Background(), nil))
	assert.NoError(t, err)
	assert.Empty(t, sup.Status())
}

func TestSupervisor_AddrHonoursContext(t *testing.T) {
	sup := newTestSupervisor(opener(nil), seqDetector{}, newRecordingPublisher())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sup.Addr(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type failingPublisher struct {
	mutex    sync.Mutex
	attempts int
}

func (p *failingPublisher) Publish(ctx context.Context, event model.DetectionEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.attempts++
	return errors.New("broker unreachable")
}

func (p *failingPublisher) Attempts() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.attempts
}

type countingBroadcaster struct {
	mutex  sync.Mutex
	events []model.DetectionEvent
}

func (b *countingBroadcaster) Run(ctx context.Context) { <-ctx.Done() }

func (b *countingBroadcaster) Broadcast(ctx context.Context, event model.DetectionEvent) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.events = append(b.events, event)
	return 0
}

func (b *countingBroadcaster) Events() []model.DetectionEvent {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]model.DetectionEvent(nil), b.events...)
}

func TestSupervisor_PublishFailureKeepsCameraRunning(t *testing.T) {
	log := logger.Discard()
	m := metrics.New()
	pipeline := detection.NewPipeline([]detection.Detector{seqDetector{}}, nil, log, m)
	pub := &failingPublisher{}
	hub := &countingBroadcaster{}

	open := opener(map[string]func() source.Capture{
		"gate": func() source.Capture { return &countingCapture{limit: 10} },
	})
	sup := NewSupervisor(SupervisorOptions{
		Addr:     "127.0.0.1:0",
		Source:   source.Options{TargetFPS: 500, Cooldown: time.Millisecond},
		Tracking: tracking.DefaultOptions(),
	}, open, pipeline, pub, hub, log, m)

	err := waitDone(t, runSupervisor(t, sup, context.Background(), []config.Camera{{ID: "gate", URI: "rtsp://gate"}}))
	require.NoError(t, err)

	assert.Equal(t, 10, pub.Attempts())

	events := hub.Events()
	require.Len(t, events, 10)
	for i, event := range events {
		require.Len(t, event.Detections, 1)
		assert.Equal(t, i+1, event.Detections[0].BBox.X1)
	}

	status := sup.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "closed", status[0].State)
	assert.EqualValues(t, 10, status[0].Frames)
	assert.EqualValues(t, 10, status[0].Events)
}
