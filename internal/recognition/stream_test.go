package recognition

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

type fakeRecognitionStream struct {
	mu         sync.Mutex
	config     repositories.StreamingConfig
	sent       [][]byte
	sendErr    error
	closedSend bool

	responses chan *repositories.RecognitionResponse
	errs      chan error
	done      chan struct{}
	once      sync.Once
	ctx       context.Context

	// held, when set, is the only source of Recv and ignores cancellation
	held chan *repositories.RecognitionResponse
}

func newFakeRecognitionStream(ctx context.Context, cfg repositories.StreamingConfig) *fakeRecognitionStream {
	return &fakeRecognitionStream{
		config:    cfg,
		responses: make(chan *repositories.RecognitionResponse, 16),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		ctx:       ctx,
	}
}

func (f *fakeRecognitionStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeRecognitionStream) Recv() (*repositories.RecognitionResponse, error) {
	if f.held != nil {
		resp, ok := <-f.held
		if !ok {
			return nil, io.EOF
		}
		return resp, nil
	}
	select {
	case resp := <-f.responses:
		return resp, nil
	case err := <-f.errs:
		return nil, err
	case <-f.done:
		return nil, io.EOF
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeRecognitionStream) CloseSend() error {
	f.mu.Lock()
	f.closedSend = true
	f.mu.Unlock()
	return nil
}

// hangUp simulates the recognizer closing the stream on its own
func (f *fakeRecognitionStream) hangUp() {
	f.once.Do(func() { close(f.done) })
}

func (f *fakeRecognitionStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSpeechClient struct {
	mu       sync.Mutex
	name     string
	streams  []*fakeRecognitionStream
	closed   bool
	openErr  error
	closeErr error
	hold     bool
}

func (c *fakeSpeechClient) StreamingRecognize(ctx context.Context, cfg repositories.StreamingConfig) (repositories.RecognitionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := newFakeRecognitionStream(ctx, cfg)
	if c.hold {
		s.held = make(chan *repositories.RecognitionResponse, 1)
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeSpeechClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeSpeechClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeSpeechClient) opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeSpeechClient) last() *fakeRecognitionStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[len(c.streams)-1]
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeSpeechClient
	paths   []string
	err     error
	hold    bool
}

func (f *fakeFactory) New(ctx context.Context, path string) (repositories.SpeechClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeSpeechClient{name: path, hold: f.hold}
	f.clients = append(f.clients, c)
	f.paths = append(f.paths, path)
	return c, nil
}

type collectingListener struct {
	recognitions chan entities.Recognition
	errs         chan error
}

func newCollectingListener() *collectingListener {
	return &collectingListener{
		recognitions: make(chan entities.Recognition, 16),
		errs:         make(chan error, 16),
	}
}

func (l *collectingListener) OnRecognition(r entities.Recognition) { l.recognitions <- r }
func (l *collectingListener) OnStreamError(err error)              { l.errs <- err }

func newTestStream(t *testing.T, factory *fakeFactory) (*Stream, *collectingListener) {
	t.Helper()
	stream, err := NewStream(Options{
		Name:      "user",
		Config:    entities.DefaultStreamConfig("en-US"),
		NewClient: factory.New,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	listener := newCollectingListener()
	stream.SetListener(listener)
	return stream, listener
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewStreamValidation(t *testing.T) {
	if _, err := NewStream(Options{Config: entities.DefaultStreamConfig("en-US")}); err == nil {
		t.Error("Expected error without a client factory")
	}

	factory := &fakeFactory{}
	cfg := entities.DefaultStreamConfig("en-US")
	cfg.ChannelCount = 4
	if _, err := NewStream(Options{Config: cfg, NewClient: factory.New}); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestStreamStartStop(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	stream.Start()

	if stream.State() != StateStreaming {
		t.Fatalf("Expected streaming, got %s", stream.State())
	}
	client := factory.clients[0]
	if client.opened() != 1 {
		t.Errorf("Expected one network stream, got %d", client.opened())
	}

	cfg := client.last().config
	if !cfg.InterimResults {
		t.Error("Interim results should be enabled")
	}
	if cfg.Encoding != entities.EncodingLinear16 || cfg.SampleRateHertz != 16000 || cfg.AudioChannelCount != 1 {
		t.Errorf("Unexpected streaming config %+v", cfg)
	}

	stream.Stop()
	stream.Stop()
	if stream.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", stream.State())
	}
	if !client.last().closedSend {
		t.Error("Expected network stream to be half-closed")
	}
}

func TestStreamStartFailure(t *testing.T) {
	factory := &fakeFactory{err: errors.New("bad credentials")}
	stream, listener := newTestStream(t, factory)

	stream.Start()

	if stream.State() != StateStopped {
		t.Errorf("Expected stopped after failure, got %s", stream.State())
	}
	select {
	case <-listener.errs:
	default:
		t.Error("Expected an error event")
	}
}

func TestStreamWriteWhileStoppedIsDropped(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Write(make([]byte, entities.FrameBytes))

	stream.Start()
	stream.Write(make([]byte, entities.FrameBytes))
	live := factory.clients[0].last()
	stream.Stop()
	stream.Write(make([]byte, entities.FrameBytes))

	if live.sentCount() != 1 {
		t.Errorf("Expected 1 forwarded frame, got %d", live.sentCount())
	}
}

func TestStreamWriteAfterPeerClose(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	live := factory.clients[0].last()
	live.hangUp()

	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.live == nil || stream.live.closed.Load()
	})

	stream.Write(make([]byte, entities.FrameBytes))

	if live.sentCount() != 0 {
		t.Errorf("Frame forwarded to a closed stream")
	}
	if stream.State() != StateStopped {
		t.Errorf("Expected stopped after detecting closed stream, got %s", stream.State())
	}

	// Later writes are cheap no-ops.
	stream.Write(make([]byte, entities.FrameBytes))
	if live.sentCount() != 0 {
		t.Errorf("Frame forwarded after stream stopped")
	}
}

func TestStreamSendFailureStopsStream(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	live := factory.clients[0].last()
	live.mu.Lock()
	live.sendErr = errors.New("transport is closing")
	live.mu.Unlock()

	stream.Write(make([]byte, entities.FrameBytes))
	if stream.State() != StateStopped {
		t.Errorf("Expected stopped after send failure, got %s", stream.State())
	}
}

func TestStreamUnexpectedFrameSizeStillForwarded(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	stream.Write(make([]byte, 500))
	stream.Write(make([]byte, 500))
	stream.Write(make([]byte, entities.StereoFrameBytes))

	if got := factory.clients[0].last().sentCount(); got != 3 {
		t.Errorf("Expected all 3 frames forwarded, got %d", got)
	}
}

func TestStreamRestartOnReconfigure(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	// While stopped the change is only recorded.
	if err := stream.SetSampleRate(48000); err != nil {
		t.Fatalf("SetSampleRate failed: %v", err)
	}
	if len(factory.clients) != 0 {
		t.Error("Reconfigure while stopped should not open a stream")
	}

	stream.Start()
	client := factory.clients[0]

	if err := stream.SetSampleRate(16000); err != nil {
		t.Fatalf("SetSampleRate failed: %v", err)
	}
	if client.opened() != 2 {
		t.Fatalf("Expected exactly one restart, got %d opens", client.opened())
	}
	if stream.State() != StateStreaming {
		t.Errorf("Expected streaming after restart, got %s", stream.State())
	}
	if got := client.last().config.SampleRateHertz; got != 16000 {
		t.Errorf("Expected new stream at 16000 Hz, got %d", got)
	}
	if !client.streams[0].closedSend {
		t.Error("Previous network stream should be closed")
	}

	if err := stream.SetAudioChannelCount(2); err != nil {
		t.Fatalf("SetAudioChannelCount failed: %v", err)
	}
	if client.opened() != 3 {
		t.Errorf("Expected one more restart, got %d opens", client.opened())
	}
	if got := client.last().config.AudioChannelCount; got != 2 {
		t.Errorf("Expected 2 channels, got %d", got)
	}

	// Same value does not restart.
	if err := stream.SetAudioChannelCount(2); err != nil {
		t.Fatalf("SetAudioChannelCount failed: %v", err)
	}
	if client.opened() != 3 {
		t.Errorf("Unchanged config should not restart, got %d opens", client.opened())
	}

	if err := stream.SetAudioChannelCount(3); err == nil {
		t.Error("Expected error for 3 channels")
	}
	if err := stream.SetSampleRate(0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestStreamEmitsTranscriptsInOrder(t *testing.T) {
	factory := &fakeFactory{}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	live := factory.clients[0].last()
	live.responses <- &repositories.RecognitionResponse{Results: []repositories.RecognitionResult{
		{Transcript: "hel", Confidence: 0, IsFinal: false},
		{Transcript: "", IsFinal: false},
	}}
	live.responses <- &repositories.RecognitionResponse{Results: []repositories.RecognitionResult{
		{Transcript: "hello world", Confidence: 0.92, IsFinal: true},
	}}

	var got []entities.Recognition
	for len(got) < 2 {
		select {
		case r := <-listener.recognitions:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out, got %d transcripts", len(got))
		}
	}

	if got[0].Text != "hel" || got[0].IsFinal {
		t.Errorf("Unexpected interim %+v", got[0])
	}
	if got[1].Text != "hello world" || !got[1].IsFinal || got[1].Confidence != 0.92 {
		t.Errorf("Unexpected final %+v", got[1])
	}
}

func TestStreamErrorIsEmittedWithoutRetry(t *testing.T) {
	factory := &fakeFactory{}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	client := factory.clients[0]
	client.last().errs <- errors.New("deadline exceeded")

	select {
	case <-listener.errs:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an error event")
	}

	time.Sleep(20 * time.Millisecond)
	if client.opened() != 1 {
		t.Errorf("Stream should not reconnect on its own, got %d opens", client.opened())
	}
}

func TestStreamNoErrorAfterIntentionalStop(t *testing.T) {
	factory := &fakeFactory{}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	stream.Stop()

	select {
	case err := <-listener.errs:
		t.Errorf("Unexpected error after stop: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamSetCredentials(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	first := factory.clients[0]

	if err := stream.SetCredentials(context.Background(), "/etc/creds.json"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	if len(factory.clients) != 2 || factory.paths[1] != "/etc/creds.json" {
		t.Fatalf("Expected a rebuilt client, got %v", factory.paths)
	}
	if first.opened() != 1 {
		t.Error("SetCredentials should not restart the stream")
	}
	if first.isClosed() {
		t.Error("Client in use should stay open until its stream stops")
	}

	stream.Stop()
	if !first.isClosed() {
		t.Error("Retired client should be closed when its stream stops")
	}

	stream.Start()
	second := factory.clients[1]
	if second.opened() != 1 {
		t.Errorf("Next start should use the new client, got %d opens", second.opened())
	}

	// Replacing an idle client closes it at once.
	stream.Stop()
	if err := stream.SetCredentials(context.Background(), "/etc/other.json"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	if !second.isClosed() {
		t.Error("Idle client should be closed immediately")
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !factory.clients[2].isClosed() {
		t.Error("Close should release the current client")
	}
}

func TestStreamSetCredentialsFailureKeepsClient(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)
	stream.Start()

	factory.mu.Lock()
	factory.err = errors.New("file not found")
	factory.mu.Unlock()

	if err := stream.SetCredentials(context.Background(), "/missing.json"); err == nil {
		t.Error("Expected error")
	}
	if factory.clients[0].isClosed() {
		t.Error("Existing client should be kept")
	}
	if stream.State() != StateStreaming {
		t.Error("Stream should keep running")
	}
}

func TestStreamStoppedAfterRecognizerFailure(t *testing.T) {
	factory := &fakeFactory{}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	client := factory.clients[0]
	client.last().errs <- errors.New("unavailable")

	select {
	case <-listener.errs:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an error event")
	}
	if stream.State() != StateStopped {
		t.Fatalf("Expected stopped after recognizer failure, got %s", stream.State())
	}

	// The owner recovers by starting again.
	stream.Start()
	if client.opened() != 2 {
		t.Errorf("Expected a new network stream, got %d opens", client.opened())
	}
	if stream.State() != StateStreaming {
		t.Errorf("Expected streaming after restart, got %s", stream.State())
	}
}

func TestStreamStoppedAfterRecognizerHangUp(t *testing.T) {
	factory := &fakeFactory{}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	factory.clients[0].last().hangUp()

	waitFor(t, func() bool { return stream.State() == StateStopped })
	select {
	case err := <-listener.errs:
		t.Errorf("End of stream should not be reported as an error: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	stream.Start()
	if got := factory.clients[0].opened(); got != 2 {
		t.Errorf("Expected a new network stream, got %d opens", got)
	}
}

func TestStreamDropsOutputOfStoppedSession(t *testing.T) {
	factory := &fakeFactory{hold: true}
	stream, listener := newTestStream(t, factory)

	stream.Start()
	old := factory.clients[0].last()
	stream.Stop()

	old.held <- &repositories.RecognitionResponse{Results: []repositories.RecognitionResult{
		{Transcript: "stale words", IsFinal: true},
	}}
	close(old.held)

	select {
	case r := <-listener.recognitions:
		t.Errorf("Result of a stopped session was delivered: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamSetLanguageCodeAppliesOnNextStart(t *testing.T) {
	factory := &fakeFactory{}
	stream, _ := newTestStream(t, factory)

	stream.Start()
	client := factory.clients[0]

	if err := stream.SetLanguageCode("id-ID"); err != nil {
		t.Fatalf("SetLanguageCode failed: %v", err)
	}
	if client.opened() != 1 {
		t.Errorf("Language change should not restart, got %d opens", client.opened())
	}
	if got := stream.Config().LanguageCode; got != "id-ID" {
		t.Errorf("Expected config language id-ID, got %s", got)
	}
	if got := client.last().config.LanguageCode; got != "en-US" {
		t.Errorf("Running stream should keep en-US, got %s", got)
	}

	stream.Stop()
	stream.Start()
	if got := client.last().config.LanguageCode; got != "id-ID" {
		t.Errorf("Expected next stream in id-ID, got %s", got)
	}

	if err := stream.SetLanguageCode(""); err == nil {
		t.Error("Expected error for empty language code")
	}
}

func TestStreamLogsReleaseFailureAfterSendError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	factory := &fakeFactory{}
	stream, err := NewStream(Options{
		Name:      "user",
		Config:    entities.DefaultStreamConfig("en-US"),
		NewClient: factory.New,
		Logger:    zap.New(core),
	})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	stream.Start()
	first := factory.clients[0]
	first.mu.Lock()
	first.closeErr = errors.New("connection reset")
	first.mu.Unlock()

	// The running session now owns the retired client and closes it on release.
	if err := stream.SetCredentials(context.Background(), "/etc/creds.json"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	live := first.last()
	live.mu.Lock()
	live.sendErr = errors.New("transport is closing")
	live.mu.Unlock()
	stream.Write(make([]byte, entities.FrameBytes))

	if n := logs.FilterMessage("Failed to release recognition stream").Len(); n != 1 {
		t.Errorf("Expected the release failure to be logged once, got %d", n)
	}
}
