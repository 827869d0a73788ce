package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

type fakeCapture struct {
	mu      sync.Mutex
	device  string
	onChunk func([]byte)
	running bool
}

func (f *fakeCapture) Start(onChunk func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChunk = onChunk
	f.running = true
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeCapture) SampleRate() int { return entities.CanonicalSampleRate }

func (f *fakeCapture) emit(chunk []byte) {
	f.mu.Lock()
	cb := f.onChunk
	f.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

type fakeOpener struct {
	mu      sync.Mutex
	handles []*fakeCapture
}

func (o *fakeOpener) Open(deviceID string) (repositories.NativeCapture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeCapture{device: deviceID}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOpener) latest(t *testing.T) *fakeCapture {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) == 0 {
		t.Fatal("no capture handle opened")
	}
	return o.handles[len(o.handles)-1]
}

func (o *fakeOpener) all() []*fakeCapture {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeCapture(nil), o.handles...)
}

type fakeRecognition struct {
	mu        sync.Mutex
	sent      [][]byte
	responses chan *repositories.RecognitionResponse
	ctx       context.Context
	config    repositories.StreamingConfig
}

func (f *fakeRecognition) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeRecognition) Recv() (*repositories.RecognitionResponse, error) {
	select {
	case resp := <-f.responses:
		return resp, nil
	case <-f.ctx.Done():
		return nil, io.EOF
	}
}

func (f *fakeRecognition) CloseSend() error { return nil }

func (f *fakeRecognition) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSpeech struct {
	mu      sync.Mutex
	streams []*fakeRecognition
	paths   []string
}

func (f *fakeSpeech) factory(ctx context.Context, path string) (repositories.SpeechClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return &fakeSpeechClient{speech: f}, nil
}

func (f *fakeSpeech) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeSpeech) stream(i int) *fakeRecognition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type fakeSpeechClient struct {
	speech *fakeSpeech
}

func (c *fakeSpeechClient) StreamingRecognize(ctx context.Context, cfg repositories.StreamingConfig) (repositories.RecognitionStream, error) {
	s := &fakeRecognition{responses: make(chan *repositories.RecognitionResponse, 8), ctx: ctx, config: cfg}
	c.speech.mu.Lock()
	c.speech.streams = append(c.speech.streams, s)
	c.speech.mu.Unlock()
	return s, nil
}

func (c *fakeSpeechClient) Close() error { return nil }

type recordingSubscriber struct {
	mu           sync.Mutex
	segments     []entities.TranscriptSegment
	levels       []float64
	sourceErrors []entities.SourceKind
	streamErrors []entities.Speaker
}

func (r *recordingSubscriber) OnTranscript(s entities.TranscriptSegment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, s)
}

func (r *recordingSubscriber) OnLevel(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *recordingSubscriber) OnSourceError(kind entities.SourceKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceErrors = append(r.sourceErrors, kind)
}

func (r *recordingSubscriber) OnStreamError(speaker entities.Speaker, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamErrors = append(r.streamErrors, speaker)
}

func (r *recordingSubscriber) transcripts() []entities.TranscriptSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.TranscriptSegment(nil), r.segments...)
}

func (r *recordingSubscriber) levelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.levels)
}

type fakeProcessor struct {
	mu        sync.Mutex
	begun     []domain.MeetingMetadata
	processed chan struct{}
	err       error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{processed: make(chan struct{}, 8)}
}

func (p *fakeProcessor) BeginMeeting(metadata domain.MeetingMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begun = append(p.begun, metadata)
}

func (p *fakeProcessor) ProcessMeeting(ctx context.Context) error {
	p.processed <- struct{}{}
	return p.err
}

type harness struct {
	o          *Orchestrator
	mic        *fakeOpener
	system     *fakeOpener
	speech     *fakeSpeech
	processor  *fakeProcessor
	subscriber *recordingSubscriber
	cancel     context.CancelFunc
	stopped    chan error
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mic:        &fakeOpener{},
		system:     &fakeOpener{},
		speech:     &fakeSpeech{},
		processor:  newFakeProcessor(),
		subscriber: &recordingSubscriber{},
		stopped:    make(chan error, 1),
		clock:      time.UnixMilli(1_700_000_000_000),
	}

	o, err := New(Config{
		MicrophoneOpener:    h.mic,
		SystemAudioOpener:   h.system,
		SpeechClientFactory: h.speech.factory,
		StreamConfig:        entities.DefaultStreamConfig("en-US"),
		Processor:           h.processor,
		Logger:              zaptest.NewLogger(t),
		Now:                 func() time.Time { return h.clock },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.o = o
	o.Subscribe(h.subscriber)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.stopped <- o.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.stopped:
		case <-time.After(2 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return h
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return st
}

func frame(value int16) []byte {
	buf := make([]byte, entities.FrameBytes)
	for i := 0; i < entities.FrameSamples; i++ {
		buf[2*i] = byte(uint16(value))
		buf[2*i+1] = byte(uint16(value) >> 8)
	}
	return buf
}
