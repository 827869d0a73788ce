// Package session ties the two capture sources to the two recognition streams
// under the meeting / audio-test state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
	"github.com/satriahrh/arunika/copilot/internal/capture"
	"github.com/satriahrh/arunika/copilot/internal/recognition"
)

// ErrClosed is returned by control operations once Run has exited
var ErrClosed = errors.New("session orchestrator is closed")

const (
	defaultInboxSize      = 512
	defaultProcessTimeout = 2 * time.Minute
	dropLogInterval       = 100
)

// Subscriber receives the orchestrator's output. Methods are called on the
// orchestrator loop and must return quickly without calling control operations.
type Subscriber interface {
	OnTranscript(segment entities.TranscriptSegment)
	OnLevel(level float64)
	OnSourceError(kind entities.SourceKind, err error)
	OnStreamError(speaker entities.Speaker, err error)
}

// MeetingProcessor is told when a meeting begins and runs the post-meeting work
type MeetingProcessor interface {
	BeginMeeting(metadata domain.MeetingMetadata)
	ProcessMeeting(ctx context.Context) error
}

// Config holds the orchestrator dependencies
type Config struct {
	MicrophoneOpener    repositories.CaptureOpener
	SystemAudioOpener   repositories.CaptureOpener
	MicrophoneDevice    string
	SystemAudioDevice   string
	SpeechClientFactory repositories.SpeechClientFactory
	CredentialsPath     string
	StreamConfig        entities.StreamConfig
	Processor           MeetingProcessor
	ProcessTimeout      time.Duration
	InboxSize           int
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Status is a snapshot of the session state
type Status struct {
	State                entities.SessionState  `json:"state"`
	MeetingActive        bool                   `json:"meeting_active"`
	AudioTestActive      bool                   `json:"audio_test_active"`
	Microphone           entities.DeviceBinding `json:"microphone"`
	SystemAudio          entities.DeviceBinding `json:"system_audio"`
	MicrophoneRecording  bool                   `json:"microphone_recording"`
	SystemAudioRecording bool                   `json:"system_audio_recording"`
	UserStreaming        bool                   `json:"user_streaming"`
	InterviewerStreaming bool                   `json:"interviewer_streaming"`
	LanguageCode         string                 `json:"language_code"`
}

type command struct {
	apply func() error
	done  chan error
}

// envelope is one inbox entry: either a command or an event
type envelope struct {
	cmd   *command
	event Event
}

// Orchestrator owns the capture sources, the recognition streams and the two
// session flags. All state is mutated on the goroutine running Run.
type Orchestrator struct {
	micOpener      repositories.CaptureOpener
	systemOpener   repositories.CaptureOpener
	processor      MeetingProcessor
	processTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time

	inbox   chan envelope
	done    chan struct{}
	running atomic.Bool
	dropped atomic.Uint64

	// owned by the loop goroutine
	meetingActive   bool
	audioTestActive bool
	mic             *capture.Source
	system          *capture.Source
	user            *recognition.Stream
	interviewer     *recognition.Stream

	unavailableLogged map[entities.SourceKind]bool

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSubID   int

	postWG sync.WaitGroup
}

// New builds an orchestrator bound to the configured devices. Call Run to start it.
func New(cfg Config) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")

	o := &Orchestrator{
		micOpener:      cfg.MicrophoneOpener,
		systemOpener:   cfg.SystemAudioOpener,
		processor:      cfg.Processor,
		processTimeout: cfg.ProcessTimeout,
		logger:         logger,
		now:            cfg.Now,
		subscribers:    make(map[int]Subscriber),
		done:           make(chan struct{}),

		unavailableLogged: make(map[entities.SourceKind]bool),
	}
	if o.processTimeout <= 0 {
		o.processTimeout = defaultProcessTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	o.inbox = make(chan envelope, size)

	for _, ch := range []struct {
		speaker entities.Speaker
		target  **recognition.Stream
	}{
		{entities.SpeakerUser, &o.user},
		{entities.SpeakerInterviewer, &o.interviewer},
	} {
		stream, err := recognition.NewStream(recognition.Options{
			Name:            string(ch.speaker),
			Config:          cfg.StreamConfig,
			CredentialsPath: cfg.CredentialsPath,
			NewClient:       cfg.SpeechClientFactory,
			Logger:          cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s stream: %w", ch.speaker, err)
		}
		stream.SetListener(streamListener{o: o, speaker: ch.speaker})
		*ch.target = stream
	}

	o.switchDevice(entities.SourceMicrophone, cfg.MicrophoneDevice)
	o.switchDevice(entities.SourceSystemOutput, cfg.SystemAudioDevice)

	return o, nil
}

// Subscribe registers s for transcripts, levels and errors
func (o *Orchestrator) Subscribe(s Subscriber) (unsubscribe func()) {
	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = s
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		o.subMu.Unlock()
	}
}

// Run processes commands and events until ctx is done, then stops every
// source and stream and waits for in-flight post-meeting processing.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("session orchestrator is already running")
	}
	o.logger.Info("Session orchestrator started")

	for {
		select {
		case <-ctx.Done():
			err := o.shutdown()
			close(o.done)
			o.postWG.Wait()
			o.logger.Info("Session orchestrator stopped")
			return err
		case env := <-o.inbox:
			if env.cmd != nil {
				env.cmd.done <- env.cmd.apply()
				continue
			}
			o.handle(env.event)
		}
	}
}

// StartAudioTest enables the level-only test, optionally on another microphone
func (o *Orchestrator) StartAudioTest(ctx context.Context, deviceID string) error {
	return o.exec(ctx, func() error {
		if deviceID != "" {
			o.switchDevice(entities.SourceMicrophone, deviceID)
		}
		o.audioTestActive = true
		o.reconcile()
		return nil
	})
}

// StopAudioTest disables the level-only test
func (o *Orchestrator) StopAudioTest(ctx context.Context) error {
	return o.exec(ctx, func() error {
		o.audioTestActive = false
		o.reconcile()
		return nil
	})
}

// StartMeeting switches to the devices named in metadata and starts capture
// and recognition on both channels.
func (o *Orchestrator) StartMeeting(ctx context.Context, metadata *domain.MeetingMetadata) error {
	return o.exec(ctx, func() error {
		var meta domain.MeetingMetadata
		if metadata != nil {
			meta = *metadata
		}
		if meta.Audio.InputDeviceID != "" {
			o.switchDevice(entities.SourceMicrophone, meta.Audio.InputDeviceID)
		}
		if meta.Audio.OutputDeviceID != "" {
			o.switchDevice(entities.SourceSystemOutput, meta.Audio.OutputDeviceID)
		}

		if !o.meetingActive && o.processor != nil {
			o.processor.BeginMeeting(meta)
		}
		o.meetingActive = true
		o.reconcile()
		o.logger.Info("Meeting started", zap.String("title", meta.Title))
		return nil
	})
}

// EndMeeting stops capture and recognition and triggers post-meeting processing
func (o *Orchestrator) EndMeeting(ctx context.Context) error {
	return o.exec(ctx, func() error {
		o.endMeeting()
		return nil
	})
}

// UpdateMicrophoneDevice rebinds the microphone source
func (o *Orchestrator) UpdateMicrophoneDevice(ctx context.Context, deviceID string) error {
	return o.exec(ctx, func() error {
		o.switchDevice(entities.SourceMicrophone, deviceID)
		o.reconcile()
		return nil
	})
}

// UpdateSystemAudioDevice rebinds the loopback source
func (o *Orchestrator) UpdateSystemAudioDevice(ctx context.Context, deviceID string) error {
	return o.exec(ctx, func() error {
		o.switchDevice(entities.SourceSystemOutput, deviceID)
		o.reconcile()
		return nil
	})
}

// UpdateCredentials rebuilds the recognizer clients of both streams
func (o *Orchestrator) UpdateCredentials(ctx context.Context, path string) error {
	return o.exec(ctx, func() error {
		var result *multierror.Error
		for _, stream := range []*recognition.Stream{o.user, o.interviewer} {
			if err := stream.SetCredentials(ctx, path); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
}

// UpdateLanguageCode sets the recognition language of both streams. Running
// streams keep their language until they are next started.
func (o *Orchestrator) UpdateLanguageCode(ctx context.Context, code string) error {
	return o.exec(ctx, func() error {
		var result *multierror.Error
		for _, stream := range []*recognition.Stream{o.user, o.interviewer} {
			if err := stream.SetLanguageCode(code); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
		o.logger.Info("Recognition language updated", zap.String("language", code))
		return nil
	})
}

// Status returns a snapshot taken on the loop, after every event queued before it
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := o.exec(ctx, func() error {
		st = Status{
			State:                entities.DeriveSessionState(o.meetingActive, o.audioTestActive),
			MeetingActive:        o.meetingActive,
			AudioTestActive:      o.audioTestActive,
			Microphone:           o.mic.Binding(),
			SystemAudio:          o.system.Binding(),
			MicrophoneRecording:  o.mic.Recording(),
			SystemAudioRecording: o.system.Recording(),
			UserStreaming:        o.user.State() == recognition.StateStreaming,
			InterviewerStreaming: o.interviewer.State() == recognition.StateStreaming,
			LanguageCode:         o.user.Config().LanguageCode,
		}
		return nil
	})
	return st, err
}

func (o *Orchestrator) exec(ctx context.Context, fn func() error) error {
	cmd := &command{apply: fn, done: make(chan error, 1)}

	select {
	case o.inbox <- envelope{cmd: cmd}:
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-o.done:
		select {
		case err := <-cmd.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post waits for room in the inbox
func (o *Orchestrator) post(ev Event) {
	select {
	case o.inbox <- envelope{event: ev}:
	case <-o.done:
	}
}

// tryPost never blocks; it may run on the loop goroutine itself
func (o *Orchestrator) tryPost(ev Event) {
	select {
	case o.inbox <- envelope{event: ev}:
		return
	default:
	}

	switch e := ev.(type) {
	case SourceData:
		if n := o.dropped.Add(1); n%dropLogInterval == 1 {
			o.logger.Warn("Session inbox full, dropping audio chunk",
				zap.String("source", string(e.Kind)),
				zap.Uint64("dropped_total", n))
		}
	default:
		o.logger.Error("Session inbox full, dropping event", zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (o *Orchestrator) handle(ev Event) {
	switch e := ev.(type) {
	case SourceData:
		o.routeChunk(e)
	case SourceError:
		o.logSourceError(e)
		for _, s := range o.snapshotSubscribers() {
			s.OnSourceError(e.Kind, e.Err)
		}
	case StreamTranscript:
		o.fanOutTranscript(e)
	case StreamError:
		for _, s := range o.snapshotSubscribers() {
			s.OnStreamError(e.Speaker, e.Err)
		}
	}
}

// logSourceError logs missing capture capability once per source kind,
// however many sources of that kind are built by device switches.
func (o *Orchestrator) logSourceError(e SourceError) {
	if !errors.Is(e.Err, repositories.ErrCaptureUnavailable) {
		return
	}
	if o.unavailableLogged[e.Kind] {
		return
	}
	o.unavailableLogged[e.Kind] = true
	o.logger.Error("Native capture is unavailable, source will not start",
		zap.String("source", string(e.Kind)))
}

func (o *Orchestrator) routeChunk(e SourceData) {
	switch e.Kind {
	case entities.SourceMicrophone:
		if o.meetingActive {
			o.user.Write(e.Chunk)
		}
		if o.meetingActive || o.audioTestActive {
			level := ComputeLevel(e.Chunk)
			for _, s := range o.snapshotSubscribers() {
				s.OnLevel(level)
			}
		}
	case entities.SourceSystemOutput:
		if o.meetingActive {
			o.interviewer.Write(e.Chunk)
		}
	}
}

func (o *Orchestrator) fanOutTranscript(e StreamTranscript) {
	if !o.meetingActive {
		o.logger.Debug("Dropping transcript received outside a meeting", zap.String("speaker", string(e.Speaker)))
		return
	}
	segment := entities.TranscriptSegment{
		Speaker:     e.Speaker,
		Text:        e.Recognition.Text,
		TimestampMs: o.now().UnixMilli(),
		IsFinal:     e.Recognition.IsFinal,
		Confidence:  e.Recognition.Confidence,
	}
	for _, s := range o.snapshotSubscribers() {
		s.OnTranscript(segment)
	}
}

// reconcile starts or stops every component so that capture runs iff a meeting
// or audio test is active, and recognition runs iff a meeting is active.
func (o *Orchestrator) reconcile() {
	running := o.meetingActive || o.audioTestActive
	for _, src := range []*capture.Source{o.mic, o.system} {
		if running {
			src.Start()
		} else {
			src.Stop()
		}
	}

	if !o.meetingActive {
		o.user.Stop()
		o.interviewer.Stop()
		return
	}

	o.syncSampleRate(o.user, o.mic)
	o.syncSampleRate(o.interviewer, o.system)
	o.user.Start()
	o.interviewer.Start()
}

func (o *Orchestrator) syncSampleRate(stream *recognition.Stream, src *capture.Source) {
	if err := stream.SetSampleRate(src.SampleRate()); err != nil {
		o.logger.Warn("Failed to apply source sample rate", zap.String("source", string(src.Kind())), zap.Error(err))
	}
}

func (o *Orchestrator) endMeeting() {
	wasActive := o.meetingActive
	o.meetingActive = false
	o.reconcile()

	if !wasActive {
		return
	}
	o.logger.Info("Meeting ended")
	if o.processor == nil {
		return
	}

	o.postWG.Add(1)
	go func() {
		defer o.postWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.processTimeout)
		defer cancel()
		if err := o.processor.ProcessMeeting(ctx); err != nil {
			o.logger.Error("Post-meeting processing failed", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) shutdown() error {
	if o.meetingActive {
		o.endMeeting()
	}
	o.audioTestActive = false
	o.reconcile()

	var result *multierror.Error
	for _, stream := range []*recognition.Stream{o.user, o.interviewer} {
		if err := stream.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) snapshotSubscribers() []Subscriber {
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	subs := make([]Subscriber, 0, len(o.subscribers))
	for _, s := range o.subscribers {
		subs = append(subs, s)
	}
	return subs
}
