package session

import (
	"github.com/satriahrh/arunika/copilot/domain/entities"
)

// Event is the closed set of notifications the orchestrator loop consumes
type Event interface {
	isEvent()
}

// SourceData carries one chunk copied from a capture source
type SourceData struct {
	Kind  entities.SourceKind
	Chunk []byte
}

// SourceError reports a capture source failure
type SourceError struct {
	Kind entities.SourceKind
	Err  error
}

// StreamTranscript carries a recognizer result from one speaker channel
type StreamTranscript struct {
	Speaker     entities.Speaker
	Recognition entities.Recognition
}

// StreamError reports a recognition stream failure
type StreamError struct {
	Speaker entities.Speaker
	Err     error
}

func (SourceData) isEvent()       {}
func (SourceError) isEvent()      {}
func (StreamTranscript) isEvent() {}
func (StreamError) isEvent()      {}

// sourceListener posts capture events for one source kind
type sourceListener struct {
	o *Orchestrator
}

func (l sourceListener) OnSourceData(kind entities.SourceKind, chunk []byte) {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	l.o.tryPost(SourceData{Kind: kind, Chunk: buf})
}

func (l sourceListener) OnSourceError(kind entities.SourceKind, err error) {
	l.o.tryPost(SourceError{Kind: kind, Err: err})
}

// streamListener posts recognizer events for one speaker channel
type streamListener struct {
	o       *Orchestrator
	speaker entities.Speaker
}

func (l streamListener) OnRecognition(r entities.Recognition) {
	l.o.post(StreamTranscript{Speaker: l.speaker, Recognition: r})
}

func (l streamListener) OnStreamError(err error) {
	l.o.tryPost(StreamError{Speaker: l.speaker, Err: err})
}
