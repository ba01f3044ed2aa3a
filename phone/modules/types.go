package modules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gossipline/gossip"
	"gossipline/pipeline"
	"gossipline/sound"
)

// State is the call controller's position in a call.
type State int32

const (
	Idle State = iota
	Prompting
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Prompting:
		return "prompting"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// Player plays one audio file to completion or until ctx is canceled.
type Player interface {
	PlayBlocking(ctx context.Context, path string) error
}

// Recorder starts capturing from the microphone.
type Recorder interface {
	StartCapture() (*sound.Capture, error)
}

// GossipSource is the part of the gossip store the controller reads.
type GossipSource interface {
	RandomActive() (*gossip.Record, error)
	Reconcile() (int, error)
}

// Processor turns a recording into a stored gossip.
type Processor interface {
	Process(ctx context.Context, wav []byte) (pipeline.Result, error)
}

// Queue runs background jobs.
type Queue interface {
	Submit(name string, run func(ctx context.Context)) error
	Close() error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Player   Player
	Recorder Recorder
	Gossip   GossipSource
	Pipeline Processor
	Jobs     Queue
}

// Options holds asset paths and timings for a call.
type Options struct {
	WelcomeAudio    string
	TransitionAudio string
	// FirstTimeAudio is played when there is no gossip yet. When it is
	// missing the controller pauses for FirstTimePause instead.
	FirstTimeAudio string
	RecordingPath  string

	FirstTimePause     time.Duration
	PromptGap          time.Duration
	RecordDelay        time.Duration
	CaptureJoinTimeout time.Duration
}

// DefaultOptions matches the asset names the prompt generator writes.
func DefaultOptions() Options {
	return Options{
		WelcomeAudio:       "welcome.mp3",
		TransitionAudio:    "transition.mp3",
		FirstTimeAudio:     "first_time.mp3",
		RecordingPath:      "phone_recording.wav",
		FirstTimePause:     2 * time.Second,
		PromptGap:          500 * time.Millisecond,
		RecordDelay:        time.Second,
		CaptureJoinTimeout: 2 * time.Second,
	}
}

// session is one live call, from pickup until hangup or abort.
type session struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the call state machine. Handlers are safe to call from any
// goroutine; a mutex serializes transitions.
type Controller struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	seq     uint64
	session *session
	capture *sound.Capture

	ctx  context.Context
	stop context.CancelFunc

	// Cleanup synchronization
	cleanup struct {
		sync.Once
		done chan struct{}
	}
}

func NewController(deps Deps, opts Options) *Controller {
	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		deps:   deps,
		opts:   opts,
		logger: log.With().Str("component", "controller").Logger(),
		ctx:    ctx,
		stop:   stop,
	}
	c.cleanup.done = make(chan struct{})
	return c
}
