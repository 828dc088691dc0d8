package gen

import "github.com/nodecrew/beamkit/persistence"

const (
	// DefaultCallTimeoutMs is the default Call timeout per spec §4.1.
	DefaultCallTimeoutMs = 5000
	// DefaultMailboxSize bounds the per-process FIFO queue.
	DefaultMailboxSize = 256
)

// Options configures Start, mirroring spec §6's GenServer start surface.
type Options struct {
	// Name, if set, registers the process under this name; Start fails
	// with AlreadyRegistered if the name is taken.
	Name string

	// TrapExit, if true, converts incoming abnormal exit signals into
	// info messages instead of terminating the process.
	TrapExit bool

	// Persistence, if non-nil, enables checkpointing/restore for this
	// process. See persistence.Options.
	Persistence *persistence.Options

	// MailboxSize overrides DefaultMailboxSize.
	MailboxSize int

	// Args are passed through to Behavior.Init.
	Args []interface{}
}

// Option is a functional-option constructor, matching the idiom used
// across the retrieval pack (e.g. registry.Option in
// webitel-im-delivery-service/internal/domain/registry/options.go) layered
// on top of the plain Options struct so callers can use either style.
type Option func(*Options)

func WithName(name string) Option { return func(o *Options) { o.Name = name } }

func WithTrapExit(trap bool) Option { return func(o *Options) { o.TrapExit = trap } }

func WithPersistence(p persistence.Options) Option {
	return func(o *Options) { o.Persistence = &p }
}

func WithMailboxSize(n int) Option { return func(o *Options) { o.MailboxSize = n } }

func WithArgs(args ...interface{}) Option { return func(o *Options) { o.Args = args } }

func buildOptions(opts ...Option) Options {
	o := Options{MailboxSize: DefaultMailboxSize}
	for _, apply := range opts {
		apply(&o)
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = DefaultMailboxSize
	}
	return o
}
