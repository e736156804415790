package stream

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/epglabs/epgio/internal/ble"
)

var ErrOutboxFull = errors.New("stream: outbox full")

const defaultOutboxDepth = 32

type pendingWrite struct {
	tag     string
	command string
	payload []byte
	sync    bool
}

// outbox serializes command writes for one session generation. Writes go out
// strictly FIFO and are rate limited so a burst of UI commands cannot starve
// the notification path on a constrained link.
type outbox struct {
	session ble.Session
	limiter *rate.Limiter
	queue   chan pendingWrite
	onDone  func(pendingWrite, error)
	ctx     context.Context
	cancel  context.CancelFunc
}

func newOutbox(session ble.Session, writesPerSecond float64, onDone func(pendingWrite, error)) *outbox {
	if writesPerSecond <= 0 {
		writesPerSecond = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(writesPerSecond), 1),
		queue:   make(chan pendingWrite, defaultOutboxDepth),
		onDone:  onDone,
		ctx:     ctx,
		cancel:  cancel,
	}
	go o.run()
	return o
}

// enqueue accepts a command for delivery. A missing tag gets a generated
// correlation tag.
func (o *outbox) enqueue(command, tag string, payload []byte, sync bool) (string, error) {
	if tag == "" {
		tag = uuid.NewString()
	}
	w := pendingWrite{
		tag:     tag,
		command: command,
		payload: payload,
		sync:    sync,
	}
	select {
	case o.queue <- w:
		return w.tag, nil
	default:
		return "", ErrOutboxFull
	}
}

func (o *outbox) run() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case w := <-o.queue:
			if err := o.limiter.Wait(o.ctx); err != nil {
				return
			}
			err := o.session.Write(o.ctx, w.payload, w.sync)
			if o.ctx.Err() != nil {
				return
			}
			o.onDone(w, err)
		}
	}
}

func (o *outbox) stop() { o.cancel() }
