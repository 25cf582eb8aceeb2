// Package tailer follows a single log path across appends, truncation and
// rotation. A Reader is polled on a schedule by its owner; every call reports
// the complete lines appended since the previous call together with the
// lifecycle events observed along the way.
package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/Hasintha01/logwatcher/internal/identity"
)

const (
	defaultMaxReadBytes = 4 << 20
	defaultMaxLineBytes = 1 << 20
	readChunk           = 32 << 10
)

// State is the lifecycle state of a watched path.
type State int

const (
	// StateUnopened: never opened. The first open seeks to end of file.
	StateUnopened State = iota
	// StateOpen: a handle is held and reading follows it.
	StateOpen
	// StateStale: the handle was released after the file disappeared; the
	// next file seen at the path is read from its start.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind classifies a lifecycle transition observed during Poll.
type EventKind int

const (
	EventWaiting   EventKind = iota + 1 // path absent before the first open
	EventOpened                         // first open, positioned at end of file
	EventResumed                        // first open, positioned at a checkpointed offset
	EventReopened                       // the same file came back after vanishing
	EventRotated                        // a different file now lives at the path
	EventTruncated                      // the file shrank below the read offset
	EventVanished                       // the open file disappeared from the path
)

func (k EventKind) String() string {
	switch k {
	case EventWaiting:
		return "waiting"
	case EventOpened:
		return "opened"
	case EventResumed:
		return "resumed"
	case EventReopened:
		return "reopened"
	case EventRotated:
		return "rotated"
	case EventTruncated:
		return "truncated"
	case EventVanished:
		return "vanished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes one transition. Old and New are the identities before and
// after; Offset is where reading continues.
type Event struct {
	Kind       EventKind
	Old        identity.ID
	New        identity.ID
	Offset     int64
	PrevOffset int64
	Drained    int // lines recovered from the old handle before it was closed
}

// Result is the outcome of one Poll. Lines are in file order; lines drained
// from a rotated file precede lines of its replacement.
type Result struct {
	Lines  []string
	Events []Event
	More   bool // the per-poll read limit was hit; data is still pending
}

// Policy tunes rotation handling and read bounds.
type Policy struct {
	// DrainRotated reads the remainder of a rotated or vanished file from
	// the old handle before closing it.
	DrainRotated bool
	// RotatedFromStart reads a replacement file from offset 0 rather than
	// from its end.
	RotatedFromStart bool
	// MaxReadBytes bounds the bytes consumed by one Poll.
	MaxReadBytes int64
	// MaxLineBytes bounds an unterminated line; longer lines are emitted in
	// pieces of this size.
	MaxLineBytes int
}

// DefaultPolicy drains rotated files and reads their replacements in full.
func DefaultPolicy() Policy {
	return Policy{
		DrainRotated:     true,
		RotatedFromStart: true,
		MaxReadBytes:     defaultMaxReadBytes,
		MaxLineBytes:     defaultMaxLineBytes,
	}
}

// Reader tails one path. It is not safe for concurrent use; its owner must
// ensure at most one Poll is in flight.
type Reader struct {
	path   string
	policy Policy
	ckpt   *Checkpoint

	state   State
	id      identity.ID
	offset  int64 // bytes consumed from the current file, including partial
	file    *os.File
	partial []byte // unterminated tail held back until its newline arrives
	waiting bool
	buf     []byte
}

// NewReader creates a Reader for path. ckpt may be nil.
func NewReader(path string, policy Policy, ckpt *Checkpoint) *Reader {
	if policy.MaxReadBytes <= 0 {
		policy.MaxReadBytes = defaultMaxReadBytes
	}
	if policy.MaxLineBytes <= 0 {
		policy.MaxLineBytes = defaultMaxLineBytes
	}
	return &Reader{
		path:   path,
		policy: policy,
		ckpt:   ckpt,
		buf:    make([]byte, readChunk),
	}
}

func (r *Reader) Path() string          { return r.path }
func (r *Reader) State() State          { return r.state }
func (r *Reader) Identity() identity.ID { return r.id }

// Offset returns the byte offset of the first line not yet yielded.
func (r *Reader) Offset() int64 { return r.offset - int64(len(r.partial)) }

// Poll inspects the path once and returns whatever became readable since the
// previous call. An error leaves the reader in a consistent state; lines in
// the returned Result are valid even when err is non-nil.
func (r *Reader) Poll() (Result, error) {
	var res Result

	info, ok, err := identity.Lookup(r.path)
	if err != nil {
		// Never guess at rotation or truncation from a failed lookup.
		return res, err
	}

	switch {
	case !ok:
		err = r.absent(&res)
	case r.state == StateUnopened:
		err = r.open(&res)
	case r.state == StateStale:
		err = r.reappear(&res)
	case info.ID != r.id:
		err = r.rotate(&res)
	case info.Size < r.offset:
		err = r.truncate(&res)
	default:
		err = r.read(&res)
	}

	r.commit()
	return res, err
}

// Close releases the handle. A later Poll treats the path as stale.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	r.rewindPartial()
	r.commit()
	err := r.file.Close()
	r.file = nil
	r.state = StateStale
	return err
}

func (r *Reader) absent(res *Result) error {
	switch r.state {
	case StateUnopened:
		if !r.waiting {
			r.waiting = true
			res.Events = append(res.Events, Event{Kind: EventWaiting})
		}
	case StateOpen:
		old := r.id
		n, err := r.drainAndClose(res)
		r.state = StateStale
		res.Events = append(res.Events, Event{Kind: EventVanished, Old: old, Offset: r.offset, Drained: n})
		return err
	}
	return nil
}

func (r *Reader) open(res *Result) error {
	f, info, err := r.openPath()
	if f == nil {
		return err
	}

	start, kind := info.Size, EventOpened
	if r.ckpt != nil {
		if pos, ok := r.ckpt.Get(r.path); ok && pos.ID == info.ID && pos.Offset <= info.Size {
			start, kind = pos.Offset, EventResumed
		}
	}

	r.attach(f, info.ID, start)
	res.Events = append(res.Events, Event{Kind: kind, New: info.ID, Offset: start})
	return r.read(res)
}

func (r *Reader) reappear(res *Result) error {
	f, info, err := r.openPath()
	if f == nil {
		return err
	}

	old, prev := r.id, r.offset
	ev := Event{Old: old, New: info.ID, PrevOffset: prev}
	switch {
	case info.ID == old && prev <= info.Size:
		ev.Kind, ev.Offset = EventReopened, prev
	case info.ID == old:
		ev.Kind, ev.Offset = EventTruncated, 0
	default:
		ev.Kind, ev.Offset = EventRotated, r.rotatedStart(info.Size)
	}

	r.attach(f, info.ID, ev.Offset)
	res.Events = append(res.Events, ev)
	return r.read(res)
}

func (r *Reader) rotate(res *Result) error {
	old, prev := r.id, r.offset
	drained, drainErr := r.drainAndClose(res)
	r.state = StateStale

	f, info, err := r.openPath()
	if f == nil {
		if err == nil {
			res.Events = append(res.Events, Event{Kind: EventVanished, Old: old, Offset: r.offset, Drained: drained})
		}
		return errors.Join(drainErr, err)
	}

	start := r.rotatedStart(info.Size)
	r.attach(f, info.ID, start)
	res.Events = append(res.Events, Event{
		Kind:       EventRotated,
		Old:        old,
		New:        info.ID,
		Offset:     start,
		PrevOffset: prev,
		Drained:    drained,
	})
	return errors.Join(drainErr, r.read(res))
}

func (r *Reader) truncate(res *Result) error {
	prev := r.offset
	r.offset = 0
	r.partial = r.partial[:0]
	res.Events = append(res.Events, Event{Kind: EventTruncated, Old: r.id, New: r.id, PrevOffset: prev})
	return r.read(res)
}

func (r *Reader) read(res *Result) error {
	more, err := r.readFrom(res, r.policy.MaxReadBytes)
	res.More = res.More || more
	return err
}

// drainAndClose consumes what is left in the current handle and closes it.
// The old file will not grow any further, so an unterminated last line is
// emitted as is.
func (r *Reader) drainAndClose(res *Result) (int, error) {
	if r.file == nil {
		return 0, nil
	}
	defer func() {
		r.file.Close()
		r.file = nil
	}()

	if !r.policy.DrainRotated {
		r.rewindPartial()
		return 0, nil
	}

	before := len(res.Lines)
	_, err := r.readFrom(res, 0)
	if len(r.partial) > 0 {
		res.Lines = append(res.Lines, string(r.partial))
		r.partial = r.partial[:0]
	}
	return len(res.Lines) - before, err
}

// readFrom reads from the current offset until EOF or until limit bytes have
// been consumed (limit <= 0 means no limit). It reports whether the limit
// stopped the read.
func (r *Reader) readFrom(res *Result, limit int64) (bool, error) {
	var n int64
	for limit <= 0 || n < limit {
		m, err := r.file.ReadAt(r.buf, r.offset)
		if m > 0 {
			r.offset += int64(m)
			n += int64(m)
			res.Lines = r.split(res.Lines, r.buf[:m])
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("tailer: read %s: %w", r.path, err)
		}
	}
	return true, nil
}

func (r *Reader) split(lines []string, chunk []byte) []string {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			r.partial = append(r.partial, chunk...)
			if len(r.partial) >= r.policy.MaxLineBytes {
				lines = append(lines, string(r.partial))
				r.partial = r.partial[:0]
			}
			return lines
		}

		line := chunk[:i]
		if len(r.partial) > 0 {
			r.partial = append(r.partial, line...)
			line = r.partial
		}
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		r.partial = r.partial[:0]
		chunk = chunk[i+1:]
	}
	return lines
}

// openPath opens the path and returns the identity of the handle actually
// opened. It returns a nil file and nil error if the path disappeared again.
func (r *Reader) openPath() (*os.File, identity.Info, error) {
	f, err := openShared(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, identity.Info{}, nil
		}
		return nil, identity.Info{}, fmt.Errorf("tailer: open %s: %w", r.path, err)
	}
	info, err := identity.Of(f)
	if err != nil {
		f.Close()
		return nil, identity.Info{}, err
	}
	return f, info, nil
}

func (r *Reader) attach(f *os.File, id identity.ID, offset int64) {
	r.file = f
	r.id = id
	r.offset = offset
	r.partial = r.partial[:0]
	r.state = StateOpen
	r.waiting = false
}

func (r *Reader) rotatedStart(size int64) int64 {
	if r.policy.RotatedFromStart {
		return 0
	}
	return size
}

// rewindPartial gives back the bytes of an unterminated line so they are
// read again, whole, by whoever opens the file next.
func (r *Reader) rewindPartial() {
	r.offset -= int64(len(r.partial))
	r.partial = r.partial[:0]
}

func (r *Reader) commit() {
	if r.ckpt == nil || r.id.IsZero() {
		return
	}
	r.ckpt.Set(r.path, Position{ID: r.id, Offset: r.Offset()})
}
