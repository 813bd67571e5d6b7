// Package transcript reconstructs a two-party conversation log from
// overlapping partial events delivered by a live session.
//
// The remote side streams transcription fragments with no per-fragment
// ordering guarantees across parties, explicit turn boundaries for the
// assistant only, and no boundaries at all for user speech (fragments arrive
// as a rapid burst). The [Reconciler] merges this into an ordered sequence of
// items: assistant fragments accumulate onto the last incomplete assistant
// item until a turn-boundary signal; user fragments accumulate onto the last
// user item only while it was updated within a short recency window.
//
// Assistant text carries an internal reasoning preamble terminated by a
// delimiter. Everything up to and including the last delimiter occurrence is
// internal-only: it is retained in raw item state but never rendered, and an
// item whose visible remainder is empty is suppressed from render entirely.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source identifies which party produced an item.
type Source int

const (
	SourceUser Source = iota + 1
	SourceAssistant
)

// String returns a short name for the source, used in logs and wire updates.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// DefaultMergeWindow is the trailing recency window within which consecutive
// user fragments coalesce into one item.
const DefaultMergeWindow = 3 * time.Second

// DefaultDelimiter separates the assistant's internal reasoning preamble from
// its user-facing reply.
const DefaultDelimiter = "»"

// Item is one turn of the transcript. Items are mutated in place while open
// and never after completion.
type Item struct {
	ID        string
	Source    Source
	Timestamp time.Time
	Complete  bool

	// raw is the accumulated text including any internal preamble. It is
	// unexported: callers render through [Reconciler.Visible], which applies
	// the fencing policy.
	raw string

	// audio holds the ordered inbound PCM chunks of an assistant turn, kept
	// for on-demand replay.
	audio [][]byte
}

// RawText returns the full accumulated text including any internal preamble.
// For internal use and tests only — raw text must never be rendered or logged
// externally.
func (it *Item) RawText() string { return it.raw }

// Audio returns the ordered PCM chunks of the item, or nil for user items.
func (it *Item) Audio() [][]byte { return it.audio }

// Entry is the render-ready projection of an [Item].
type Entry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Complete  bool      `json:"complete"`
	HasAudio  bool      `json:"has_audio"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithMergeWindow overrides [DefaultMergeWindow].
func WithMergeWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.mergeWindow = d
		}
	}
}

// WithDelimiter overrides [DefaultDelimiter]. An empty delimiter disables
// fencing: all assistant text renders as-is.
func WithDelimiter(delim string) Option {
	return func(r *Reconciler) { r.delimiter = delim }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler merges partial transcript events into an ordered item sequence.
// All exported methods are safe for concurrent use.
type Reconciler struct {
	mergeWindow time.Duration
	delimiter   string
	now         func() time.Time

	mu    sync.Mutex
	items []*Item
}

// New creates a Reconciler with the default merge window and delimiter.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		mergeWindow: DefaultMergeWindow,
		delimiter:   DefaultDelimiter,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AppendAssistantText accumulates a partial output transcription fragment.
func (r *Reconciler) AppendAssistantText(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.openAssistantLocked()
	it.raw += text
}

// AppendAssistantAudio records one inbound audio chunk on the current
// assistant turn for later replay.
func (r *Reconciler) AppendAssistantAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.openAssistantLocked()
	it.audio = append(it.audio, pcm)
}

// AppendUserText accumulates a partial input transcription fragment. The
// fragment coalesces onto the last user item when that item was updated
// within the merge window; otherwise a new item starts.
func (r *Reconciler) AppendUserText(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if it := r.lastUserLocked(); it != nil && !it.Complete && now.Sub(it.Timestamp) <= r.mergeWindow {
		it.raw += text
		it.Timestamp = now // trailing window: extend on every fragment
		return
	}
	r.items = append(r.items, &Item{
		ID:        uuid.NewString(),
		Source:    SourceUser,
		Timestamp: now,
		raw:       text,
	})
}

// AddUserTurn appends an already-complete user item. Used for typed text
// input, which is final when sent and bypasses partial reconciliation.
func (r *Reconciler) AddUserTurn(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, &Item{
		ID:        uuid.NewString(),
		Source:    SourceUser,
		Timestamp: r.now(),
		raw:       text,
		Complete:  true,
	})
}

// FinalizeAssistant marks the open assistant item complete. Invoked on an
// explicit turn-boundary signal or on interruption. No-op when no assistant
// item is open.
func (r *Reconciler) FinalizeAssistant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it := r.lastAssistantLocked(); it != nil && !it.Complete {
		it.Complete = true
	}
}

// CloseOpen marks every open item complete. Invoked on session teardown so
// nothing remains mutable across sessions.
func (r *Reconciler) CloseOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		it.Complete = true
	}
}

// Visible returns the render-ready transcript: assistant text is fenced and
// items whose visible remainder is empty are suppressed.
func (r *Reconciler) Visible() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.items))
	for _, it := range r.items {
		text := it.raw
		if it.Source == SourceAssistant {
			text = Fence(text, r.delimiter)
		} else {
			text = strings.TrimSpace(text)
		}
		if text == "" {
			continue
		}
		entries = append(entries, Entry{
			ID:        it.ID,
			Source:    it.Source.String(),
			Text:      text,
			Complete:  it.Complete,
			HasAudio:  len(it.audio) > 0,
			Timestamp: it.Timestamp,
		})
	}
	return entries
}

// Items returns the raw item sequence, including suppressed ones. Internal
// accessor for replay and tests.
func (r *Reconciler) Items() []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Item, len(r.items))
	copy(out, r.items)
	return out
}

// Item returns the item with the given ID, or nil.
func (r *Reconciler) Item(id string) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// openAssistantLocked returns the last incomplete assistant item, creating a
// new one if the previous assistant turn has completed. Callers must hold r.mu.
func (r *Reconciler) openAssistantLocked() *Item {
	if it := r.lastAssistantLocked(); it != nil && !it.Complete {
		return it
	}
	it := &Item{
		ID:        uuid.NewString(),
		Source:    SourceAssistant,
		Timestamp: r.now(),
	}
	r.items = append(r.items, it)
	return it
}

func (r *Reconciler) lastAssistantLocked() *Item {
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].Source == SourceAssistant {
			return r.items[i]
		}
	}
	return nil
}

func (r *Reconciler) lastUserLocked() *Item {
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].Source == SourceUser {
			return r.items[i]
		}
	}
	return nil
}

// Fence applies the thought-fencing content policy: everything up to and
// including the LAST occurrence of delim is internal-only and discarded; text
// with no delimiter at all is entirely internal and yields "". An empty delim
// disables fencing.
func Fence(text, delim string) string {
	if delim == "" {
		return strings.TrimSpace(text)
	}
	idx := strings.LastIndex(text, delim)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+len(delim):])
}
