package transcript_test

import (
	"testing"
	"time"

	"github.com/loqui-ai/loqui/internal/transcript"
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newReconciler(c *testClock, opts ...transcript.Option) *transcript.Reconciler {
	opts = append([]transcript.Option{transcript.WithClock(c.Now)}, opts...)
	return transcript.New(opts...)
}

func TestAssistantMerge_SingleItemAcrossFragments(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock, transcript.WithDelimiter("")) // no fencing

	r.AppendAssistantText("Hello")
	r.AppendAssistantText(" world")
	r.FinalizeAssistant()

	items := r.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if got := items[0].RawText(); got != "Hello world" {
		t.Errorf("text = %q; want %q", got, "Hello world")
	}
	if !items[0].Complete {
		t.Error("item not marked complete after turn boundary")
	}
}

func TestAssistantMerge_NewItemAfterCompletion(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock, transcript.WithDelimiter(""))

	r.AppendAssistantText("first turn")
	r.FinalizeAssistant()
	r.AppendAssistantText("second turn")

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].RawText() != "first turn" || items[1].RawText() != "second turn" {
		t.Errorf("completed item was mutated: %q / %q", items[0].RawText(), items[1].RawText())
	}
	if items[1].Complete {
		t.Error("second item should still be open")
	}
}

func TestAssistantAudio_AppendsInOrder(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendAssistantAudio([]byte{1, 0})
	r.AppendAssistantAudio([]byte{2, 0})
	r.AppendAssistantText("reply")

	items := r.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 (audio and text share the open turn)", len(items))
	}
	chunks := items[0].Audio()
	if len(chunks) != 2 {
		t.Fatalf("got %d audio chunks, want 2", len(chunks))
	}
	if chunks[0][0] != 1 || chunks[1][0] != 2 {
		t.Error("audio chunks out of order")
	}
}

func TestUserCoalescing_WithinWindow(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendUserText("what is")
	clock.advance(500 * time.Millisecond)
	r.AppendUserText(" the weather")

	items := r.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 (fragments 500ms apart must coalesce)", len(items))
	}
	if got := items[0].RawText(); got != "what is the weather" {
		t.Errorf("text = %q", got)
	}
}

func TestUserCoalescing_BeyondWindow(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendUserText("first utterance")
	clock.advance(4 * time.Second)
	r.AppendUserText("second utterance")

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (fragments 4s apart must not coalesce)", len(items))
	}
}

func TestUserCoalescing_TrailingWindowExtends(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	// Three fragments each 2s apart: each lands within 3s of the previous
	// one, so the window keeps sliding and all coalesce.
	r.AppendUserText("a")
	clock.advance(2 * time.Second)
	r.AppendUserText("b")
	clock.advance(2 * time.Second)
	r.AppendUserText("c")

	if items := r.Items(); len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
}

func TestUserAndAssistant_IndependentOpenItems(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock, transcript.WithDelimiter(""))

	// Interleaved arrival: user burst lands while the assistant turn is
	// still open. Each party keeps exactly one open item.
	r.AppendAssistantText("I think")
	r.AppendUserText("wait")
	r.AppendAssistantText(" therefore")
	r.AppendUserText(" actually")

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if got := items[0].RawText(); got != "I think therefore" {
		t.Errorf("assistant text = %q", got)
	}
	if got := items[1].RawText(); got != "wait actually" {
		t.Errorf("user text = %q", got)
	}
}

func TestAddUserTurn_AlreadyComplete(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AddUserTurn("typed message")
	// A typed turn is final: an immediate speech fragment must not merge
	// into it.
	r.AppendUserText("spoken")

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if !items[0].Complete {
		t.Error("typed turn should be complete on creation")
	}
}

func TestFencing_VisibleRemainder(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendAssistantText("plan: do X » Hi there")
	r.FinalizeAssistant()

	visible := r.Visible()
	if len(visible) != 1 {
		t.Fatalf("got %d visible entries, want 1", len(visible))
	}
	if got := visible[0].Text; got != "Hi there" {
		t.Errorf("visible text = %q; want %q", got, "Hi there")
	}
}

func TestFencing_LastDelimiterWins(t *testing.T) {
	t.Parallel()
	got := transcript.Fence("a » b » c", "»")
	if got != "c" {
		t.Errorf("Fence = %q; want %q", got, "c")
	}
}

func TestFencing_NoDelimiterSuppressedButRetained(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendAssistantText("purely internal reasoning")
	r.FinalizeAssistant()

	if visible := r.Visible(); len(visible) != 0 {
		t.Fatalf("got %d visible entries, want 0 (no delimiter means internal-only)", len(visible))
	}
	// The raw state is retained, only hidden from render.
	items := r.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if got := items[0].RawText(); got != "purely internal reasoning" {
		t.Errorf("raw text = %q; want retained original", got)
	}
}

func TestFencing_DelimiterSplitAcrossFragments(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	// The delimiter may arrive in a later fragment than the preamble;
	// fencing applies to accumulated text, not per fragment.
	r.AppendAssistantText("thinking about it ")
	r.AppendAssistantText("» sure, ")
	r.AppendAssistantText("here you go")
	r.FinalizeAssistant()

	visible := r.Visible()
	if len(visible) != 1 {
		t.Fatalf("got %d visible entries, want 1", len(visible))
	}
	if got := visible[0].Text; got != "sure, here you go" {
		t.Errorf("visible text = %q", got)
	}
}

func TestCloseOpen_FinalizesEverything(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendUserText("open user")
	r.AppendAssistantText("open assistant")
	r.CloseOpen()

	for i, it := range r.Items() {
		if !it.Complete {
			t.Errorf("item %d still open after CloseOpen", i)
		}
	}
}

func TestItem_LookupByID(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	r.AppendAssistantAudio([]byte{7, 0})
	id := r.Items()[0].ID

	if it := r.Item(id); it == nil || len(it.Audio()) != 1 {
		t.Fatal("lookup by ID failed")
	}
	if it := r.Item("missing"); it != nil {
		t.Fatal("lookup of unknown ID should return nil")
	}
}
