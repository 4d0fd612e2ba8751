package timeline

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingSink collects events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func mustPush(t *testing.T, tl *TimeLine, ts Timestamp, data string) {
	t.Helper()
	if err := tl.PushObject(ts, []byte(data)); err != nil {
		t.Fatalf("PushObject(%v) error = %v", ts, err)
	}
}

func TestNew(t *testing.T) {
	tl := New("video", WithMaxElements(8), WithDuplicatePolicy(DuplicateReject))

	if tl.Name() != "video" {
		t.Errorf("Name() = %q, want %q", tl.Name(), "video")
	}
	if tl.MaxElements() != 8 {
		t.Errorf("MaxElements() = %d, want 8", tl.MaxElements())
	}
	if tl.DuplicatePolicy() != DuplicateReject {
		t.Errorf("DuplicatePolicy() = %v, want reject", tl.DuplicatePolicy())
	}
	if tl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tl.Len())
	}
}

func TestTimeLine_CapacityInvariant(t *testing.T) {
	const limit = 5
	tl := New("bounded", WithMaxElements(limit))

	for i := 1; i <= 50; i++ {
		mustPush(t, tl, Timestamp(i), "x")
		if tl.Len() > limit {
			t.Fatalf("after push %d Len() = %d, want <= %d", i, tl.Len(), limit)
		}
	}

	got := tl.Timestamps()
	want := []Timestamp{46, 47, 48, 49, 50}
	if len(got) != len(want) {
		t.Fatalf("Timestamps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Timestamps()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTimeLine_Unbounded(t *testing.T) {
	tl := New("unbounded")
	for i := 0; i < 1000; i++ {
		mustPush(t, tl, Timestamp(i), "x")
	}
	if tl.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", tl.Len())
	}
}

func TestTimeLine_ExactRoundTrip(t *testing.T) {
	tl := New("raw")
	payload := []byte{0x00, 0xff, 0x10, 0x20, 0x7f}

	if err := tl.PushObject(42.5, payload); err != nil {
		t.Fatalf("PushObject() error = %v", err)
	}
	// mutating the source must not reach the stored copy
	payload[0] = 0xaa

	buf, err := tl.GetObject(42.5)
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	want := []byte{0x00, 0xff, 0x10, 0x20, 0x7f}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", buf.Bytes(), want)
	}
	if buf.Timestamp() != 42.5 {
		t.Errorf("Timestamp() = %v, want 42.5", buf.Timestamp())
	}
}

func TestTimeLine_NotFound(t *testing.T) {
	tl := New("empty")

	tests := []struct {
		name string
		call func() error
	}{
		{"GetObject empty", func() error { _, err := tl.GetObject(1); return err }},
		{"GetClosestObject empty", func() error { _, err := tl.GetClosestObject(1, Both); return err }},
		{"GetNewerObject empty", func() error { _, err := tl.GetNewerObject(); return err }},
		{"GetNewerTimestamp empty", func() error { _, err := tl.GetNewerTimestamp(); return err }},
		{"GetOldestObject empty", func() error { _, err := tl.GetOldestObject(); return err }},
		{"AcquireObject empty", func() error { _, err := tl.AcquireObject(1); return err }},
		{"Bracket empty", func() error { _, _, err := tl.Bracket(1); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}

	mustPush(t, tl, 10, "a")
	if _, err := tl.GetObject(11); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetObject(never pushed) error = %v, want ErrNotFound", err)
	}
	if _, err := tl.GetClosestObject(5, Before); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetClosestObject(5, Before) error = %v, want ErrNotFound", err)
	}
	if _, err := tl.GetClosestObject(15, After); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetClosestObject(15, After) error = %v, want ErrNotFound", err)
	}

	mustPush(t, tl, 20, "b")
	mustPush(t, tl, 30, "c")
	nan := Timestamp(math.NaN())
	populated := []struct {
		name string
		call func() error
	}{
		{"GetObject NaN", func() error { _, err := tl.GetObject(nan); return err }},
		{"GetClosestObject NaN Both", func() error { _, err := tl.GetClosestObject(nan, Both); return err }},
		{"GetClosestObject NaN Before", func() error { _, err := tl.GetClosestObject(nan, Before); return err }},
		{"GetClosestObject NaN After", func() error { _, err := tl.GetClosestObject(nan, After); return err }},
		{"AcquireObject NaN", func() error { _, err := tl.AcquireObject(nan); return err }},
		{"Bracket NaN", func() error { _, _, err := tl.Bracket(nan); return err }},
	}
	for _, tt := range populated {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
	if tl.IsObjectPresent(nan) {
		t.Error("IsObjectPresent(NaN) = true, want false")
	}
	if got := tl.Since(nan); len(got) != 0 {
		t.Errorf("Since(NaN) returned %d objects, want 0", len(got))
	}
	visited := 0
	tl.Range(nan, 100, func(*TimedBuffer) bool { visited++; return true })
	tl.Range(0, nan, func(*TimedBuffer) bool { visited++; return true })
	if visited != 0 {
		t.Errorf("Range with NaN bound visited %d objects, want 0", visited)
	}
}

func TestTimeLine_GetClosestObject(t *testing.T) {
	tl := New("closest")
	mustPush(t, tl, 10, "ten")
	mustPush(t, tl, 20, "twenty")

	tests := []struct {
		name string
		ts   Timestamp
		dir  Direction
		want Timestamp
	}{
		{"tie prefers earlier", 15, Both, 10},
		{"tie after", 15, After, 20},
		{"tie before", 15, Before, 10},
		{"nearer later", 17, Both, 20},
		{"nearer earlier", 12, Both, 10},
		{"exact hit before", 20, Before, 20},
		{"exact hit after", 10, After, 10},
		{"below range", 0, Both, 10},
		{"above range", 100, Both, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tl.GetClosestObject(tt.ts, tt.dir)
			if err != nil {
				t.Fatalf("GetClosestObject() error = %v", err)
			}
			if buf.Timestamp() != tt.want {
				t.Errorf("GetClosestObject(%v, %v) = %v, want %v", tt.ts, tt.dir, buf.Timestamp(), tt.want)
			}
		})
	}
}

func TestTimeLine_ConcreteScenario(t *testing.T) {
	sink := &recordingSink{}
	tl := New("scenario", WithMaxElements(2), WithSink(sink))
	mustPush(t, tl, 1, "A")
	mustPush(t, tl, 2, "B")
	mustPush(t, tl, 3, "C")

	if tl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tl.Len())
	}
	for ts, want := range map[Timestamp]string{2: "B", 3: "C"} {
		buf, err := tl.GetObject(ts)
		if err != nil {
			t.Fatalf("GetObject(%v) error = %v", ts, err)
		}
		if string(buf.Bytes()) != want {
			t.Errorf("GetObject(%v) = %q, want %q", ts, buf.Bytes(), want)
		}
	}
	if _, err := tl.GetObject(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetObject(1) error = %v, want ErrNotFound", err)
	}

	before, err := tl.GetClosestObject(2.5, Before)
	if err != nil || string(before.Bytes()) != "B" {
		t.Errorf("GetClosestObject(2.5, Before) = %v, %v, want B", before, err)
	}
	after, err := tl.GetClosestObject(2.5, After)
	if err != nil || string(after.Bytes()) != "C" {
		t.Errorf("GetClosestObject(2.5, After) = %v, %v, want C", after, err)
	}

	events := sink.snapshot()
	wantKinds := []EventKind{ObjectPushed, ObjectPushed, ObjectRemoved, ObjectPushed}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantKinds), events)
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
	}
	if !events[2].Evicted || events[2].Timestamp != 1 {
		t.Errorf("eviction event = %+v, want evicted timestamp 1", events[2])
	}
	if events[3].Timestamp != 3 || events[3].Size != 1 {
		t.Errorf("push event = %+v, want timestamp 3 size 1", events[3])
	}
}

func TestTimeLine_EraseObjectIdempotent(t *testing.T) {
	sink := &recordingSink{}
	tl := New("erase", WithSink(sink))
	mustPush(t, tl, 1, "a")
	mustPush(t, tl, 2, "b")

	if !tl.EraseObject(1) {
		t.Error("first EraseObject(1) = false, want true")
	}
	if tl.EraseObject(1) {
		t.Error("second EraseObject(1) = true, want false")
	}
	if tl.Len() != 1 || !tl.IsObjectPresent(2) || tl.IsObjectPresent(1) {
		t.Errorf("unexpected state after erase: %v", tl.Timestamps())
	}
	if n := sink.count(ObjectRemoved); n != 1 {
		t.Errorf("ObjectRemoved events = %d, want 1", n)
	}

	mustPush(t, tl, 3, "c")
	nan := Timestamp(math.NaN())
	if tl.EraseObject(nan) {
		t.Error("EraseObject(NaN) = true, want false")
	}
	if n := tl.EraseBefore(nan); n != 0 {
		t.Errorf("EraseBefore(NaN) = %d, want 0", n)
	}
	if got := tl.Timestamps(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Timestamps after NaN erase = %v, want [2 3]", got)
	}
	if n := sink.count(ObjectRemoved); n != 1 {
		t.Errorf("ObjectRemoved events after NaN erase = %d, want 1", n)
	}
}

func TestTimeLine_EraseObjectConcurrent(t *testing.T) {
	tl := New("erase-race")
	mustPush(t, tl, 7, "x")

	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tl.EraseObject(7) {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if removed != 1 {
		t.Errorf("successful erasures = %d, want 1", removed)
	}
	if tl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tl.Len())
	}
}

func TestTimeLine_ClearEmitsOnce(t *testing.T) {
	for _, n := range []int{0, 1, 25} {
		sink := &recordingSink{}
		tl := New("clear", WithSink(sink))
		for i := 0; i < n; i++ {
			mustPush(t, tl, Timestamp(i), "x")
		}
		before := len(sink.snapshot())

		tl.ClearTimeline()

		after := sink.snapshot()[before:]
		if len(after) != 1 || after[0].Kind != Cleared {
			t.Errorf("n=%d: events after clear = %+v, want one Cleared", n, after)
		}
		if tl.Len() != 0 {
			t.Errorf("n=%d: Len() = %d, want 0", n, tl.Len())
		}
	}
}

func TestTimeLine_DuplicatePolicy(t *testing.T) {
	t.Run("replace", func(t *testing.T) {
		released := 0
		tl := New("dup")
		first, _ := NewTimedBuffer(5, []byte("old"), WithDeleter(func([]byte) { released++ }))
		if err := tl.PushBuffer(first); err != nil {
			t.Fatalf("PushBuffer() error = %v", err)
		}
		mustPush(t, tl, 5, "new")

		buf, err := tl.GetObject(5)
		if err != nil || string(buf.Bytes()) != "new" {
			t.Errorf("GetObject(5) = %v, %v, want new", buf, err)
		}
		if released != 1 {
			t.Errorf("replaced buffer released %d times, want 1", released)
		}
		if tl.Len() != 1 {
			t.Errorf("Len() = %d, want 1", tl.Len())
		}
	})

	t.Run("reject", func(t *testing.T) {
		tl := New("dup", WithDuplicatePolicy(DuplicateReject))
		mustPush(t, tl, 5, "old")
		if err := tl.PushObject(5, []byte("new")); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("PushObject(dup) error = %v, want ErrDuplicate", err)
		}
		buf, _ := tl.GetObject(5)
		if string(buf.Bytes()) != "old" {
			t.Errorf("GetObject(5) = %q, want old", buf.Bytes())
		}
	})
}

func TestTimeLine_PushValidation(t *testing.T) {
	tl := New("validate", WithMaxBufferSize(4))

	tests := []struct {
		name    string
		ts      Timestamp
		data    []byte
		wantErr error
	}{
		{"empty", 1, nil, ErrAllocation},
		{"too large", 1, []byte("12345"), ErrAllocation},
		{"nan", Timestamp(math.NaN()), []byte("x"), ErrInvalidTimestamp},
		{"at limit", 1, []byte("1234"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tl.PushObject(tt.ts, tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("PushObject() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PushObject() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var allocErr *AllocationError
	err := tl.PushObject(2, []byte("toolarge"))
	if !errors.As(err, &allocErr) || allocErr.Limit != 4 || allocErr.Size != 8 {
		t.Errorf("PushObject() error = %v, want AllocationError{Size:8 Limit:4}", err)
	}
	if tl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tl.Len())
	}
}

func TestTimeLine_PushBufferOwnership(t *testing.T) {
	tl := New("own", WithDuplicatePolicy(DuplicateReject))
	mustPush(t, tl, 1, "a")

	buf, _ := NewTimedBuffer(1, []byte("b"))
	if err := tl.PushBuffer(buf); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("PushBuffer(dup) error = %v, want ErrDuplicate", err)
	}
	// rejected buffers stay with the caller and remain mutable
	src, _ := NewTimedBuffer(9, []byte("c"))
	if err := buf.DeepCopy(src); err != nil {
		t.Fatalf("DeepCopy() after rejected push error = %v", err)
	}
	if err := tl.PushBuffer(buf); err != nil {
		t.Fatalf("PushBuffer() error = %v", err)
	}
	if err := buf.DeepCopy(src); !errors.Is(err, ErrImmutable) {
		t.Errorf("DeepCopy() on inserted buffer error = %v, want ErrImmutable", err)
	}
	if err := New("other").PushBuffer(buf); !errors.Is(err, ErrImmutable) {
		t.Errorf("PushBuffer() into second timeline error = %v, want ErrImmutable", err)
	}
}

func TestTimeLine_EraseBefore(t *testing.T) {
	sink := &recordingSink{}
	tl := New("gc", WithSink(sink))
	for i := 1; i <= 10; i++ {
		mustPush(t, tl, Timestamp(i), "x")
	}

	if n := tl.EraseBefore(4); n != 3 {
		t.Errorf("EraseBefore(4) = %d, want 3", n)
	}
	oldest, _ := tl.GetOldestObject()
	if oldest.Timestamp() != 4 {
		t.Errorf("oldest = %v, want 4", oldest.Timestamp())
	}
	if n := sink.count(ObjectRemoved); n != 3 {
		t.Errorf("ObjectRemoved events = %d, want 3", n)
	}
	if n := tl.EraseBefore(0); n != 0 {
		t.Errorf("EraseBefore(0) = %d, want 0", n)
	}
}

func TestTimeLine_NewerAndOldest(t *testing.T) {
	tl := New("newer")
	mustPush(t, tl, 30, "c")
	mustPush(t, tl, 10, "a")
	mustPush(t, tl, 20, "b")

	ts, err := tl.GetNewerTimestamp()
	if err != nil || ts != 30 {
		t.Errorf("GetNewerTimestamp() = %v, %v, want 30", ts, err)
	}
	oldest, err := tl.GetOldestObject()
	if err != nil || string(oldest.Bytes()) != "a" {
		t.Errorf("GetOldestObject() = %v, %v, want a", oldest, err)
	}
}

func TestTimeLine_RangeSnapshotSince(t *testing.T) {
	tl := New("iter")
	for i := 1; i <= 5; i++ {
		mustPush(t, tl, Timestamp(i*10), string(rune('a'+i-1)))
	}

	var visited []Timestamp
	tl.Range(20, 40, func(b *TimedBuffer) bool {
		visited = append(visited, b.Timestamp())
		return true
	})
	if len(visited) != 3 || visited[0] != 20 || visited[2] != 40 {
		t.Errorf("Range(20, 40) visited %v, want [20 30 40]", visited)
	}

	var stopped int
	tl.Range(0, 100, func(b *TimedBuffer) bool {
		stopped++
		return stopped < 2
	})
	if stopped != 2 {
		t.Errorf("Range stopped after %d, want 2", stopped)
	}

	snap := tl.Snapshot()
	tl.ClearTimeline()
	if len(snap) != 5 || string(snap[4].Bytes()) != "e" {
		t.Errorf("Snapshot() after clear = %d entries, want 5 intact copies", len(snap))
	}

	for i := 1; i <= 3; i++ {
		mustPush(t, tl, Timestamp(i), "x")
	}
	since := tl.Since(1)
	if len(since) != 2 || since[0].Timestamp() != 2 {
		t.Errorf("Since(1) returned %d entries, want 2 starting at 2", len(since))
	}
}

func TestTimeLine_RangeReentrant(t *testing.T) {
	tl := New("reentrant-range")
	mustPush(t, tl, 1, "a")
	mustPush(t, tl, 2, "b")

	tl.Range(0, 10, func(b *TimedBuffer) bool {
		tl.EraseObject(b.Timestamp())
		return true
	})
	if tl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tl.Len())
	}
}

func TestTimeLine_Bracket(t *testing.T) {
	tl := New("bracket")
	mustPush(t, tl, 10, "a")
	mustPush(t, tl, 20, "b")

	tests := []struct {
		name       string
		ts         Timestamp
		wantBefore Timestamp
		wantAfter  Timestamp
	}{
		{"between", 15, 10, 20},
		{"exact", 10, 10, 10},
		{"below", 5, -1, 10},
		{"above", 25, 20, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, after, err := tl.Bracket(tt.ts)
			if err != nil {
				t.Fatalf("Bracket() error = %v", err)
			}
			check := func(label string, b *TimedBuffer, want Timestamp) {
				if want < 0 {
					if b != nil {
						t.Errorf("%s = %v, want nil", label, b.Timestamp())
					}
					return
				}
				if b == nil || b.Timestamp() != want {
					t.Errorf("%s = %v, want %v", label, b, want)
				}
			}
			check("before", before, tt.wantBefore)
			check("after", after, tt.wantAfter)
		})
	}
}

func TestTimeLine_Close(t *testing.T) {
	sink := &recordingSink{}
	freed := 0
	tl := New("close", WithSink(sink))
	for i := 0; i < 3; i++ {
		buf, _ := NewTimedBuffer(Timestamp(i), []byte("x"), WithDeleter(func([]byte) { freed++ }))
		if err := tl.PushBuffer(buf); err != nil {
			t.Fatalf("PushBuffer() error = %v", err)
		}
	}
	pushed := len(sink.snapshot())

	if err := tl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if freed != 3 {
		t.Errorf("freed = %d, want 3", freed)
	}
	if err := tl.PushObject(5, []byte("y")); !errors.Is(err, ErrClosed) {
		t.Errorf("PushObject() after Close error = %v, want ErrClosed", err)
	}
	tl.ClearTimeline()
	if got := len(sink.snapshot()); got != pushed {
		t.Errorf("events after Close = %d, want %d", got, pushed)
	}
}

func TestTimeLine_AcquireOutlivesEviction(t *testing.T) {
	freed := 0
	tl := New("acquire", WithMaxElements(1))
	buf, _ := NewTimedBuffer(1, []byte("keep"), WithDeleter(func([]byte) { freed++ }))
	if err := tl.PushBuffer(buf); err != nil {
		t.Fatalf("PushBuffer() error = %v", err)
	}

	held, err := tl.AcquireObject(1)
	if err != nil {
		t.Fatalf("AcquireObject() error = %v", err)
	}
	mustPush(t, tl, 2, "next")
	if freed != 0 {
		t.Fatalf("deleter ran while buffer was still acquired")
	}
	if string(held.Bytes()) != "keep" {
		t.Errorf("held.Bytes() = %q, want keep", held.Bytes())
	}
	held.Release()
	if freed != 1 {
		t.Errorf("freed = %d after final release, want 1", freed)
	}
}

func TestTimeLine_EvictionLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tl := New("logged", WithMaxElements(1), WithLogger(zap.New(core)))
	mustPush(t, tl, 1, "a")
	mustPush(t, tl, 2, "b")

	entries := logs.FilterMessage("evicted oldest object").All()
	if len(entries) != 1 {
		t.Fatalf("eviction log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["timeline"] != "logged" || fields["timestamp"] != float64(1) {
		t.Errorf("eviction log fields = %v", fields)
	}
}

func TestTimeLine_ReentrantSink(t *testing.T) {
	var tl *TimeLine
	var mirrored []Timestamp
	sink := SinkFunc(func(e Event) {
		if e.Kind != ObjectPushed {
			return
		}
		// reads and writes from inside the sink must not deadlock
		if _, err := tl.GetObject(e.Timestamp); err != nil {
			t.Errorf("GetObject() in sink error = %v", err)
		}
		mirrored = append(mirrored, e.Timestamp)
		if e.Timestamp < 3 {
			_ = tl.PushObject(e.Timestamp+1, []byte("chain"))
		}
	})
	tl = New("reentrant", WithSink(sink))
	mustPush(t, tl, 1, "start")

	want := []Timestamp{1, 2, 3}
	if len(mirrored) != len(want) {
		t.Fatalf("sink saw %v, want %v", mirrored, want)
	}
	for i := range want {
		if mirrored[i] != want[i] {
			t.Errorf("sink[%d] = %v, want %v", i, mirrored[i], want[i])
		}
	}
}

func TestTimeLine_SinkPanicRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	calls := 0
	sink := SinkFunc(func(e Event) {
		calls++
		panic("observer failure")
	})
	tl := New("panicky", WithSink(sink), WithLogger(zap.New(core)))
	mustPush(t, tl, 1, "a")
	mustPush(t, tl, 2, "b")

	if calls != 2 {
		t.Errorf("sink calls = %d, want 2", calls)
	}
	if logs.FilterMessage("timeline sink panicked").Len() != 2 {
		t.Errorf("panic log entries = %d, want 2", logs.FilterMessage("timeline sink panicked").Len())
	}
}

func TestTimeLine_PushOrderMatchesCommitOrder(t *testing.T) {
	sink := &recordingSink{}
	tl := New("order", WithSink(sink))
	// out-of-timestamp-order pushes are reported in push order
	for _, ts := range []Timestamp{5, 1, 3, 2, 4} {
		mustPush(t, tl, ts, "x")
	}
	events := sink.snapshot()
	want := []Timestamp{5, 1, 3, 2, 4}
	for i := range want {
		if events[i].Timestamp != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, events[i].Timestamp, want[i])
		}
	}
}

func TestTimeLine_ConcurrentProducersConsumers(t *testing.T) {
	sink := &recordingSink{}
	tl := New("concurrent", WithMaxElements(32), WithSink(sink), WithBufferPool())

	const producers, perProducer = 4, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ts := Timestamp(i*producers + p)
				if err := tl.PushObject(ts, []byte{byte(p), byte(i)}); err != nil {
					t.Errorf("PushObject() error = %v", err)
					return
				}
			}
		}(p)
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if buf, err := tl.AcquireClosestObject(Timestamp(i), Both); err == nil {
					if buf.Size() != 2 {
						t.Errorf("Size() = %d, want 2", buf.Size())
					}
					buf.Release()
				}
				tl.IsObjectPresent(Timestamp(i))
			}
		}()
	}
	wg.Wait()

	if tl.Len() != 32 {
		t.Errorf("Len() = %d, want 32", tl.Len())
	}
	if n := sink.count(ObjectPushed); n != producers*perProducer {
		t.Errorf("ObjectPushed events = %d, want %d", n, producers*perProducer)
	}
	if n := sink.count(ObjectRemoved); n != producers*perProducer-32 {
		t.Errorf("ObjectRemoved events = %d, want %d", n, producers*perProducer-32)
	}
}
