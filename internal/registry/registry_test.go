package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := New(nil, nil)
	cfg := dto.TimelineConfig{Name: "video", Kind: dto.KindRaw, MaxElements: 2, DuplicatePolicy: "reject"}

	tl, err := r.GetOrCreate(cfg)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if tl.MaxElements() != 2 || tl.DuplicatePolicy() != timeline.DuplicateReject {
		t.Errorf("timeline options not applied: max=%d policy=%v", tl.MaxElements(), tl.DuplicatePolicy())
	}

	again, err := r.GetOrCreate(dto.TimelineConfig{Name: "video", Kind: dto.KindRaw, MaxElements: 99})
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if again != tl {
		t.Error("GetOrCreate returned a different timeline for the same name")
	}
}

func TestRegistry_GetOrCreateInvalid(t *testing.T) {
	r := New(nil, nil)

	tests := []struct {
		name string
		cfg  dto.TimelineConfig
	}{
		{"missing name", dto.TimelineConfig{Kind: dto.KindRaw}},
		{"bad kind", dto.TimelineConfig{Name: "x", Kind: "video"}},
		{"bad policy", dto.TimelineConfig{Name: "x", Kind: dto.KindRaw, DuplicatePolicy: "skip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.GetOrCreate(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	r := New(nil, nil)
	cfg := dto.TimelineConfig{Name: "shared", Kind: dto.KindRaw}

	var wg sync.WaitGroup
	results := make([]*timeline.TimeLine, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tl, err := r.GetOrCreate(cfg)
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
			}
			results[i] = tl
		}(i)
	}
	wg.Wait()

	for i := range results {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate produced distinct timelines")
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	r := New(nil, nil)
	_, _ = r.GetOrCreate(dto.TimelineConfig{Name: "poses", Kind: dto.KindMatrix})

	tl, cfg, err := r.Get("poses")
	if err != nil || tl == nil || cfg.Kind != dto.KindMatrix {
		t.Errorf("Get(poses) = %v, %+v, %v", tl, cfg, err)
	}
	if _, _, err := r.Get("missing"); !errors.Is(err, apperrors.ErrUnknownTimeline) {
		t.Errorf("Get(missing) error = %v, want ErrUnknownTimeline", err)
	}
}

func TestRegistry_NamesAndInfo(t *testing.T) {
	r := New(nil, nil)
	for _, name := range []string{"c", "a", "b"} {
		_, _ = r.GetOrCreate(dto.TimelineConfig{Name: name, Kind: dto.KindRaw, MaxElements: 5})
	}
	tl, _, _ := r.Get("b")
	_ = tl.PushObject(10, []byte("x"))
	_ = tl.PushObject(30, []byte("y"))

	names := r.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names() = %v, want [a b c]", names)
	}

	infos := r.Info()
	if len(infos) != 3 {
		t.Fatalf("Info() = %d entries, want 3", len(infos))
	}
	b := infos[1]
	if b.Name != "b" || b.Len != 2 || b.MaxElements != 5 {
		t.Errorf("Info(b) = %+v", b)
	}
	if b.Oldest == nil || *b.Oldest != 10 || b.Newest == nil || *b.Newest != 30 {
		t.Errorf("Info(b) range = %v..%v, want 10..30", b.Oldest, b.Newest)
	}
	if infos[0].Newest != nil {
		t.Error("empty timeline reported a newest timestamp")
	}

	if _, err := r.Describe("zzz"); !errors.Is(err, apperrors.ErrUnknownTimeline) {
		t.Errorf("Describe(zzz) error = %v", err)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := New(nil, nil)
	kept, _ := r.GetOrCreate(dto.TimelineConfig{Name: "kept", Kind: dto.KindRaw})
	swept, _ := r.GetOrCreate(dto.TimelineConfig{Name: "swept", Kind: dto.KindRaw, RetentionMS: 100})
	_, _ = r.GetOrCreate(dto.TimelineConfig{Name: "empty", Kind: dto.KindRaw, RetentionMS: 100})

	for _, ts := range []timeline.Timestamp{0, 50, 100, 150, 200} {
		_ = kept.PushObject(ts, []byte("x"))
		_ = swept.PushObject(ts, []byte("x"))
	}

	if n := r.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if kept.Len() != 5 {
		t.Errorf("kept.Len() = %d, want 5", kept.Len())
	}
	if swept.Len() != 3 || swept.IsObjectPresent(50) || !swept.IsObjectPresent(100) {
		t.Errorf("swept timestamps = %v, want [100 150 200]", swept.Timestamps())
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New(nil, nil)
	tl, _ := r.GetOrCreate(dto.TimelineConfig{Name: "a", Kind: dto.KindRaw})

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := tl.PushObject(1, []byte("x")); !errors.Is(err, timeline.ErrClosed) {
		t.Errorf("PushObject() after Close error = %v, want ErrClosed", err)
	}
	if _, err := r.GetOrCreate(dto.TimelineConfig{Name: "b", Kind: dto.KindRaw}); !errors.Is(err, timeline.ErrClosed) {
		t.Errorf("GetOrCreate() after Close error = %v, want ErrClosed", err)
	}
}
