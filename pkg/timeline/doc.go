// Package timeline provides TimeLine, a bounded, timestamp-indexed store of
// immutable byte buffers used to hand synchronized samples (frames, tracking
// poses, messages) from producer goroutines to consumer goroutines.
//
// A TimeLine keeps its entries ordered by timestamp. When a capacity is set
// with WithMaxElements, every push that overflows it evicts the entry with
// the smallest timestamp. Lookups never block: GetObject and
// GetClosestObject report ErrNotFound instead of waiting, and consumers that
// want to be woken on new data install a Sink.
//
// Generic layers a fixed-layout Go type over a TimeLine:
//
//	tl := timeline.New("poses", timeline.WithMaxElements(64))
//	poses, _ := timeline.NewGeneric[tracking.Matrix](tl)
//	_ = poses.Push(timeline.Now(), tracking.Identity())
//	latest, err := poses.GetNewerObject()
package timeline
