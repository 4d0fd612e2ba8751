package timeline

import "sync"

// bufferPool recycles byte slices by exact size. Frames pushed into one
// timeline almost always share a size, so a pool per size stays small.
type bufferPool struct {
	pools sync.Map // int -> *sync.Pool
}

func (p *bufferPool) get(size int) []byte {
	v, ok := p.pools.Load(size)
	if !ok {
		v, _ = p.pools.LoadOrStore(size, &sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		})
	}
	bp := v.(*sync.Pool).Get().(*[]byte)
	return (*bp)[:size]
}

func (p *bufferPool) put(b []byte) {
	v, ok := p.pools.Load(cap(b))
	if !ok {
		return
	}
	b = b[:cap(b)]
	v.(*sync.Pool).Put(&b)
}
