package alloc

// Config mirrors the Host configuration knobs enumerated in SPEC_FULL.md
// §6 (`allocator_count`, `allocator_pooled_length`,
// `allocator_pooled_expand_length`, `allocator_expand_length`,
// `allocator_max_length`).
type Config struct {
	// Count bounds how many buffers may be checked out at once (0 = unbounded).
	Count uint32
	// PooledLength is the size of buffers kept in steady-state circulation.
	PooledLength int
	// PooledExpandLength is the capacity above which PutBuffer does not
	// recycle a returned buffer's storage, pooling a fresh PooledLength
	// buffer in its place.
	PooledExpandLength int
	// ExpandLength is the growth increment applied when a checked-out
	// buffer needs to grow past its current capacity.
	ExpandLength int
	// MaxLength caps how large any one buffer may ever grow.
	MaxLength int
}

func DefaultConfig() Config {
	return Config{
		Count:              0,
		PooledLength:       1500,
		PooledExpandLength: 4096,
		ExpandLength:       1500,
		MaxLength:          1 << 20,
	}
}

// Allocator owns the pooled byte buffers a Host/Peer needs: the raw socket
// receive buffer, and every decrypt/decompress/fragment-reassembly scratch
// buffer on both the send and receive paths. It is the component named
// "Allocator" in SPEC_FULL.md §2/§3.
type Allocator struct {
	cfg     Config
	buffers *WaitPool
}

func New(cfg Config) *Allocator {
	a := &Allocator{cfg: cfg}
	a.buffers = NewWaitPool(cfg.Count, func() any {
		b := make([]byte, cfg.PooledLength)
		return &b
	})
	return a
}

// GetBuffer returns a buffer with at least `size` capacity, growing and
// re-pooling transparently when the request exceeds PooledLength.
func (a *Allocator) GetBuffer(size int) *[]byte {
	if size > a.cfg.MaxLength {
		size = a.cfg.MaxLength
	}
	bp := a.buffers.Get().(*[]byte)
	if cap(*bp) < size {
		grown := make([]byte, 0, max(size, len(*bp)+a.cfg.ExpandLength))
		*bp = grown
	}
	*bp = (*bp)[:size]
	return bp
}

// PutBuffer returns a buffer to the pool. Oversized buffers (grown past
// PooledExpandLength) are dropped rather than recycled, so one
// unusually-large packet doesn't permanently inflate the pool's footprint.
func (a *Allocator) PutBuffer(bp *[]byte) {
	if cap(*bp) > a.cfg.PooledExpandLength {
		*bp = make([]byte, a.cfg.PooledLength)
	}
	a.buffers.Put(bp)
}
