package bufpool

// Set bundles one pool per element kind used by the request path.
type Set struct {
	Bytes *Pool[byte]
	Chars *Pool[rune]
	Ints  *Pool[int32]
	Words *Pool[uintptr]
}

// SetConfig sizes the pools of a Set. Zero values fall back to defaults.
type SetConfig struct {
	ByteBufferSize int
	CharBufferSize int
	IntBufferSize  int
	WordBufferSize int
	BaseCapacity   int
	CPUCount       int
}

// Default buffer geometry.
const (
	DefaultBufferSize   = 32 * 1024
	DefaultSmallSize    = 1024
	DefaultBaseCapacity = 64
)

// NewSet builds the four pools of a Set.
func NewSet(cfg SetConfig) *Set {
	if cfg.ByteBufferSize <= 0 {
		cfg.ByteBufferSize = DefaultBufferSize
	}
	if cfg.CharBufferSize <= 0 {
		cfg.CharBufferSize = DefaultSmallSize
	}
	if cfg.IntBufferSize <= 0 {
		cfg.IntBufferSize = DefaultSmallSize
	}
	if cfg.WordBufferSize <= 0 {
		cfg.WordBufferSize = DefaultSmallSize
	}
	if cfg.BaseCapacity <= 0 {
		cfg.BaseCapacity = DefaultBaseCapacity
	}

	opts := func(name string) []Option {
		o := []Option{WithName(name)}
		if cfg.CPUCount > 0 {
			o = append(o, WithCPUCount(cfg.CPUCount))
		}
		return o
	}

	return &Set{
		Bytes: New[byte](cfg.ByteBufferSize, cfg.BaseCapacity, opts("bytes")...),
		Chars: New[rune](cfg.CharBufferSize, cfg.BaseCapacity, opts("chars")...),
		Ints:  New[int32](cfg.IntBufferSize, cfg.BaseCapacity, opts("ints")...),
		Words: New[uintptr](cfg.WordBufferSize, cfg.BaseCapacity, opts("words")...),
	}
}

// Drain empties every pool in the set.
func (s *Set) Drain() {
	s.Bytes.Drain()
	s.Chars.Drain()
	s.Ints.Drain()
	s.Words.Drain()
}

// Stats returns the stats of every pool in the set.
func (s *Set) Stats() []Stats {
	return []Stats{
		s.Bytes.Stats(),
		s.Chars.Stats(),
		s.Ints.Stats(),
		s.Words.Stats(),
	}
}
