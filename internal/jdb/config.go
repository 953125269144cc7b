package jdb

// CompressionCodec selects the Codec hook implementation used by the
// garbage collector (spec §4.10).
type CompressionCodec int

const (
	CodecNone CompressionCodec = iota
	CodecLZ4
	CodecZstd
)

// Config enumerates every knob the Coordinator's open() operation accepts,
// per spec §6.4. DefaultConfig returns the listed defaults; zero-value
// fields are filled with them by normalize, which Open applies.
type Config struct {
	SegmentMaxBytes            int64
	InlineMaxBytes             int
	ExternalMinBytes           int64
	HandleCacheSize            int
	CheckpointCompactThreshold int
	CheckpointKeep             int
	CompressionCodec           CompressionCodec
	MinCompressBytes           int

	// CatalogDSN, when non-empty, enables the optional pgx-backed segment
	// catalog mirror (internal/catalog). It is not part of the core spec's
	// public operation set; recovery never reads it.
	CatalogDSN string
}

// DefaultConfig returns a Config populated with spec.md §6.4's defaults.
func DefaultConfig() Config {
	return Config{
		SegmentMaxBytes:            1 << 30, // 1 GiB
		InlineMaxBytes:             32,
		ExternalMinBytes:           1 << 20, // 1 MiB
		HandleCacheSize:            128,
		CheckpointCompactThreshold: 65536,
		CheckpointKeep:             3,
		CompressionCodec:           CodecNone,
		MinCompressBytes:           1024,
	}
}

// normalize fills zero-valued fields with defaults and clamps
// HandleCacheSize to its documented minimum of 16.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = d.SegmentMaxBytes
	}
	if c.InlineMaxBytes <= 0 {
		c.InlineMaxBytes = d.InlineMaxBytes
	}
	if c.ExternalMinBytes <= 0 {
		c.ExternalMinBytes = d.ExternalMinBytes
	}
	if c.HandleCacheSize <= 0 {
		c.HandleCacheSize = d.HandleCacheSize
	}
	if c.HandleCacheSize < 16 {
		c.HandleCacheSize = 16
	}
	if c.CheckpointCompactThreshold <= 0 {
		c.CheckpointCompactThreshold = d.CheckpointCompactThreshold
	}
	if c.CheckpointKeep <= 0 {
		c.CheckpointKeep = d.CheckpointKeep
	}
	if c.MinCompressBytes <= 0 {
		c.MinCompressBytes = d.MinCompressBytes
	}
	return c
}
