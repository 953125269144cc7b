package jdb

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/dsjohal14/jdb/internal/jdb/jdberr"
)

// defaultMinCompressSize is the default floor below which the codec hook is never
// even probed (spec §4.10): small values cost more in compressor framing
// than they could ever save.
const defaultMinCompressSize = 1024

// profitabilityNumerator/Denominator encode the "at least 10% smaller"
// threshold a compressed candidate must clear to be kept (spec §4.10).
const (
	profitabilityNumerator   = 90
	profitabilityDenominator = 100
)

// Codec is the compression hook spec §4.10 describes: process(flag_in,
// data_in, out_buf) -> (flag_out, maybe compressed_len). A Codec only ever
// produces one of FlagCompressedLZ4 or FlagCompressedZstd; ApplyCodec is
// responsible for the PROBED bookkeeping and profitability check around it.
type Codec interface {
	// Flag names which FlagCompressed* bit this codec claims.
	Flag() Flags
	// Compress appends a compressed encoding of src to dst, returning the
	// extended slice.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress appends the decoded form of src (uncompressedLen bytes) to
	// dst, returning the extended slice.
	Decompress(dst, src []byte, uncompressedLen int) ([]byte, error)
}

// NoopCodec never compresses; ApplyCodec with this codec always leaves
// data untouched and never sets PROBED.
type NoopCodec struct{}

func (NoopCodec) Flag() Flags { return 0 }
func (NoopCodec) Compress(dst, src []byte) ([]byte, error) {
	return nil, jdberr.New(jdberr.InvalidArgument, "codec.noop").WithDetail("noop codec cannot compress")
}
func (NoopCodec) Decompress(dst, src []byte, uncompressedLen int) ([]byte, error) {
	return nil, jdberr.New(jdberr.InvalidArgument, "codec.noop").WithDetail("noop codec cannot decompress")
}

// LZ4Codec compresses using the block format from pierrec/lz4.
type LZ4Codec struct{}

func (LZ4Codec) Flag() Flags { return FlagCompressedLZ4 }

func (LZ4Codec) Compress(dst, src []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf)
	if err != nil {
		return nil, jdberr.Wrap("codec.lz4_compress", err)
	}
	if n == 0 {
		// Incompressible input per lz4's own detection; caller treats this
		// as unprofitable.
		return nil, jdberr.New(jdberr.InvalidArgument, "codec.lz4_compress").WithDetail("incompressible")
	}
	return append(dst, buf[:n]...), nil
}

func (LZ4Codec) Decompress(dst, src []byte, uncompressedLen int) ([]byte, error) {
	buf := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(src, buf)
	if err != nil {
		return nil, jdberr.Wrap("codec.lz4_decompress", err)
	}
	return append(dst, buf[:n]...), nil
}

// ZstdCodec compresses using klauspost/compress/zstd's one-shot encoder.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec builds a reusable encoder/decoder pair. Both are safe for
// concurrent one-shot use (EncodeAll/DecodeAll take no shared state).
func NewZstdCodec() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, jdberr.Wrap("codec.zstd_new", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, jdberr.Wrap("codec.zstd_new", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (z *ZstdCodec) Flag() Flags { return FlagCompressedZstd }

func (z *ZstdCodec) Compress(dst, src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, dst), nil
}

func (z *ZstdCodec) Decompress(dst, src []byte, uncompressedLen int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, jdberr.Wrap("codec.zstd_decompress", err)
	}
	return out, nil
}

func (z *ZstdCodec) Close() {
	z.enc.Close()
	z.dec.Close()
}

// ApplyCodec runs the spec §4.10 contract on data bound for INFILE or FILE
// placement: below MinCompressSize it is left alone; otherwise codec is
// probed (FlagProbed is always set so the caller can tell a probe happened
// even when it lost) and the compressed form is only kept if it is at least
// 10% smaller than the input. It returns the flag bits to OR into the
// Head's placement flags, the payload to actually write, and data's
// original length for the Head's uncompressed_len field.
func ApplyCodec(codec Codec, minCompressSize int, flagIn Flags, data []byte) (flagOut Flags, payload []byte, uncompressedLen uint32, err error) {
	uncompressedLen = uint32(len(data))
	if minCompressSize <= 0 {
		minCompressSize = defaultMinCompressSize
	}
	if codec == nil || codec.Flag() == 0 || len(data) < minCompressSize {
		return flagIn, data, uncompressedLen, nil
	}

	flagOut = flagIn | FlagProbed
	compressed, cErr := codec.Compress(nil, data)
	if cErr != nil {
		// Compression failing (or declining) is not fatal: store raw.
		return flagOut, data, uncompressedLen, nil
	}
	if len(compressed)*profitabilityDenominator > len(data)*profitabilityNumerator {
		return flagOut, data, uncompressedLen, nil
	}
	return flagOut | codec.Flag(), compressed, uncompressedLen, nil
}

// DecodeCodec reverses ApplyCodec given the flags actually stored on a
// record: if neither compressed flag is set, payload is returned as-is.
func DecodeCodec(lz4c Codec, zstdc Codec, flag Flags, payload []byte, uncompressedLen int) ([]byte, error) {
	switch {
	case flag.has(FlagCompressedLZ4):
		if lz4c == nil {
			return nil, jdberr.New(jdberr.InvalidArgument, "codec.decode").WithDetail("lz4 codec not configured")
		}
		return lz4c.Decompress(nil, payload, uncompressedLen)
	case flag.has(FlagCompressedZstd):
		if zstdc == nil {
			return nil, jdberr.New(jdberr.InvalidArgument, "codec.decode").WithDetail("zstd codec not configured")
		}
		return zstdc.Decompress(nil, payload, uncompressedLen)
	default:
		return payload, nil
	}
}
