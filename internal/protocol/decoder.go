package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"vidstream/internal/core/domain"

	"github.com/quic-go/quic-go/quicvarint"
)

// Decoder reads protocol messages. It is not safe for concurrent use; each
// connection has exactly one reader.
type Decoder struct {
	r        *bufio.Reader
	maxChunk int
	buf      [8]byte
}

// DecoderOption customizes a Decoder.
type DecoderOption func(*Decoder)

// WithMaxChunkLength caps accepted VIDEO_CHUNK payload sizes.
func WithMaxChunkLength(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxChunk = n
		}
	}
}

func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:        bufio.NewReaderSize(r, 32*1024),
		maxChunk: DefaultMaxChunkLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReadTag reads the next message tag. A clean close before the first byte
// returns io.EOF.
func (d *Decoder) ReadTag() (string, error) {
	n, err := quicvarint.Read(d.r)
	if err != nil {
		return "", err
	}
	if n == 0 || n > MaxTagLength {
		return "", desyncf("tag length %d out of range", n)
	}
	return d.readN(int(n))
}

// ReadCommand reads one client command with its trailing fields.
func (d *Decoder) ReadCommand() (Command, error) {
	tag, err := d.ReadTag()
	if err != nil {
		return Command{}, err
	}
	cmd, err := ParseCommand(tag)
	if err != nil {
		return Command{}, err
	}
	switch cmd.Kind {
	case CommandPlaybackTime:
		total, err := d.ReadFloat64()
		if err != nil {
			return Command{}, unexpected(err)
		}
		cmd.Report.Duration = total
	case CommandExit:
		stay, err := d.ReadBool()
		if err != nil {
			return Command{}, unexpected(err)
		}
		cmd.StayConnected = stay
	}
	return cmd, nil
}

// ReadCatalog reads a full catalog snapshot including its tag.
func (d *Decoder) ReadCatalog() ([]domain.VideoSummary, error) {
	tag, err := d.ReadTag()
	if err != nil {
		return nil, err
	}
	if tag != TagCatalog {
		return nil, desyncf("expected %s, got %q", TagCatalog, tag)
	}
	return d.ReadCatalogBody()
}

// ReadCatalogBody reads the fields that follow a CATALOG tag.
func (d *Decoder) ReadCatalogBody() ([]domain.VideoSummary, error) {
	if _, err := io.ReadFull(d.r, d.buf[:2]); err != nil {
		return nil, unexpected(err)
	}
	if v := binary.BigEndian.Uint16(d.buf[:2]); v != Version {
		return nil, desyncf("unsupported protocol version %d", v)
	}
	count, err := quicvarint.Read(d.r)
	if err != nil {
		return nil, unexpected(err)
	}
	if count > MaxCatalogEntries {
		return nil, desyncf("catalog entry count %d out of range", count)
	}
	videos := make([]domain.VideoSummary, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := d.ReadString()
		if err != nil {
			return nil, unexpected(err)
		}
		title, err := d.ReadString()
		if err != nil {
			return nil, unexpected(err)
		}
		size, err := d.ReadInt64()
		if err != nil {
			return nil, unexpected(err)
		}
		videos = append(videos, domain.VideoSummary{ID: domain.VideoID(id), Title: title, Size: size})
	}
	return videos, nil
}

// VideoStart holds the fields that follow a VIDEO_START tag.
type VideoStart struct {
	MediaType string
	VideoID   domain.VideoID
	TotalSize int64
}

func (d *Decoder) ReadVideoStart() (VideoStart, error) {
	mediaType, err := d.ReadString()
	if err != nil {
		return VideoStart{}, unexpected(err)
	}
	id, err := d.ReadString()
	if err != nil {
		return VideoStart{}, unexpected(err)
	}
	size, err := d.ReadInt64()
	if err != nil {
		return VideoStart{}, unexpected(err)
	}
	if size < 0 {
		return VideoStart{}, desyncf("negative video size %d", size)
	}
	return VideoStart{MediaType: mediaType, VideoID: domain.VideoID(id), TotalSize: size}, nil
}

// ReadChunk reads the length-prefixed payload that follows VIDEO_CHUNK.
// buf is reused when large enough.
func (d *Decoder) ReadChunk(buf []byte) ([]byte, error) {
	n, err := d.ReadInt32()
	if err != nil {
		return nil, unexpected(err)
	}
	if n < 0 || int(n) > d.maxChunk {
		return nil, desyncf("chunk length %d out of range", n)
	}
	if cap(buf) < int(n) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, unexpected(err)
	}
	return buf, nil
}

// ReadPlaybackReport reads the two float64 answer to WAITING / GET_PLAYBACK.
func (d *Decoder) ReadPlaybackReport() (domain.PlaybackReport, error) {
	pos, err := d.ReadFloat64()
	if err != nil {
		return domain.PlaybackReport{}, err
	}
	total, err := d.ReadFloat64()
	if err != nil {
		return domain.PlaybackReport{}, unexpected(err)
	}
	return domain.PlaybackReport{Position: pos, Duration: total}, nil
}

func (d *Decoder) ReadString() (string, error) {
	n, err := quicvarint.Read(d.r)
	if err != nil {
		return "", err
	}
	if n > MaxStringLength {
		return "", desyncf("string length %d out of range", n)
	}
	return d.readN(int(n))
}

func (d *Decoder) ReadInt64() (int64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(d.buf[:8])), nil
}

func (d *Decoder) ReadInt32() (int32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[:4])), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(d.buf[:8])), nil
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, desyncf("invalid bool byte 0x%02x", b)
	}
}

func (d *Decoder) readN(n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", unexpected(err)
	}
	return string(b), nil
}

// unexpected turns a clean EOF in the middle of a message into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w", io.ErrUnexpectedEOF)
	}
	return err
}
