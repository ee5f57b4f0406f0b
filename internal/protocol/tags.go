// Package protocol implements the vidstream wire format shared by the
// delivery server and the receiver.
//
// Every message starts with a tag: a QUIC varint byte length followed by
// UTF-8 text. Depending on the tag a fixed sequence of typed fields follows
// with no further framing, so both ends must agree on each tag's field list:
//
//	CATALOG                 uint16 version, varint count, count × {string id, string title, int64 size}
//	STREAM:<id>             -
//	PLAYBACK_TIME:<value>   float64 totalTime
//	EXIT                    bool stayConnected
//	VIDEO_START             string mediaType, string id, int64 totalSize
//	VIDEO_CHUNK             int32 length, length raw bytes
//	WAITING, GET_PLAYBACK   - (the peer answers with float64 currentTime, float64 totalTime)
//	VIDEO_END, VIDEO_ERROR  -
//
// Integers and floats are big-endian. Strings carry a varint byte length.
// There is no resynchronization marker: any unexpected byte is fatal.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"vidstream/internal/core/domain"
)

// Version is the wire format version carried in the catalog snapshot.
const Version uint16 = 1

const (
	TagCatalog     = "CATALOG"
	TagExit        = "EXIT"
	TagVideoStart  = "VIDEO_START"
	TagVideoChunk  = "VIDEO_CHUNK"
	TagWaiting     = "WAITING"
	TagGetPlayback = "GET_PLAYBACK"
	TagVideoEnd    = "VIDEO_END"
	TagVideoError  = "VIDEO_ERROR"

	PrefixStream       = "STREAM:"
	PrefixPlaybackTime = "PLAYBACK_TIME:"
)

const (
	MaxTagLength      = 4096
	MaxStringLength   = 64 * 1024
	MaxCatalogEntries = 1 << 20
	// DefaultMaxChunkLength bounds VIDEO_CHUNK payloads a decoder accepts.
	DefaultMaxChunkLength = 64 * 1024 * 1024
)

// ErrProtocolDesync is returned for any unexpected tag or field shape.
var ErrProtocolDesync = errors.New("protocol desync")

func desyncf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocolDesync, fmt.Sprintf(format, args...))
}

// CommandKind enumerates client-to-server commands.
type CommandKind int

const (
	CommandStream CommandKind = iota + 1
	CommandPlaybackTime
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandStream:
		return "stream"
	case CommandPlaybackTime:
		return "playback_time"
	case CommandExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Command is a decoded client command including its trailing fields.
type Command struct {
	Kind CommandKind

	VideoID domain.VideoID // CommandStream

	Report domain.PlaybackReport // CommandPlaybackTime

	StayConnected bool // CommandExit
}

// ParseCommand parses the tag text of a client command. Trailing fields are
// not read here; see Decoder.ReadCommand.
func ParseCommand(tag string) (Command, error) {
	switch {
	case tag == TagExit:
		return Command{Kind: CommandExit}, nil
	case strings.HasPrefix(tag, PrefixStream):
		return Command{Kind: CommandStream, VideoID: domain.VideoID(tag[len(PrefixStream):])}, nil
	case strings.HasPrefix(tag, PrefixPlaybackTime):
		raw := tag[len(PrefixPlaybackTime):]
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Command{}, desyncf("bad playback time %q", raw)
		}
		return Command{Kind: CommandPlaybackTime, Report: domain.PlaybackReport{Position: v}}, nil
	default:
		return Command{}, desyncf("unexpected command tag %q", tag)
	}
}

// StreamTag formats STREAM:<id>.
func StreamTag(id domain.VideoID) string {
	return PrefixStream + string(id)
}

// PlaybackTimeTag formats PLAYBACK_TIME:<value>.
func PlaybackTimeTag(position float64) string {
	return PrefixPlaybackTime + strconv.FormatFloat(position, 'g', -1, 64)
}
