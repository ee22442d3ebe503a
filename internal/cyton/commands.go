package cyton

const (
	// FrameMarker is the first byte of every data frame.
	FrameMarker byte = 0xA0
	// FrameSize is the fixed length of a data frame in bytes.
	FrameSize = 32
	// ReadChunkSize is the maximum number of bytes taken from the transport
	// per loop iteration.
	ReadChunkSize = 64
	// ChannelsPerPacket is the number of analog channels in a single frame.
	ChannelsPerPacket = 8
	// ChannelCount is the number of channels in a paired Reading.
	ChannelCount = 2 * ChannelsPerPacket
)

// Wire commands understood by the board. Each is terminated by a newline.
var (
	cmdStartStreaming = []byte{'b', '\n'}
	cmdStopStreaming  = []byte{'s', '\n'}
	cmdReset          = []byte{'v', '\n'}
	cmdSixteenChannel = []byte{'C', '\n'}
)

const (
	channelSelectStart byte = 'x'
	channelSelectEnd   byte = 'X'
	commandTerminator  byte = '\n'
)

// ChannelIDs lists the identifiers of the 16 physical channels in the order
// the setup handshake configures them: board channels 1-8, then the daisy
// board's channels.
var ChannelIDs = [ChannelCount]byte{
	'1', '2', '3', '4', '5', '6', '7', '8',
	'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I',
}
