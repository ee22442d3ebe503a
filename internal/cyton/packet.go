package cyton

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
)

const (
	// layerTypeCytonFrameNum identifies the frame layer in the gopacket catalog.
	layerTypeCytonFrameNum = 2101

	offsetCounter  = 0
	offsetSample   = 1
	offsetChannels = 2
	offsetAccel    = offsetChannels + 3*ChannelsPerPacket
)

// LayerTypeCytonFrame is the gopacket layer type of a single 32-byte frame.
var LayerTypeCytonFrame = gopacket.RegisterLayerType(layerTypeCytonFrameNum,
	gopacket.LayerTypeMetadata{Name: "CytonFrame", Decoder: gopacket.DecodeFunc(decodeCytonFrame)})

// Packet is one decoded frame: a single sample of eight channels plus the
// accelerometer axes.
type Packet struct {
	Counter      byte
	SampleNumber byte
	Channels     [ChannelsPerPacket]int32
	AccX         uint16
	AccY         uint16
	AccZ         uint16

	contents []byte
}

// DecodePacket decodes a 32-byte frame. Frames of any other length are
// rejected with ErrFrameLength.
func DecodePacket(frame []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	return p, nil
}

// Even reports whether the sample number is even. Even packets carry the
// daisy channels and close a pair.
func (p *Packet) Even() bool {
	return p.SampleNumber%2 == 0
}

// LayerType returns LayerTypeCytonFrame.
func (p *Packet) LayerType() gopacket.LayerType {
	return LayerTypeCytonFrame
}

// CanDecode returns the layer class this decoder handles.
func (p *Packet) CanDecode() gopacket.LayerClass {
	return LayerTypeCytonFrame
}

// NextLayerType returns LayerTypeZero; a frame carries no nested layer.
func (p *Packet) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

// LayerContents returns the raw frame the packet was decoded from.
func (p *Packet) LayerContents() []byte {
	return p.contents
}

// LayerPayload returns nil.
func (p *Packet) LayerPayload() []byte {
	return nil
}

// DecodeFromBytes decodes a frame into p.
func (p *Packet) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) != FrameSize {
		if len(data) < FrameSize {
			df.SetTruncated()
		}
		return fmt.Errorf("%w: got %d", ErrFrameLength, len(data))
	}

	p.contents = data
	p.Counter = data[offsetCounter]
	p.SampleNumber = data[offsetSample]
	for i := range p.Channels {
		at := offsetChannels + 3*i
		p.Channels[i] = DecodeInt24(data[at : at+3])
	}
	p.AccX = binary.LittleEndian.Uint16(data[offsetAccel : offsetAccel+2])
	p.AccY = binary.LittleEndian.Uint16(data[offsetAccel+2 : offsetAccel+4])
	p.AccZ = binary.LittleEndian.Uint16(data[offsetAccel+4 : offsetAccel+6])
	return nil
}

// SerializeTo writes the frame encoding of p, so fixtures and simulated
// devices can produce the same bytes the board does.
func (p *Packet) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	data, err := b.PrependBytes(FrameSize)
	if err != nil {
		return err
	}
	data[offsetCounter] = p.Counter
	data[offsetSample] = p.SampleNumber
	for i, v := range p.Channels {
		at := offsetChannels + 3*i
		EncodeInt24(data[at:at+3], v)
	}
	binary.LittleEndian.PutUint16(data[offsetAccel:offsetAccel+2], p.AccX)
	binary.LittleEndian.PutUint16(data[offsetAccel+2:offsetAccel+4], p.AccY)
	binary.LittleEndian.PutUint16(data[offsetAccel+4:offsetAccel+6], p.AccZ)
	return nil
}

// EncodeFrame returns the 32-byte frame for p.
func EncodeFrame(p *Packet) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := p.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		// PrependBytes on a fresh buffer cannot fail.
		panic(err)
	}
	return buf.Bytes()
}

func decodeCytonFrame(data []byte, pb gopacket.PacketBuilder) error {
	p := &Packet{}
	if err := p.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(p)
	return nil
}
