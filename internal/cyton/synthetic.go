package cyton

import (
	"bytes"
	"math"
)

// SampleRate is the board's output rate in 16-channel mode, in readings per
// second.
const SampleRate = 125

// SyntheticStream returns the frames for the given number of readings. Each
// channel carries a sine wave of a distinct frequency, which is enough for
// exercising the decoder and the charts without hardware. The stream never
// contains a marker byte outside a frame's first byte.
func SyntheticStream(readings int) []byte {
	out := make([]byte, 0, readings*2*FrameSize)
	seq := 0
	for emitted := 0; emitted < readings; seq++ {
		odd := byte(2*seq + 1)
		even := byte(2*seq + 2)
		if odd == FrameMarker || even == FrameMarker {
			continue
		}
		t := float64(emitted) / SampleRate
		out = append(out, syntheticFrame(odd, t, 0)...)
		out = append(out, syntheticFrame(even, t, ChannelsPerPacket)...)
		emitted++
	}
	return out
}

func syntheticFrame(sample byte, t float64, first int) []byte {
	p := &Packet{
		Counter:      FrameMarker,
		SampleNumber: sample,
		AccX:         0,
		AccY:         0,
		AccZ:         1024,
	}
	for i := range p.Channels {
		ch := float64(first + i + 1)
		p.Channels[i] = int32(1000 * ch * math.Sin(2*math.Pi*ch*t))
	}
	frame := EncodeFrame(p)
	// Nudge any data byte that would read as a marker.
	for i := 1; ; {
		j := bytes.IndexByte(frame[i:], FrameMarker)
		if j < 0 {
			break
		}
		frame[i+j]++
		i += j + 1
	}
	return frame
}
