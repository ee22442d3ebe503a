package cyton

import (
	"encoding/json"
	"fmt"
)

// Reading is one full 16-channel sample built from an odd-numbered packet
// (channels 1-8) and the even-numbered packet that followed it
// (channels 9-16). Motion values come from the even packet.
type Reading struct {
	SampleNumbers [2]byte
	Channels      [ChannelCount]int32
	AccX          uint16
	AccY          uint16
	AccZ          uint16
}

// NewReading combines an odd and an even packet.
func NewReading(odd, even *Packet) Reading {
	r := Reading{
		SampleNumbers: [2]byte{odd.SampleNumber, even.SampleNumber},
		AccX:          even.AccX,
		AccY:          even.AccY,
		AccZ:          even.AccZ,
	}
	copy(r.Channels[:ChannelsPerPacket], odd.Channels[:])
	copy(r.Channels[ChannelsPerPacket:], even.Channels[:])
	return r
}

// Channel returns channel n, counting from 1.
func (r Reading) Channel(n int) int32 {
	if n < 1 || n > ChannelCount {
		panic(fmt.Sprintf("cyton: channel %d out of range 1-%d", n, ChannelCount))
	}
	return r.Channels[n-1]
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading{samples=%d/%d channels=%v acc=(%d,%d,%d)}",
		r.SampleNumbers[0], r.SampleNumbers[1], r.Channels, r.AccX, r.AccY, r.AccZ)
}

// readingJSON fixes the interchange field names and order.
type readingJSON struct {
	SampleNumbers [2]uint8 `json:"sample_numbers"`
	Chan1         int32    `json:"chan_1"`
	Chan2         int32    `json:"chan_2"`
	Chan3         int32    `json:"chan_3"`
	Chan4         int32    `json:"chan_4"`
	Chan5         int32    `json:"chan_5"`
	Chan6         int32    `json:"chan_6"`
	Chan7         int32    `json:"chan_7"`
	Chan8         int32    `json:"chan_8"`
	Chan9         int32    `json:"chan_9"`
	Chan10        int32    `json:"chan_10"`
	Chan11        int32    `json:"chan_11"`
	Chan12        int32    `json:"chan_12"`
	Chan13        int32    `json:"chan_13"`
	Chan14        int32    `json:"chan_14"`
	Chan15        int32    `json:"chan_15"`
	Chan16        int32    `json:"chan_16"`
	AccX          uint16   `json:"acc_x"`
	AccY          uint16   `json:"acc_y"`
	AccZ          uint16   `json:"acc_z"`
}

func (j *readingJSON) channels() []*int32 {
	return []*int32{
		&j.Chan1, &j.Chan2, &j.Chan3, &j.Chan4, &j.Chan5, &j.Chan6, &j.Chan7, &j.Chan8,
		&j.Chan9, &j.Chan10, &j.Chan11, &j.Chan12, &j.Chan13, &j.Chan14, &j.Chan15, &j.Chan16,
	}
}

// MarshalJSON encodes the reading with flat chan_1..chan_16 fields.
func (r Reading) MarshalJSON() ([]byte, error) {
	j := readingJSON{
		SampleNumbers: r.SampleNumbers,
		AccX:          r.AccX,
		AccY:          r.AccY,
		AccZ:          r.AccZ,
	}
	for i, c := range j.channels() {
		*c = r.Channels[i]
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes the shape produced by MarshalJSON.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var j readingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	r.SampleNumbers = j.SampleNumbers
	for i, c := range j.channels() {
		r.Channels[i] = *c
	}
	r.AccX, r.AccY, r.AccZ = j.AccX, j.AccY, j.AccZ
	return nil
}
