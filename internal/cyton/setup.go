package cyton

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/banshee-data/cyton.report/internal/monitoring"
)

const (
	// DefaultFirmware is the text the reset response must contain.
	DefaultFirmware = "Firmware: v3.1.2"
	// DefaultModeAck acknowledges the 16-channel mode command.
	DefaultModeAck = "16$$$"
	// DefaultChannelAck confirms the channel settings block.
	DefaultChannelAck = "Channel set for 16$$$"

	// maxResponse bounds how much of a single response is read.
	maxResponse = 4096
	// maxIdleReads is the number of consecutive empty (timed out) reads
	// after which a response is considered complete.
	maxIdleReads = 3
)

// Gain is the programmable gain amplifier setting of a channel.
type Gain byte

const (
	Gain1  Gain = '0'
	Gain2  Gain = '1'
	Gain4  Gain = '2'
	Gain6  Gain = '3'
	Gain8  Gain = '4'
	Gain12 Gain = '5'
	Gain24 Gain = '6'
)

// InputType selects the analog input routing of a channel.
type InputType byte

const (
	InputNormal   InputType = '0'
	InputShorted  InputType = '1'
	InputBiasMeas InputType = '2'
	InputMVDD     InputType = '3'
	InputTemp     InputType = '4'
	InputTestSig  InputType = '5'
	InputBiasDrP  InputType = '6'
	InputBiasDrN  InputType = '7'
)

// ChannelSettings holds the six analog front-end settings sent for one
// channel during setup.
type ChannelSettings struct {
	PowerDown bool      `json:"power_down"`
	Gain      Gain      `json:"gain"`
	Input     InputType `json:"input"`
	Bias      bool      `json:"bias"`
	SRB2      bool      `json:"srb2"`
	SRB1      bool      `json:"srb1"`
}

// DefaultChannelSettings powers the channel on at gain 24 with normal
// input, included in bias, SRB2 connected and SRB1 disconnected.
func DefaultChannelSettings() ChannelSettings {
	return ChannelSettings{
		Gain:  Gain24,
		Input: InputNormal,
		Bias:  true,
		SRB2:  true,
	}
}

func settingFlag(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// Bytes returns the six setting bytes in wire order.
func (s ChannelSettings) Bytes() [6]byte {
	return [6]byte{settingFlag(s.PowerDown), byte(s.Gain), byte(s.Input), settingFlag(s.Bias), settingFlag(s.SRB2), settingFlag(s.SRB1)}
}

// SetupConfig describes the handshake: the texts each response must contain
// and the per-channel settings.
type SetupConfig struct {
	Firmware   string
	ModeAck    string
	ChannelAck string
	Channels   [ChannelCount]ChannelSettings
}

// DefaultSetupConfig returns the handshake for the stock firmware with every
// channel at DefaultChannelSettings.
func DefaultSetupConfig() SetupConfig {
	cfg := SetupConfig{
		Firmware:   DefaultFirmware,
		ModeAck:    DefaultModeAck,
		ChannelAck: DefaultChannelAck,
	}
	for i := range cfg.Channels {
		cfg.Channels[i] = DefaultChannelSettings()
	}
	return cfg
}

// ChannelCommand builds the single buffer that configures all 16 channels:
// per channel 'x', the channel id, six setting bytes and 'X', then one
// trailing newline.
func (c SetupConfig) ChannelCommand() []byte {
	buf := make([]byte, 0, ChannelCount*9+1)
	for i, id := range ChannelIDs {
		settings := c.Channels[i].Bytes()
		buf = append(buf, channelSelectStart, id)
		buf = append(buf, settings[:]...)
		buf = append(buf, channelSelectEnd)
	}
	return append(buf, commandTerminator)
}

// Setup runs the configuration handshake on rw. The steps run strictly in
// order; the first response that lacks its expected text aborts the setup
// with a *HandshakeError and nothing further is written.
func Setup(ctx context.Context, rw io.ReadWriter, cfg SetupConfig) error {
	steps := []struct {
		name    string
		command []byte
		expect  string
	}{
		{"reset", cmdReset, cfg.Firmware},
		{"channel mode", cmdSixteenChannel, cfg.ModeAck},
		{"channel settings", cfg.ChannelCommand(), cfg.ChannelAck},
	}

	for _, step := range steps {
		if err := writeAll(rw, step.command); err != nil {
			return transportError(step.name, err)
		}
		resp, ok, err := readResponse(ctx, rw, step.expect)
		if err != nil {
			return err
		}
		if !ok {
			return &HandshakeError{Step: step.name, Expected: step.expect, Received: resp}
		}
		monitoring.Debugf("setup %s ok: %q", step.name, resp)
	}
	return nil
}

// readResponse reads until the response contains expect, the device goes
// quiet, or the response grows past maxResponse.
func readResponse(ctx context.Context, r io.Reader, expect string) (string, bool, error) {
	var resp []byte
	want := []byte(expect)
	chunk := make([]byte, ReadChunkSize)
	idle := 0
	for len(resp) < maxResponse {
		if err := ctx.Err(); err != nil {
			return string(resp), false, err
		}
		n, err := r.Read(chunk)
		resp = append(resp, chunk[:n]...)
		if bytes.Contains(resp, want) {
			return string(resp), true, nil
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return string(resp), false, transportError("read response", err)
		}
		if n == 0 {
			idle++
			if idle >= maxIdleReads {
				break
			}
			continue
		}
		idle = 0
	}
	return string(resp), false, nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
