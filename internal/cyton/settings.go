package cyton

import "fmt"

var gainMultipliers = map[Gain]int{
	Gain1: 1, Gain2: 2, Gain4: 4, Gain6: 6, Gain8: 8, Gain12: 12, Gain24: 24,
}

// GainFor returns the Gain setting for an amplification factor.
func GainFor(multiplier int) (Gain, error) {
	for g, m := range gainMultipliers {
		if m == multiplier {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unsupported gain %d: expected 1, 2, 4, 6, 8, 12 or 24", multiplier)
}

// Multiplier returns the amplification factor, or 0 for an unknown code.
func (g Gain) Multiplier() int {
	return gainMultipliers[g]
}

var inputNames = map[InputType]string{
	InputNormal:   "normal",
	InputShorted:  "shorted",
	InputBiasMeas: "bias_meas",
	InputMVDD:     "mvdd",
	InputTemp:     "temp",
	InputTestSig:  "test",
	InputBiasDrP:  "bias_drp",
	InputBiasDrN:  "bias_drn",
}

// ParseInputType returns the InputType with the given name.
func ParseInputType(name string) (InputType, error) {
	for t, n := range inputNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown input type %q", name)
}

func (t InputType) String() string {
	if n, ok := inputNames[t]; ok {
		return n
	}
	return fmt.Sprintf("InputType(%q)", byte(t))
}

// Gains returns each channel's amplification factor in channel order.
func (c SetupConfig) Gains() [ChannelCount]int {
	var out [ChannelCount]int
	for i, ch := range c.Channels {
		out[i] = ch.Gain.Multiplier()
	}
	return out
}
