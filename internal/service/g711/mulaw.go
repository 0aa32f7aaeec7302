// Package g711 converts between 8-bit μ-law telephony samples and 16-bit
// linear PCM as delivered to the transcription engine.
package g711

import "encoding/binary"

const (
	// bias added to every reconstructed magnitude.
	bias = 0x84

	// maxLinear is the largest magnitude DecodeSample can produce.
	maxLinear = ((0x0f << 3) + bias) << 6
)

// DecodeSample expands one μ-law byte into a signed 16-bit linear sample.
//
// The bits are inverted, then the magnitude is rebuilt as
// ((mantissa<<3)+0x84) << (exponent-1). Exponent zero is the zero-crossing
// segment and decodes to silence. Every byte value maps to a defined sample.
func DecodeSample(b byte) int16 {
	u := ^b
	exponent := (u & 0x70) >> 4
	if exponent == 0 {
		return 0
	}
	mantissa := u & 0x0f

	magnitude := ((int32(mantissa) << 3) + bias) << (exponent - 1)
	if u&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// Decode expands a batch of μ-law bytes into little-endian 16-bit PCM.
// The result holds exactly two bytes per input sample, in input order.
func Decode(src []byte) []byte {
	out := make([]byte, len(src)*2)
	for i, b := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(DecodeSample(b)))
	}
	return out
}

// DecodeSamples expands a batch of μ-law bytes into linear samples.
func DecodeSamples(src []byte) []int16 {
	out := make([]int16, len(src))
	for i, b := range src {
		out[i] = DecodeSample(b)
	}
	return out
}

// EncodeSample compresses a linear sample into the μ-law byte for the
// largest step not above its magnitude. Magnitudes below the smallest step
// round to whichever of silence (0xFF) or that step is nearer. DecodeSample(EncodeSample(DecodeSample(b)))
// == DecodeSample(b) for every byte, and EncodeSample(DecodeSample(b)) == b
// for every byte outside the zero-crossing segment.
func EncodeSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}

	switch {
	case v < bias/2:
		return 0xFF
	case v < bias:
		v = bias
	case v > maxLinear:
		v = maxLinear
	}

	exponent := byte(7)
	for exponent > 1 && v < bias<<(exponent-1) {
		exponent--
	}
	mantissa := ((v >> (exponent - 1)) - bias) >> 3
	if mantissa > 0x0f {
		mantissa = 0x0f
	}

	return ^(sign | exponent<<4 | byte(mantissa))
}

// Encode compresses little-endian 16-bit PCM into μ-law bytes. A trailing
// odd byte is ignored.
func Encode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = EncodeSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}
