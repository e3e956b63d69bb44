package hrm

// Decoder decodes Heart Rate Measurement characteristic payloads.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
//
// Byte 0 is a flags field; bit 0 selects the value format: a 16-bit
// little-endian value in bytes 1-2 when set, else an 8-bit value in byte 1.
// Decoding is pure and never errors: malformed payloads and out-of-range
// values are indistinguishable from no signal and yield no sample.
type Decoder struct {
	Min int
	Max int
}

// Decode returns the BPM sample and true, or 0 and false when the payload
// holds no usable sample.
func (d Decoder) Decode(payload []byte) (int, bool) {
	if len(payload) < 2 {
		return 0, false
	}

	var bpm int
	if payload[0]&0x01 != 0 {
		if len(payload) < 3 {
			return 0, false
		}
		bpm = int(uint16(payload[1]) | uint16(payload[2])<<8)
	} else {
		bpm = int(payload[1])
	}

	// Range check rejects corrupt or placeholder readings.
	if bpm < d.Min || bpm > d.Max {
		return 0, false
	}
	return bpm, true
}
