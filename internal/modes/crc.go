package modes

// Generator polynomial for Mode-S parity, x^24 term implied.
const parityPolynomial = 0xFFF409

// parityTable holds, for every bit position of a 112 bit message, the
// remainder that bit contributes to the checksum. The final 24 entries are
// zero so the transmitted parity field does not feed back into the result.
// 56 bit messages use the last 56 entries.
var parityTable = buildParityTable()

func buildParityTable() [LongFrameBits]uint32 {
	var table [LongFrameBits]uint32
	remainder := uint32(parityPolynomial)
	for i := LongFrameBits - 25; i >= 0; i-- {
		table[i] = remainder
		remainder <<= 1
		if remainder&0x1000000 != 0 {
			remainder ^= 0x1000000 | parityPolynomial
		}
	}
	return table
}

// Checksum computes the 24 bit parity of a 56 or 112 bit message, ignoring
// the trailing 24 bit parity field.
func Checksum(msg []byte) uint32 {
	bits := len(msg) * 8
	offset := LongFrameBits - bits
	if offset < 0 {
		return 0
	}

	var crc uint32
	for j := 0; j < bits-24; j++ {
		if msg[j/8]&(1<<(7-uint(j%8))) != 0 {
			crc ^= parityTable[j+offset]
		}
	}
	return crc
}

// parityField returns the trailing 24 bits of a message
func parityField(msg []byte) uint32 {
	n := len(msg)
	return uint32(msg[n-3])<<16 | uint32(msg[n-2])<<8 | uint32(msg[n-1])
}

// Residual is the checksum xored with the transmitted parity field. For
// DF11/17/18 it is the parity/interrogator identifier, for address/parity
// formats it is the sender's address.
func Residual(msg []byte) uint32 {
	return Checksum(msg) ^ parityField(msg)
}

// SetParity overwrites the parity field of msg so that its residual equals
// overlay. Pass zero for DF17/18, the ICAO address for address/parity
// formats.
func SetParity(msg []byte, overlay uint32) {
	if len(msg) < ShortFrameBytes {
		return
	}
	p := Checksum(msg) ^ overlay
	n := len(msg)
	msg[n-3] = byte(p >> 16)
	msg[n-2] = byte(p >> 8)
	msg[n-1] = byte(p)
}
