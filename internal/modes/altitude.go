package modes

// DecodeAC13 decodes the 13 bit altitude code used by surveillance replies,
// in feet. Metric altitudes and invalid Gillham codes are not decoded.
func DecodeAC13(field int) (int, bool) {
	if field == 0 {
		return 0, false
	}
	if field&0x0040 != 0 {
		// M bit, metric altitude
		return 0, false
	}
	if field&0x0010 != 0 {
		// Q bit, 25ft increments
		n := (field&0x1F80)>>2 | (field&0x0020)>>1 | field&0x000F
		return n*25 - 1000, true
	}
	hundreds, ok := ModeCFromGillham(GillhamFromID13(field))
	if !ok {
		return 0, false
	}
	return hundreds * 100, true
}

// DecodeAC12 decodes the 12 bit altitude code of airborne position
// messages, in feet.
func DecodeAC12(field int) (int, bool) {
	if field == 0 {
		return 0, false
	}
	if field&0x0010 != 0 {
		n := (field&0x0FE0)>>1 | field&0x000F
		return n*25 - 1000, true
	}
	// Reinsert the M bit position to reuse the 13 bit layout
	field13 := (field&0x0FC0)<<1 | field&0x003F
	hundreds, ok := ModeCFromGillham(GillhamFromID13(field13))
	if !ok {
		return 0, false
	}
	return hundreds * 100, true
}

// GillhamFromID13 reorders the interleaved 13 bit identity field into the
// ABCD octal digit layout (0xABCD, one octal digit per nibble).
func GillhamFromID13(field int) int {
	var g int
	if field&0x1000 != 0 {
		g |= 0x0010 // C1
	}
	if field&0x0800 != 0 {
		g |= 0x1000 // A1
	}
	if field&0x0400 != 0 {
		g |= 0x0020 // C2
	}
	if field&0x0200 != 0 {
		g |= 0x2000 // A2
	}
	if field&0x0100 != 0 {
		g |= 0x0040 // C4
	}
	if field&0x0080 != 0 {
		g |= 0x4000 // A4
	}
	if field&0x0020 != 0 {
		g |= 0x0100 // B1
	}
	if field&0x0010 != 0 {
		g |= 0x0001 // D1
	}
	if field&0x0008 != 0 {
		g |= 0x0200 // B2
	}
	if field&0x0004 != 0 {
		g |= 0x0002 // D2
	}
	if field&0x0002 != 0 {
		g |= 0x0400 // B4
	}
	if field&0x0001 != 0 {
		g |= 0x0004 // D4
	}
	return g
}

// ModeCFromGillham converts a Gillham coded altitude in ABCD layout to
// hundreds of feet.
func ModeCFromGillham(g int) (int, bool) {
	if g&^0x7776 != 0 || g&0x0070 == 0 {
		return 0, false
	}

	var fiveHundreds, oneHundreds int
	if g&0x0010 != 0 {
		oneHundreds ^= 0x007 // C1
	}
	if g&0x0020 != 0 {
		oneHundreds ^= 0x003 // C2
	}
	if g&0x0040 != 0 {
		oneHundreds ^= 0x001 // C4
	}
	if oneHundreds&5 == 5 {
		oneHundreds ^= 2
	}
	if oneHundreds > 5 {
		return 0, false
	}

	for _, bit := range []struct {
		mask, value int
	}{
		{0x0002, 0x0FF}, // D2
		{0x0004, 0x07F}, // D4
		{0x1000, 0x03F}, // A1
		{0x2000, 0x01F}, // A2
		{0x4000, 0x00F}, // A4
		{0x0100, 0x007}, // B1
		{0x0200, 0x003}, // B2
		{0x0400, 0x001}, // B4
	} {
		if g&bit.mask != 0 {
			fiveHundreds ^= bit.value
		}
	}

	if fiveHundreds&1 != 0 {
		oneHundreds = 6 - oneHundreds
	}
	return fiveHundreds*5 + oneHundreds - 13, true
}
