package boardview

import (
	"bytes"
)

var (
	magicBVRaw3 = []byte("BVRAW_FORMAT_3")
	magicXZZ    = []byte("XZZPCB")
	magicBVR    = []byte("BVR")
)

// DetectFormat inspects fixed-offset magic markers only. It never guesses
// from content heuristics; an unrecognized header is FormatUnknown.
func DetectFormat(data []byte) Format {
	if len(data) >= len(magicBVRaw3) {
		// BVRAW_FORMAT_3 is a text format whose first line carries the
		// marker; tolerate a UTF-8 BOM.
		head := bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf})
		if idx := bytes.IndexByte(head, '\n'); idx < 0 {
			if bytes.Contains(head, magicBVRaw3) {
				return FormatBVRaw3
			}
		} else if bytes.Contains(head[:idx], magicBVRaw3) {
			return FormatBVRaw3
		}
	}
	if len(data) >= 6 {
		if bytes.Equal(data[:6], magicXZZ) {
			return FormatXZZPCB
		}
		// XZZPCB headers may be XOR-obscured with the key byte stored at
		// offset 0x10.
		if len(data) > 0x10 && data[0x10] != 0x00 {
			x := data[0x10]
			obscured := true
			for i := 0; i < 6; i++ {
				if data[i]^x != magicXZZ[i] {
					obscured = false
					break
				}
			}
			if obscured {
				return FormatXZZPCB
			}
		}
	}
	if len(data) >= 3 && bytes.Equal(data[:3], magicBVR) {
		return FormatBVR
	}
	return FormatUnknown
}

// Parse detects the format and dispatches to the matching parser.
func Parse(data []byte) (*Board, error) {
	switch DetectFormat(data) {
	case FormatBVRaw3:
		return parseBVRaw3(data)
	case FormatXZZPCB:
		return parseXZZPCB(data)
	case FormatBVR:
		return parseStringTable(data)
	default:
		return nil, ErrBadMagic
	}
}
