package boardview

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"strings"
)

// XZZPCB container layout: a 6-byte magic (optionally XOR-obscured with the
// byte at 0x10), u32 offsets at 0x20/0x28 locating the main and net blocks,
// a length-prefixed net name table, and a stream of typed blocks inside the
// main block. Part blocks (type 0x07) are DES-ECB encrypted with a fixed
// master key; pin sub-blocks (0x09) inside a part carry the net index.
const (
	xzzMainOffsetPos = 0x20
	xzzNetOffsetPos  = 0x28
	xzzBlockBase     = 0x20
)

// xzzMasterKey is the well-known community decryption key used when no
// per-file key is configured.
var xzzMasterKey = []byte{0xDC, 0xFC, 0x12, 0xAC, 0x00, 0x00, 0x00, 0x00}

func parseXZZPCB(data []byte) (*Board, error) {
	if len(data) < xzzNetOffsetPos+4 {
		return nil, parseErr(FormatXZZPCB, int64(len(data)), "truncated header")
	}

	// De-obscure the header region if the XOR key byte is set. The XOR
	// covers everything before the encrypted-region marker.
	buf := data
	if data[0x10] != 0x00 && data[0] != 'X' {
		x := data[0x10]
		end := len(data)
		if m := indexMarker(data); m >= 0 {
			end = m
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		for i := 0; i < end; i++ {
			cp[i] ^= x
		}
		buf = cp
	}

	mainOff := int(binary.LittleEndian.Uint32(buf[xzzMainOffsetPos:]))
	netOff := int(binary.LittleEndian.Uint32(buf[xzzNetOffsetPos:]))
	mainStart := mainOff + xzzBlockBase
	netStart := netOff + xzzBlockBase
	if mainStart+4 > len(buf) || netStart+4 > len(buf) {
		return nil, parseErr(FormatXZZPCB, int64(xzzMainOffsetPos), "block offsets beyond file end")
	}
	mainSize := int(binary.LittleEndian.Uint32(buf[mainStart:]))
	netSize := int(binary.LittleEndian.Uint32(buf[netStart:]))
	if mainSize == 0 || netSize == 0 {
		return nil, parseErr(FormatXZZPCB, int64(mainStart), "zero-length main or net block")
	}
	if netStart+4+netSize > len(buf) {
		return nil, parseErr(FormatXZZPCB, int64(netStart), "net block beyond file end")
	}

	netDict, err := parseXZZNetBlock(buf[netStart+4:netStart+4+netSize], int64(netStart+4))
	if err != nil {
		return nil, err
	}

	board := newBoard(FormatXZZPCB)
	blockCipher, cerr := des.NewCipher(xzzMasterKey)
	if cerr != nil {
		return nil, parseErr(FormatXZZPCB, 0, "invalid DES key: "+cerr.Error())
	}

	ptr := mainStart + 4
	end := mainStart + 4 + mainSize
	if end > len(buf) {
		end = len(buf)
	}
	for ptr < end {
		if ptr+5 > len(buf) {
			return nil, parseErr(FormatXZZPCB, int64(ptr), "truncated block header")
		}
		blockType := buf[ptr]
		blockSize := int(binary.LittleEndian.Uint32(buf[ptr+1:]))
		blockStart := ptr + 5
		if blockStart+blockSize > len(buf) {
			return nil, parseErr(FormatXZZPCB, int64(ptr), "block extends beyond file end")
		}
		block := buf[blockStart : blockStart+blockSize]
		ptr = blockStart + blockSize

		switch blockType {
		case 0x07: // encrypted part block
			dec := desDecryptECB(blockCipher, block)
			if err := parseXZZPart(board, dec, netDict, int64(blockStart)); err != nil {
				return nil, err
			}
		case 0x09: // standalone test pad
			parseXZZTestPad(board, block, netDict)
		default:
			// outline and drawing blocks carry no connectivity
		}
	}

	if len(board.Nets) == 0 || len(board.Components) == 0 {
		return nil, parseErr(FormatXZZPCB, int64(end), "no nets or components decoded")
	}
	return board, nil
}

func indexMarker(data []byte) int {
	// v6v6555v6v6 marks the start of the non-XORed region.
	return bytes.Index(data, []byte("v6v6555v6v6"))
}

// parseXZZNetBlock decodes the net name table: repeated records of
// (u32 record_size, u32 net_index, name bytes).
func parseXZZNetBlock(block []byte, base int64) (map[uint32]string, error) {
	nets := make(map[uint32]string)
	ptr := 0
	for ptr+8 <= len(block) {
		size := int(binary.LittleEndian.Uint32(block[ptr:]))
		idx := binary.LittleEndian.Uint32(block[ptr+4:])
		if size < 8 {
			return nil, parseErr(FormatXZZPCB, base+int64(ptr), "net record smaller than header")
		}
		if ptr+size > len(block) {
			return nil, parseErr(FormatXZZPCB, base+int64(ptr), "net record extends beyond net block")
		}
		name := string(block[ptr+8 : ptr+size])
		if name == "NC" {
			name = "UNCONNECTED"
		}
		nets[idx] = name
		ptr += size
	}
	return nets, nil
}

// parseXZZPart walks a decrypted part block: part name, then sub-blocks of
// which type 0x09 holds a pin (name, 32 skip bytes, u32 net index).
func parseXZZPart(board *Board, dec []byte, netDict map[uint32]string, base int64) error {
	cur := 0
	if len(dec) < 4 {
		return parseErr(FormatXZZPCB, base, "part block too small")
	}
	partSize := int(binary.LittleEndian.Uint32(dec[cur:]))
	cur += 4 + 18
	if cur+4 > len(dec) {
		return parseErr(FormatXZZPCB, base, "truncated part group header")
	}
	groupLen := int(binary.LittleEndian.Uint32(dec[cur:]))
	cur += 4 + groupLen
	if cur >= len(dec) || dec[cur] != 0x06 {
		// Padding-only block after decryption; not connectivity.
		return nil
	}
	cur += 31
	if cur+4 > len(dec) {
		return parseErr(FormatXZZPCB, base, "truncated part name header")
	}
	nameLen := int(binary.LittleEndian.Uint32(dec[cur:]))
	cur += 4
	if cur+nameLen > len(dec) {
		return parseErr(FormatXZZPCB, base, "part name extends beyond block")
	}
	refdes := strings.ToUpper(strings.TrimSpace(string(dec[cur : cur+nameLen])))
	cur += nameLen
	if refdes == "" {
		return nil
	}
	board.addComponent(refdes)

	for cur < partSize+4 && cur < len(dec) {
		sub := dec[cur]
		cur++
		switch sub {
		case 0x01, 0x05, 0x06:
			if cur+4 > len(dec) {
				return parseErr(FormatXZZPCB, base+int64(cur), "truncated part sub-block")
			}
			skip := int(binary.LittleEndian.Uint32(dec[cur:]))
			cur += 4 + skip
		case 0x09:
			if cur+4 > len(dec) {
				return parseErr(FormatXZZPCB, base+int64(cur), "truncated pin sub-block")
			}
			pinSize := int(binary.LittleEndian.Uint32(dec[cur:]))
			blockEnd := cur + pinSize + 4
			if blockEnd > len(dec) {
				return parseErr(FormatXZZPCB, base+int64(cur), "pin sub-block extends beyond part")
			}
			p := cur + 4
			p += 4 + 4 + 4 + 8 // flags, x, y, reserved
			if p+4 > blockEnd {
				cur = blockEnd
				continue
			}
			pinLen := int(binary.LittleEndian.Uint32(dec[p:]))
			p += 4
			if p+pinLen > blockEnd {
				cur = blockEnd
				continue
			}
			pin := string(dec[p : p+pinLen])
			p += pinLen + 32
			if p+4 <= blockEnd {
				netIdx := binary.LittleEndian.Uint32(dec[p:])
				if net, ok := netDict[netIdx]; ok && net != "UNCONNECTED" {
					board.addPin(refdes, pin, net)
				}
			}
			cur = blockEnd
		default:
			// Unknown sub-block; the part size bound terminates the loop.
		}
	}
	return nil
}

// parseXZZTestPad decodes a standalone test pad block into a TP component
// with a single pin.
func parseXZZTestPad(board *Board, block []byte, netDict map[uint32]string) {
	if len(block) < 24 {
		return
	}
	cur := 4 + 4 + 4 + 8 // id, x, y, reserved
	if cur+4 > len(block) {
		return
	}
	nameLen := int(binary.LittleEndian.Uint32(block[cur:]))
	cur += 4
	if cur+nameLen > len(block) {
		return
	}
	name := strings.ToUpper(strings.TrimSpace(string(block[cur : cur+nameLen])))
	if name == "" {
		return
	}
	if name[0] < 'A' || name[0] > 'Z' {
		name = "TP" + name
	}
	netIdx := binary.LittleEndian.Uint32(block[len(block)-4:])
	net, ok := netDict[netIdx]
	if !ok || net == "" || net == "UNCONNECTED" {
		board.addComponent(name)
		return
	}
	board.addPin(name, "1", net)
}

// desDecryptECB decrypts whole 8-byte blocks; a trailing partial block is
// zero-padded the way the writer pads it.
func desDecryptECB(c cipher.Block, data []byte) []byte {
	out := make([]byte, 0, len(data))
	var block, dec [8]byte
	for i := 0; i < len(data); i += 8 {
		for j := range block {
			block[j] = 0
		}
		copy(block[:], data[i:min(i+8, len(data))])
		c.Decrypt(dec[:], block[:])
		out = append(out, dec[:]...)
	}
	return out
}
