package boardview

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// parseBVRaw3 reads the BVRAW_FORMAT_3 text listing: a header line followed
// by PART_NAME / PIN_NET / PART_END records. Pins listed outside a part
// block are structural violations.
func parseBVRaw3(data []byte) (*Board, error) {
	board := newBoard(FormatBVRaw3)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var offset int64
	var currentPart string
	first := true
	pinSeq := 0
	for sc.Scan() {
		raw := sc.Text()
		lineStart := offset
		offset += int64(len(raw)) + 1
		line := strings.TrimSpace(raw)
		if first {
			first = false
			if !strings.Contains(line, string(magicBVRaw3)) {
				return nil, ErrBadMagic
			}
			continue
		}
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "PART_NAME"):
			name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "PART_NAME")))
			if name == "" {
				return nil, parseErr(FormatBVRaw3, lineStart, "PART_NAME without a refdes")
			}
			currentPart = name
			board.addComponent(name)
			pinSeq = 0
		case line == "PART_END":
			if currentPart == "" {
				return nil, parseErr(FormatBVRaw3, lineStart, "PART_END outside a part block")
			}
			currentPart = ""
		case strings.HasPrefix(line, "PIN_NET"):
			if currentPart == "" {
				return nil, parseErr(FormatBVRaw3, lineStart, "PIN_NET outside a part block")
			}
			net := strings.TrimSpace(strings.TrimPrefix(line, "PIN_NET"))
			if net == "" {
				continue
			}
			pinSeq++
			board.addPin(currentPart, pinName(pinSeq), net)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, parseErr(FormatBVRaw3, offset, err.Error())
	}
	if len(board.Nets) == 0 || len(board.Components) == 0 {
		return nil, parseErr(FormatBVRaw3, offset, "no nets or components declared")
	}
	return board, nil
}

func pinName(seq int) string {
	return "P" + strconv.Itoa(seq)
}
