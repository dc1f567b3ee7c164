package boardview

import (
	"encoding/binary"

	"boardbrain/internal/netname"
)

// The BVR family has no published structure, so the parser recovers the
// netlist from two regularities every known file shares: NUL-terminated
// ASCII string tables, and a pin table of fixed-stride records holding
// (component index, net index) pairs into those tables. Nothing is decoded
// positionally beyond the 3-byte magic; everything else is searched for.

const (
	strtabMinRun       = 20
	strtabMinPinBlock  = 50
	strtabMinStringLen = 2
)

type strEntry struct {
	off  int
	text string
}

func parseStringTable(data []byte) (*Board, error) {
	strs := extractASCIIStrings(data)
	if len(strs) < strtabMinRun {
		return nil, parseErr(FormatBVR, 0, "no string table found")
	}
	byOff := make(map[uint32]int, len(strs))
	for i, s := range strs {
		byOff[uint32(s.off)] = i
	}

	runs := findOffsetRuns(data, byOff)
	if len(runs) == 0 {
		return nil, parseErr(FormatBVR, 0, "no offset table found")
	}

	netRun, compRun := classifyRuns(runs, strs)
	if netRun == nil || compRun == nil {
		return nil, parseErr(FormatBVR, 0, "could not identify net and component tables")
	}

	netTable := runStrings(netRun, strs, byOff)
	compTable := runStrings(compRun, strs, byOff)

	pins, err := findPinTable(data, len(compTable), len(netTable))
	if err != nil {
		return nil, err
	}

	board := newBoard(FormatBVR)
	for _, c := range compTable {
		board.addComponent(c)
	}
	pinSeq := make(map[int]int)
	for _, pr := range pins {
		refdes := compTable[pr.comp]
		net := netTable[pr.net]
		pinSeq[pr.comp]++
		board.addPin(refdes, pinName(pinSeq[pr.comp]), net)
	}
	if len(board.Nets) == 0 || len(board.Components) == 0 {
		return nil, parseErr(FormatBVR, 0, "pin table decoded to an empty netlist")
	}
	return board, nil
}

// extractASCIIStrings collects NUL-terminated printable runs with their file
// offsets.
func extractASCIIStrings(data []byte) []strEntry {
	var out []strEntry
	start := -1
	for i, b := range data {
		printable := b >= 0x20 && b < 0x7f
		switch {
		case printable && start < 0:
			start = i
		case !printable && start >= 0:
			if b == 0x00 && i-start >= strtabMinStringLen {
				out = append(out, strEntry{off: start, text: string(data[start:i])})
			}
			start = -1
		}
	}
	return out
}

type offsetRun struct {
	start int // byte position of the first u32
	offs  []uint32
}

// findOffsetRuns scans for consecutive little-endian u32 values that each
// point at the start of an extracted string. Only runs long enough to be a
// table are kept.
func findOffsetRuns(data []byte, byOff map[uint32]int) []offsetRun {
	var runs []offsetRun
	i := 0
	for i+4 <= len(data) {
		v := binary.LittleEndian.Uint32(data[i:])
		if _, ok := byOff[v]; !ok {
			i++
			continue
		}
		run := offsetRun{start: i}
		j := i
		for j+4 <= len(data) {
			v := binary.LittleEndian.Uint32(data[j:])
			if _, ok := byOff[v]; !ok {
				break
			}
			run.offs = append(run.offs, v)
			j += 4
		}
		if len(run.offs) >= strtabMinRun {
			runs = append(runs, run)
			i = j
		} else {
			i += 4
		}
	}
	return runs
}

// classifyRuns picks the run that looks most like a net name table and the
// one that looks most like a refdes table. The same run never serves both.
func classifyRuns(runs []offsetRun, strs []strEntry) (netRun, compRun *offsetRun) {
	byOff := make(map[uint32]string, len(strs))
	for _, s := range strs {
		byOff[uint32(s.off)] = s.text
	}
	bestNet, bestComp := -1.0, -1.0
	var netIdx, compIdx = -1, -1
	for i := range runs {
		var nets, comps int
		for _, off := range runs[i].offs {
			text := byOff[off]
			if netname.RefdesPattern.MatchString(text) {
				comps++
			} else if netname.NetPattern.MatchString(text) {
				nets++
			}
		}
		total := float64(len(runs[i].offs))
		if score := float64(nets) / total; score > bestNet {
			bestNet, netIdx = score, i
		}
		if score := float64(comps) / total; score > bestComp {
			bestComp, compIdx = score, i
		}
	}
	if netIdx < 0 || compIdx < 0 || netIdx == compIdx {
		return nil, nil
	}
	return &runs[netIdx], &runs[compIdx]
}

func runStrings(run *offsetRun, strs []strEntry, byOff map[uint32]int) []string {
	out := make([]string, 0, len(run.offs))
	for _, off := range run.offs {
		out = append(out, strs[byOff[off]].text)
	}
	return out
}

type pinRecord struct {
	comp int
	net  int
}

// findPinTable searches for a fixed-stride block of records whose first two
// u32 fields index the component and net tables. Both field orders and a
// small set of strides are tried; the longest block wins and must clear a
// floor that rules out coincidental matches.
func findPinTable(data []byte, nComp, nNet int) ([]pinRecord, error) {
	strides := []int{8, 12, 16, 20, 24}
	var best []pinRecord
	for _, stride := range strides {
		for _, netFirst := range []bool{false, true} {
			for start := 0; start+stride <= len(data); start += 4 {
				recs := readPinBlock(data, start, stride, nComp, nNet, netFirst)
				if len(recs) > len(best) {
					best = recs
					// Skip past the block so overlapping starts inside it
					// are not rescanned.
					start += len(recs)*stride - 4
				}
			}
		}
	}
	if len(best) < strtabMinPinBlock {
		return nil, parseErr(FormatBVR, 0, "no pin table of sufficient size found")
	}
	return best, nil
}

func readPinBlock(data []byte, start, stride, nComp, nNet int, netFirst bool) []pinRecord {
	var recs []pinRecord
	seenComp := make(map[int]bool)
	seenNet := make(map[int]bool)
	for p := start; p+stride <= len(data); p += stride {
		a := int(binary.LittleEndian.Uint32(data[p:]))
		b := int(binary.LittleEndian.Uint32(data[p+4:]))
		comp, net := a, b
		if netFirst {
			comp, net = b, a
		}
		if comp < 0 || comp >= nComp || net < 0 || net >= nNet {
			break
		}
		recs = append(recs, pinRecord{comp: comp, net: net})
		seenComp[comp] = true
		seenNet[net] = true
	}
	// A real pin table exercises a spread of both tables; a block that
	// repeats one index is noise.
	if len(seenComp) < 2 || len(seenNet) < 2 {
		return nil
	}
	return recs
}
