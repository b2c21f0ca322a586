package h264

// NALUnit represents a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit nal_unit_type
	Data []byte // raw NAL data including the header byte, without start code
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// ParseAnnexB splits an Annex B byte stream into NAL units. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// IsVCL reports whether nalType carries coded slice data.
func IsVCL(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// IsKeyframe returns true if the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// firstSliceInPicture reports whether a VCL NAL starts a new picture, i.e.
// its first_mb_in_slice is 0. ue(v) == 0 is encoded as a single 1 bit.
func firstSliceInPicture(nal []byte) bool {
	return len(nal) > 1 && nal[1]&0x80 != 0
}

// SplitAccessUnits groups the NAL units of an Annex B stream into access
// units, each re-emitted as Annex B with 4-byte start codes. Parameter sets
// and SEI preceding a picture belong to that picture's access unit.
func SplitAccessUnits(data []byte) [][]byte {
	var (
		units  [][]byte
		cur    []byte
		hasVCL bool
	)
	flush := func() {
		if len(cur) > 0 {
			units = append(units, cur)
		}
		cur = nil
		hasVCL = false
	}

	for _, nal := range ParseAnnexB(data) {
		switch {
		case nal.Type == NALTypeAUD, nal.Type == NALTypeSPS, nal.Type == NALTypePPS, nal.Type == NALTypeSEI:
			if hasVCL {
				flush()
			}
		case IsVCL(nal.Type):
			if hasVCL && firstSliceInPicture(nal.Data) {
				flush()
			}
			hasVCL = true
		}
		cur = append(cur, startCode...)
		cur = append(cur, nal.Data...)
	}
	flush()
	return units
}
