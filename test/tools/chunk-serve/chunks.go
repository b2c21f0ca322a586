package main

import (
	"encoding/binary"
	"errors"

	"github.com/zsiec/rfbview/internal/decoder"
	"github.com/zsiec/rfbview/internal/h264"
)

var errNoKeyframe = errors.New("no access unit with an SPS found")

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// accessUnits splits an Annex B stream into access units suitable for
// chunking. Access unit delimiters are dropped so an SPS leads every
// keyframe, and anything before the first access unit that opens with an
// SPS is skipped.
func accessUnits(annexB []byte) ([][]byte, error) {
	var filtered []byte
	for _, nal := range h264.ParseAnnexB(annexB) {
		if nal.Type == h264.NALTypeAUD {
			continue
		}
		filtered = append(filtered, startCode...)
		filtered = append(filtered, nal.Data...)
	}

	units := h264.SplitAccessUnits(filtered)
	for i, au := range units {
		if len(au) > len(startCode) && au[len(startCode)]&0x1f == h264.NALTypeSPS {
			return units[i:], nil
		}
	}
	return nil, errNoKeyframe
}

// encodeChunk frames payload as [length u32][flags u32][payload].
func encodeChunk(flags uint32, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(b[4:8], flags)
	copy(b[8:], payload)
	return b
}

// encodeLoop frames one pass over units. The first chunk asks the viewer
// to reset its decoder so every loop starts clean.
func encodeLoop(units [][]byte) [][]byte {
	chunks := make([][]byte, len(units))
	for i, au := range units {
		var flags uint32
		if i == 0 {
			flags = decoder.FlagResetContext
		}
		chunks[i] = encodeChunk(flags, au)
	}
	return chunks
}
