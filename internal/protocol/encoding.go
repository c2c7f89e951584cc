package protocol

import (
	"unicode/utf8"
)

// PositionEncoding is the unit Position.Character is measured in.
type PositionEncoding string

const (
	EncodingUTF8  PositionEncoding = "utf-8"
	EncodingUTF16 PositionEncoding = "utf-16"
	EncodingUTF32 PositionEncoding = "utf-32"
)

// ParseEncoding maps a negotiated encoding name onto a PositionEncoding,
// defaulting to utf-16 as the protocol does.
func ParseEncoding(name string) PositionEncoding {
	switch name {
	case "utf-8", "utf8":
		return EncodingUTF8
	case "utf-32", "utf32":
		return EncodingUTF32
	default:
		return EncodingUTF16
	}
}

// ByteOffset converts character, measured in enc code units, into a byte
// offset into line. Offsets past the end clamp to len(line); an offset that
// lands inside a multi-unit character rounds up to the next character.
func ByteOffset(line string, character int, enc PositionEncoding) int {
	if character <= 0 {
		return 0
	}
	if enc == EncodingUTF8 {
		if character > len(line) {
			return len(line)
		}
		return character
	}

	units := 0
	for i, r := range line {
		if units >= character {
			return i
		}
		if enc == EncodingUTF16 && r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return len(line)
}

// CharacterOffset is the inverse of ByteOffset: it measures the first
// offset bytes of line in enc code units.
func CharacterOffset(line string, offset int, enc PositionEncoding) int {
	if offset > len(line) {
		offset = len(line)
	}
	if offset <= 0 {
		return 0
	}
	prefix := line[:offset]
	switch enc {
	case EncodingUTF8:
		return offset
	case EncodingUTF32:
		return utf8.RuneCountInString(prefix)
	default:
		units := 0
		for _, r := range prefix {
			if r >= 0x10000 {
				units += 2
			} else {
				units++
			}
		}
		return units
	}
}

// ConvertCharacter re-measures character from one encoding into another
// using the text of the line it refers to.
func ConvertCharacter(line string, character int, from, to PositionEncoding) int {
	if from == to {
		return character
	}
	return CharacterOffset(line, ByteOffset(line, character, from), to)
}
