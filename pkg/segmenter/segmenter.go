// Package segmenter encodes message text for the wire and slices encoded
// payloads into short_message sized parts.
package segmenter

import (
	"fmt"

	"github.com/linxGnu/gosmpp/data"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// Capacity is how many payload octets fit in one short_message, alone or
// as one part of a long message.
type Capacity struct {
	Single int
	Part   int
}

var (
	// Default alphabet, one octet per unpacked septet.
	capacity7Bit = Capacity{Single: 160, Part: 153}
	// 8-bit codings leave room for a 6 octet UDH.
	capacity8Bit = Capacity{Single: 140, Part: 134}
	// 16-bit codings: 70 / 67 characters.
	capacity16Bit = Capacity{Single: 140, Part: 134}
)

// CapacityFor returns the per-part limits for coding.
func CapacityFor(coding pdu.DataCoding) Capacity {
	if unitSize(coding) == 2 {
		return capacity16Bit
	}
	switch coding {
	case pdu.CodingLatin1, pdu.CodingCyrillic, pdu.CodingHebrew, pdu.CodingISO2022JP:
		return capacity8Bit
	}
	return capacity7Bit
}

// unitSize is the number of octets that must never be split across parts.
func unitSize(coding pdu.DataCoding) int {
	switch coding {
	case pdu.CodingBinary, pdu.CodingBinary2, pdu.CodingJIS, pdu.CodingUCS2,
		pdu.CodingPictogram, pdu.CodingExtendedKanji, pdu.CodingKSC5601:
		return 2
	}
	return 1
}

// gsm7Escape introduces a GSM 03.38 extension table character.
const gsm7Escape = 0x1B

// Count returns how many parts payload needs under coding.
func Count(payload []byte, coding pdu.DataCoding) int {
	c := CapacityFor(coding)
	if len(payload) <= c.Single {
		return 1
	}
	n := 0
	for start := 0; start < len(payload); n++ {
		start = cut(payload, start, c.Part, coding)
	}
	return n
}

// Slice cuts payload into parts. A payload that fits in one short_message
// is returned as is.
func Slice(payload []byte, coding pdu.DataCoding) [][]byte {
	c := CapacityFor(coding)
	if len(payload) <= c.Single {
		return [][]byte{payload}
	}
	parts := make([][]byte, 0, Count(payload, coding))
	for start := 0; start < len(payload); {
		end := cut(payload, start, c.Part, coding)
		parts = append(parts, payload[start:end])
		start = end
	}
	return parts
}

// cut returns the end of the part that begins at start. Default alphabet
// parts never end between an escape and the character it extends.
func cut(payload []byte, start, size int, coding pdu.DataCoding) int {
	end := min(start+size, len(payload))
	if coding != pdu.CodingDefault || end == len(payload) {
		return end
	}
	i := start
	for i < end {
		if payload[i] == gsm7Escape {
			i += 2
		} else {
			i++
		}
	}
	if i > end {
		end--
	}
	return end
}

// Segmenter turns text into an encoded payload and its data_coding.
type Segmenter interface {
	Encode(text string) (payload []byte, coding pdu.DataCoding, err error)
}

// DefaultSegmenter picks the GSM 03.38 default alphabet when every rune
// has a GSM7 representation and UCS2 otherwise.
type DefaultSegmenter struct{}

func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{}
}

func (DefaultSegmenter) Encode(text string) ([]byte, pdu.DataCoding, error) {
	enc := data.UCS2
	if len(data.ValidateGSM7String(text)) == 0 {
		enc = data.GSM7BIT
	}
	b, err := enc.Encode(text)
	if err != nil {
		return nil, 0, fmt.Errorf("segmenter: encode text: %w", err)
	}
	return b, pdu.DataCoding(enc.DataCoding()), nil
}

// Decode renders payload as text. Codings without a text form are
// rejected.
func Decode(payload []byte, coding pdu.DataCoding) (string, error) {
	var enc data.EncDec
	switch coding {
	case pdu.CodingDefault, pdu.CodingIA5:
		enc = data.GSM7BIT
	case pdu.CodingLatin1:
		enc = data.LATIN1
	case pdu.CodingUCS2:
		enc = data.UCS2
	default:
		return "", fmt.Errorf("segmenter: no text decoding for %s", coding)
	}
	return enc.Decode(payload)
}
