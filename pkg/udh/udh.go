// Package udh encodes and decodes the GSM 03.40 User Data Header carried at
// the front of short_message when the esm_class UDHI bit is set.
package udh

import (
	"errors"
	"fmt"
	"slices"
)

// IEI is an information element identifier.
type IEI uint8

const (
	ConcatenatedSM8Bit      IEI = 0x00
	SpecialSMSIndication    IEI = 0x01
	PortAddressing8Bit      IEI = 0x04
	PortAddressing16Bit     IEI = 0x05
	SMSCControlParameters   IEI = 0x06
	SourceIndicator         IEI = 0x07
	ConcatenatedSM16Bit     IEI = 0x08
	WirelessControlProtocol IEI = 0x09
	RFC822EmailHeader       IEI = 0x20
	HyperlinkFormatElement  IEI = 0x21
	ReplyAddressElement     IEI = 0x22
	EnhancedVoiceMailInfo   IEI = 0x23
	NationalLanguageSingle  IEI = 0x24
	NationalLanguageLocking IEI = 0x25
)

type ieiInfo struct {
	name       string
	repeatable bool
	excludes   []IEI
}

// Only non-repeatable identifiers take part in exclusion.
var identifiers = map[IEI]ieiInfo{
	ConcatenatedSM8Bit:      {name: "CONCATENATED_SM_8BIT_REF_NUM", excludes: []IEI{ConcatenatedSM16Bit}},
	SpecialSMSIndication:    {name: "SPECIAL_SMS_MESSAGE_INDICATION", repeatable: true},
	PortAddressing8Bit:      {name: "APPLICATION_PORT_ADDRESSING_SCHEME_8BIT", excludes: []IEI{PortAddressing16Bit}},
	PortAddressing16Bit:     {name: "APPLICATION_PORT_ADDRESSING_SCHEME_16BIT", excludes: []IEI{PortAddressing8Bit}},
	SMSCControlParameters:   {name: "SMSC_CONTROL_PARAMETERS"},
	SourceIndicator:         {name: "UDH_SOURCE_INDICATOR", repeatable: true},
	ConcatenatedSM16Bit:     {name: "CONCATENATED_SM_16BIT_REF_NUM", excludes: []IEI{ConcatenatedSM8Bit}},
	WirelessControlProtocol: {name: "WIRELESS_CONTROL_MESSAGE_PROTOCOL"},
	RFC822EmailHeader:       {name: "RFC_822_EMAIL_HEADER"},
	HyperlinkFormatElement:  {name: "HYPERLINK_FORMAT_ELEMENT", repeatable: true},
	ReplyAddressElement:     {name: "REPLY_ADDRESS_ELEMENT"},
	EnhancedVoiceMailInfo:   {name: "ENHANCED_VOICE_MAIL_INFORMATION"},
	NationalLanguageSingle:  {name: "NATIONAL_LANGUAGE_SINGLE_SHIFT"},
	NationalLanguageLocking: {name: "NATIONAL_LANGUAGE_LOCKING_SHIFT"},
}

// Known reports whether id is in the identifier table.
func (id IEI) Known() bool {
	_, ok := identifiers[id]
	return ok
}

// Repeatable reports whether id may occur more than once in one header.
func (id IEI) Repeatable() bool { return identifiers[id].repeatable }

func (id IEI) String() string {
	if info, ok := identifiers[id]; ok {
		return info.name
	}
	return fmt.Sprintf("IEI(0x%02X)", uint8(id))
}

func (id IEI) excludes(other IEI) bool {
	for _, x := range identifiers[id].excludes {
		if x == other {
			return true
		}
	}
	return false
}

var (
	ErrRepeated          = errors.New("udh: non-repeatable element repeated")
	ErrMutuallyExclusive = errors.New("udh: mutually exclusive elements")
	ErrUnknownIEI        = errors.New("udh: unknown information element identifier")
	ErrMalformed         = errors.New("udh: malformed header")
)

// Concat is the payload of a concatenated short message element.
type Concat struct {
	Ref   uint16
	Total uint8
	Seq   uint8
}

// Element is one information element. Data holds a Concat for the two
// concatenation identifiers and raw bytes for everything else.
type Element struct {
	ID   IEI
	Data any
}

// ConcatElement builds the 8-bit reference form when ref fits, otherwise
// the 16-bit form.
func ConcatElement(ref uint16, total, seq uint8) Element {
	id := ConcatenatedSM8Bit
	if ref > 0xFF {
		id = ConcatenatedSM16Bit
	}
	return Element{ID: id, Data: Concat{Ref: ref, Total: total, Seq: seq}}
}

func (e Element) encode() ([]byte, error) {
	var data []byte
	switch e.ID {
	case ConcatenatedSM8Bit, ConcatenatedSM16Bit:
		c, ok := e.Data.(Concat)
		if !ok {
			return nil, fmt.Errorf("udh: %s data is %T, want udh.Concat", e.ID, e.Data)
		}
		if e.ID == ConcatenatedSM8Bit {
			if c.Ref > 0xFF {
				return nil, fmt.Errorf("udh: reference %d does not fit 8 bits", c.Ref)
			}
			data = []byte{byte(c.Ref), c.Total, c.Seq}
		} else {
			data = []byte{byte(c.Ref >> 8), byte(c.Ref), c.Total, c.Seq}
		}
	default:
		b, ok := e.Data.([]byte)
		if !ok && e.Data != nil {
			return nil, fmt.Errorf("udh: %s data is %T, want []byte", e.ID, e.Data)
		}
		data = b
	}
	if len(data) > 0xFF {
		return nil, fmt.Errorf("udh: %s data of %d bytes", e.ID, len(data))
	}
	return append([]byte{byte(e.ID), byte(len(data))}, data...), nil
}

// Encode builds a header, UDHL included, from elements in order.
func Encode(elements []Element) ([]byte, error) {
	seen := make(map[IEI]bool)
	body := []byte{}
	for _, e := range elements {
		if !e.ID.Known() {
			return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownIEI, uint8(e.ID))
		}
		if !e.ID.Repeatable() {
			if seen[e.ID] {
				return nil, fmt.Errorf("%w: %s", ErrRepeated, e.ID)
			}
			for other := range seen {
				if e.ID.excludes(other) {
					return nil, fmt.Errorf("%w: %s and %s", ErrMutuallyExclusive, e.ID, other)
				}
			}
			seen[e.ID] = true
		}
		b, err := e.encode()
		if err != nil {
			return nil, err
		}
		body = append(body, b...)
	}
	if len(body) > 0xFF {
		return nil, fmt.Errorf("%w: header of %d bytes", ErrMalformed, len(body))
	}
	return append([]byte{byte(len(body))}, body...), nil
}

// Decode reads the header at the start of b. It returns the surviving
// elements in arrival order and the number of bytes the header occupies,
// UDHL included.
//
// Unknown identifiers are skipped. A non-repeatable identifier seen twice
// keeps the later value, and an element evicts any earlier element it
// excludes.
func Decode(b []byte) ([]Element, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("%w: empty", ErrMalformed)
	}
	n := int(b[0]) + 1
	if n > len(b) {
		return nil, 0, fmt.Errorf("%w: udhl %d exceeds %d bytes", ErrMalformed, b[0], len(b)-1)
	}

	var elements []Element
	for off := 1; off < n; {
		if n-off < 2 {
			return nil, 0, fmt.Errorf("%w: truncated element at %d", ErrMalformed, off)
		}
		id, length := IEI(b[off]), int(b[off+1])
		start := off + 2
		if start+length > n {
			return nil, 0, fmt.Errorf("%w: %s length %d overruns header", ErrMalformed, id, length)
		}
		data := b[start : start+length]
		off = start + length
		if !id.Known() {
			continue
		}

		e, err := decodeElement(id, data)
		if err != nil {
			return nil, 0, err
		}
		if !id.Repeatable() {
			elements = slices.DeleteFunc(elements, func(prev Element) bool {
				return prev.ID == id || id.excludes(prev.ID)
			})
		}
		elements = append(elements, e)
	}
	return elements, n, nil
}

func decodeElement(id IEI, data []byte) (Element, error) {
	switch id {
	case ConcatenatedSM8Bit:
		if len(data) != 3 {
			return Element{}, fmt.Errorf("%w: %s length %d", ErrMalformed, id, len(data))
		}
		return Element{ID: id, Data: Concat{Ref: uint16(data[0]), Total: data[1], Seq: data[2]}}, nil
	case ConcatenatedSM16Bit:
		if len(data) != 4 {
			return Element{}, fmt.Errorf("%w: %s length %d", ErrMalformed, id, len(data))
		}
		return Element{ID: id, Data: Concat{Ref: uint16(data[0])<<8 | uint16(data[1]), Total: data[2], Seq: data[3]}}, nil
	}
	if len(data) == 0 {
		return Element{ID: id}, nil
	}
	return Element{ID: id, Data: append([]byte(nil), data...)}, nil
}

// ConcatHeader returns the 6 byte header 05 00 03 rr tt ss used by udh
// long-message splitting.
func ConcatHeader(ref, total, seq uint8) []byte {
	return []byte{0x05, byte(ConcatenatedSM8Bit), 0x03, ref, total, seq}
}

// SplitConcat looks for a concatenation element in the header at the start
// of payload. It returns the concat data, the payload after the header, and
// whether an element was found.
func SplitConcat(payload []byte) (Concat, []byte, bool) {
	elements, n, err := Decode(payload)
	if err != nil {
		return Concat{}, payload, false
	}
	for _, e := range elements {
		if c, ok := e.Data.(Concat); ok {
			return c, payload[n:], true
		}
	}
	return Concat{}, payload, false
}
