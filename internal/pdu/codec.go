package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
)

// HeaderLen is the fixed size of every PDU header.
const HeaderLen = 16

// MaxSeq is the highest sequence number a session may allocate.
const MaxSeq = 0x7FFFFFFF

// Header is the 16 byte PDU header.
type Header struct {
	Length uint32
	ID     CommandID
	Status CommandStatus
	Seq    uint32
}

// DecodeHeader reads the header at the start of b. A Parse error is
// returned with the header filled in when only the status is unusable.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, corruptf(StatusInvCmdLen, "header needs %d bytes, have %d", HeaderLen, len(b))
	}
	h := Header{
		Length: binary.BigEndian.Uint32(b[0:4]),
		ID:     CommandID(binary.BigEndian.Uint32(b[4:8])),
		Seq:    binary.BigEndian.Uint32(b[12:16]),
	}
	if h.Length < HeaderLen {
		e := corruptf(StatusInvCmdLen, "invalid command_length %d", h.Length)
		e.Header = h
		return h, e
	}
	if !h.ID.Known() {
		e := corruptf(StatusInvCmdID, "unknown command_id 0x%08X", uint32(h.ID))
		e.Header = h
		return h, e
	}
	status, err := decodeStatus(binary.BigEndian.Uint32(b[8:12]))
	h.Status = status
	if err != nil {
		e := parsef(StatusUnknownErr, "%v", err)
		e.Header = h
		return h, e
	}
	return h, nil
}

// ReadFrame reads exactly one PDU from r: the length word, then the rest
// of the frame. Frames longer than maxSize are rejected as corrupt without
// being read. io.EOF is returned untouched when r ends cleanly between
// frames.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	if n < HeaderLen {
		return nil, corruptf(StatusInvCmdLen, "invalid command_length %d", n)
	}
	if maxSize > 0 && int64(n) > int64(maxSize) {
		return nil, corruptf(StatusInvCmdLen, "command_length %d exceeds limit %d", n, maxSize)
	}
	frame := make([]byte, n)
	copy(frame, lb[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Decode parses one PDU from the start of b and reports how many bytes it
// consumed. Bytes between the end of the parsed body and command_length are
// treated as padding.
func Decode(b []byte) (PDU, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return PDU{}, 0, err
	}
	if uint64(len(b)) < uint64(h.Length) {
		e := corruptf(StatusInvCmdLen, "command_length %d but only %d bytes available", h.Length, len(b))
		e.Header = h
		return PDU{}, 0, e
	}
	p, err := decodeBody(h, b[HeaderLen:h.Length])
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Header = h
		}
		return PDU{}, 0, err
	}
	return p, int(h.Length), nil
}

func decodeBody(h Header, body []byte) (PDU, error) {
	s := schemas[h.ID]
	p := PDU{id: h.ID, status: h.Status, seq: h.Seq, params: Params{}}
	if h.Status != StatusOK && (s.noBodyOnError || (h.ID.IsResponse() && len(body) == 0)) {
		return New(h.ID, nil).withHeader(h), nil
	}

	r := newReader(body)
	for _, f := range s.mandatory {
		v, err := f.codec.decode(r)
		if err != nil {
			return PDU{}, fieldError(f, err)
		}
		p.params[f.name] = v
	}

	if len(s.optional) == 0 {
		// Whatever follows is padding.
		return p, nil
	}
	for r.len() > 0 {
		if err := decodeOption(h.ID, r, p.params); err != nil {
			return PDU{}, err
		}
	}
	return p, nil
}

func (p PDU) withHeader(h Header) PDU {
	p.status, p.seq = h.Status, h.Seq
	return p
}

func fieldError(f field, err error) error {
	var de *DecodeError
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, errShortRead):
		return corruptf(StatusInvMsgLen, "%s: %v", f.name, err)
	}
	return parsef(f.status, "%s: %v", f.name, err)
}

func decodeOption(id CommandID, r *reader, params Params) error {
	if r.len() < 4 {
		return parsef(StatusInvOptParStream, "%d trailing bytes cannot hold a tlv", r.len())
	}
	t16, _ := r.uint16()
	length, _ := r.uint16()
	tag := Tag(t16)
	value, err := r.next(int(length))
	if err != nil {
		return parsef(StatusInvOptParStream, "%s: length %d overruns body", tag, length)
	}

	if tag.IsVendorSpecific() {
		list, _ := params[ParamVendorSpecific].([]VendorSpecific)
		params[ParamVendorSpecific] = append(list, VendorSpecific{Tag: tag, Value: slices.Clone(value)})
		return nil
	}
	o, ok := optionsByTag[tag]
	if !ok {
		return parsef(StatusOptParNotAllwd, "optional parameter 0x%04X unknown", t16)
	}
	vr := newReader(value)
	v, err := o.codec.decode(vr)
	switch {
	case errors.Is(err, errShortRead):
		return parsef(StatusInvParLen, "%s: declared length %d too short", o.name, length)
	case err != nil:
		return parsef(StatusInvOptParamVal, "%s: %v", o.name, err)
	case vr.len() != 0:
		return parsef(StatusInvParLen, "%s: labeled %d but parsed %d", o.name, length, int(length)-vr.len())
	}
	if !OptionalAllowed(id, tag) {
		return parsef(StatusOptParNotAllwd, "%s not allowed on %s", o.name, id)
	}
	params[o.name] = v
	return nil
}

// Encode serialises p. It fails with *EncodingError when p cannot be put on
// the wire as is.
func Encode(p PDU) ([]byte, error) {
	s, ok := schemas[p.id]
	if !ok {
		return nil, &EncodingError{Command: p.id, Err: errors.New("unknown command_id")}
	}
	if p.seq == 0 && p.id != GenericNack {
		return nil, &EncodingError{Command: p.id, Err: errors.New("sequence number must be at least 1")}
	}
	if p.seq > MaxSeq && p.id != GenericNack {
		return nil, &EncodingError{Command: p.id, Err: fmt.Errorf("sequence number %d above %d", p.seq, uint32(MaxSeq))}
	}

	body, err := encodeBody(p, s)
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderLen, HeaderLen+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(HeaderLen+len(body)))
	binary.BigEndian.PutUint32(out[4:8], uint32(p.id))
	binary.BigEndian.PutUint32(out[8:12], uint32(p.status))
	binary.BigEndian.PutUint32(out[12:16], p.seq)
	return append(out, body...), nil
}

func encodeBody(p PDU, s *schema) ([]byte, error) {
	if s.noBodyOnError && p.status != StatusOK {
		return nil, nil
	}

	var body []byte
	for _, f := range s.mandatory {
		v, ok := p.params[f.name]
		if !ok {
			return nil, &EncodingError{Command: p.id, Param: f.name, Err: ErrMissingParam}
		}
		b, err := f.codec.encode(v)
		if err != nil {
			return nil, &EncodingError{Command: p.id, Param: f.name, Err: err}
		}
		body = append(body, b...)
	}

	type tlv struct {
		tag   Tag
		value []byte
	}
	var tlvs []tlv
	for name, v := range p.params {
		if _, ok := s.mandatoryField(name); ok {
			continue
		}
		if name == ParamVendorSpecific {
			list, ok := v.([]VendorSpecific)
			if !ok {
				return nil, &EncodingError{Command: p.id, Param: name, Err: ErrBadType}
			}
			for _, vs := range list {
				if !vs.Tag.IsVendorSpecific() {
					return nil, &EncodingError{Command: p.id, Param: name, Err: fmt.Errorf("%w: tag %s", ErrOutOfRange, vs.Tag)}
				}
				tlvs = append(tlvs, tlv{vs.Tag, vs.Value})
			}
			continue
		}
		o, ok := optionsByName[name]
		if !ok || !OptionalAllowed(p.id, o.tag) {
			return nil, &EncodingError{Command: p.id, Param: name, Err: ErrUnknownParam}
		}
		b, err := o.codec.encode(v)
		if err != nil {
			return nil, &EncodingError{Command: p.id, Param: name, Err: err}
		}
		tlvs = append(tlvs, tlv{o.tag, b})
	}
	sort.SliceStable(tlvs, func(i, j int) bool { return tlvs[i].tag < tlvs[j].tag })
	for _, t := range tlvs {
		if len(t.value) > 0xFFFF {
			return nil, &EncodingError{Command: p.id, Param: t.tag.String(), Err: ErrTooLong}
		}
		body = binary.BigEndian.AppendUint16(body, uint16(t.tag))
		body = binary.BigEndian.AppendUint16(body, uint16(len(t.value)))
		body = append(body, t.value...)
	}
	return body, nil
}
