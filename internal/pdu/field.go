package pdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// reader walks a byte slice. Every read past the end returns errShortRead
// so callers can tell truncation apart from bad values.
type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) len() int { return len(r.buf) - r.off }

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.len() < n {
		return nil, errShortRead
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// cstring returns the bytes up to and including the next NUL.
func (r *reader) cstring() ([]byte, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		r.off = len(r.buf)
		return nil, errShortRead
	}
	return r.next(i + 1)
}

func (r *reader) rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// codec converts one field value to and from its wire form. Decode errors
// that carry their own status are returned as *DecodeError; anything else
// is mapped to the status of the field being decoded.
type codec interface {
	encode(v any) ([]byte, error)
	decode(r *reader) (any, error)
	null() any
}

// ===== Integers =====

type intCodec struct {
	size     int
	min, max int
}

func int1() intCodec { return intCodec{size: 1, max: 0xFF} }
func int2() intCodec { return intCodec{size: 2, max: 0xFFFF} }
func int4() intCodec { return intCodec{size: 4, max: 0xFFFFFFFF} }

func (c intCodec) null() any { return 0 }

func (c intCodec) encode(v any) ([]byte, error) {
	n, ok := toInt(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an integer", ErrBadType, v)
	}
	if n < c.min || n > c.max {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, n, c.min, c.max)
	}
	b := make([]byte, c.size)
	switch c.size {
	case 1:
		b[0] = byte(n)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(n))
	default:
		binary.BigEndian.PutUint32(b, uint32(n))
	}
	return b, nil
}

func (c intCodec) decode(r *reader) (any, error) {
	var n int
	switch c.size {
	case 1:
		v, err := r.byte()
		if err != nil {
			return nil, err
		}
		n = int(v)
	case 2:
		v, err := r.uint16()
		if err != nil {
			return nil, err
		}
		n = int(v)
	default:
		v, err := r.uint32()
		if err != nil {
			return nil, err
		}
		n = int(v)
	}
	if n < c.min || n > c.max {
		return nil, fmt.Errorf("%d not in [%d, %d]", n, c.min, c.max)
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

// ===== Strings =====

// cstringCodec is a NUL terminated string. max counts the terminator; zero
// means unbounded.
type cstringCodec struct {
	max         int
	requireNull bool
}

func (c cstringCodec) null() any { return "" }

func (c cstringCodec) encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a string", ErrBadType, v)
	}
	if c.requireNull && s != "" {
		return nil, ErrMustBeNull
	}
	if c.max > 0 && len(s)+1 > c.max {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLong, len(s)+1, c.max)
	}
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return nil, fmt.Errorf("%w: embedded NUL at %d", ErrBadType, i)
	}
	return append([]byte(s), 0), nil
}

func (c cstringCodec) decode(r *reader) (any, error) {
	b, err := r.cstring()
	if err != nil {
		return nil, err
	}
	if c.max > 0 && len(b) > c.max {
		return nil, fmt.Errorf("c-octet string of %d bytes exceeds %d", len(b), c.max)
	}
	if c.requireNull && len(b) > 1 {
		return nil, errors.New("field must be null")
	}
	return string(b[:len(b)-1]), nil
}

// octetCodec consumes the rest of its reader. It is only used inside TLVs
// where the length is known.
type octetCodec struct{}

func (octetCodec) null() any { return []byte(nil) }

func (octetCodec) encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("%w: %T is not an octet string", ErrBadType, v)
}

func (octetCodec) decode(r *reader) (any, error) {
	b := r.rest()
	if len(b) == 0 {
		return []byte(nil), nil
	}
	return bytes.Clone(b), nil
}

// emptyCodec is a TLV with no value, present or absent.
type emptyCodec struct{}

func (emptyCodec) null() any                   { return struct{}{} }
func (emptyCodec) encode(any) ([]byte, error)  { return nil, nil }
func (emptyCodec) decode(*reader) (any, error) { return struct{}{}, nil }

// shortMessageCodec is sm_length followed by that many octets.
type shortMessageCodec struct{}

const maxShortMessage = 254

func (shortMessageCodec) null() any { return []byte(nil) }

func (shortMessageCodec) encode(v any) ([]byte, error) {
	var b []byte
	switch m := v.(type) {
	case []byte:
		b = m
	case string:
		b = []byte(m)
	case nil:
	default:
		return nil, fmt.Errorf("%w: %T is not an octet string", ErrBadType, v)
	}
	if len(b) > maxShortMessage {
		return nil, fmt.Errorf("%w: short_message of %d bytes exceeds %d", ErrTooLong, len(b), maxShortMessage)
	}
	return append([]byte{byte(len(b))}, b...), nil
}

func (shortMessageCodec) decode(r *reader) (any, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	b, err := r.next(int(n))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return []byte(nil), nil
	}
	return bytes.Clone(b), nil
}

// ===== Enumerations and bit fields =====

type enumCodec[T enum] struct{}

func (enumCodec[T]) null() any { return T(0) }

func (enumCodec[T]) encode(v any) ([]byte, error) {
	e, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not %T", ErrBadType, v, T(0))
	}
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, e)
	}
	return []byte{byte(e)}, nil
}

func (enumCodec[T]) decode(r *reader) (any, error) {
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	e := T(b)
	if !e.Valid() {
		return nil, fmt.Errorf("unknown value %s", e)
	}
	return e, nil
}

// ===== Time =====

type timeCodec struct {
	requireNull bool
}

func (timeCodec) null() any { return Time{} }

func (c timeCodec) encode(v any) ([]byte, error) {
	t, ok := v.(Time)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not pdu.Time", ErrBadType, v)
	}
	if c.requireNull && !t.IsZero() {
		return nil, ErrMustBeNull
	}
	s, err := t.format()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return append([]byte(s), 0), nil
}

func (c timeCodec) decode(r *reader) (any, error) {
	b, err := r.cstring()
	if err != nil {
		return nil, err
	}
	if len(b) > timeLen+1 {
		return nil, fmt.Errorf("time of %d bytes exceeds %d", len(b), timeLen+1)
	}
	t, err := ParseTime(string(b[:len(b)-1]))
	if err != nil {
		return nil, err
	}
	if c.requireNull && !t.IsZero() {
		return nil, errors.New("field must be null")
	}
	return t, nil
}

// ===== Composites =====

type callbackNumCodec struct{}

func (callbackNumCodec) null() any { return CallbackNum{} }

func (callbackNumCodec) encode(v any) ([]byte, error) {
	cb, ok := v.(CallbackNum)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not pdu.CallbackNum", ErrBadType, v)
	}
	if cb.DigitMode > DigitModeASCII || !cb.TON.Valid() || !cb.NPI.Valid() {
		return nil, fmt.Errorf("%w: callback_num header %d/%d/%d", ErrOutOfRange, cb.DigitMode, cb.TON, cb.NPI)
	}
	return append([]byte{byte(cb.DigitMode), byte(cb.TON), byte(cb.NPI)}, cb.Digits...), nil
}

func (callbackNumCodec) decode(r *reader) (any, error) {
	b := r.rest()
	if len(b) < 3 {
		return nil, fmt.Errorf("invalid callback_num size %d", len(b))
	}
	cb := CallbackNum{DigitMode: DigitMode(b[0]), TON: TON(b[1]), NPI: NPI(b[2]), Digits: string(b[3:])}
	if cb.DigitMode > DigitModeASCII || !cb.TON.Valid() || !cb.NPI.Valid() {
		return nil, fmt.Errorf("invalid callback_num header % X", b[:3])
	}
	return cb, nil
}

type subaddressCodec struct{}

func (subaddressCodec) null() any { return Subaddress{} }

func (subaddressCodec) encode(v any) ([]byte, error) {
	sa, ok := v.(Subaddress)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not pdu.Subaddress", ErrBadType, v)
	}
	if !sa.Type.Valid() {
		return nil, fmt.Errorf("%w: subaddress type 0x%02X", ErrOutOfRange, uint8(sa.Type))
	}
	if len(sa.Value) == 0 {
		return nil, fmt.Errorf("%w: empty subaddress", ErrOutOfRange)
	}
	return append([]byte{byte(sa.Type)}, sa.Value...), nil
}

func (subaddressCodec) decode(r *reader) (any, error) {
	b := r.rest()
	if len(b) < 2 {
		return nil, fmt.Errorf("invalid subaddress size %d", len(b))
	}
	sa := Subaddress{Type: SubaddressType(b[0]), Value: bytes.Clone(b[1:])}
	if !sa.Type.Valid() {
		return nil, fmt.Errorf("unknown subaddress type 0x%02X", b[0])
	}
	return sa, nil
}

type networkErrorCodec struct{}

func (networkErrorCodec) null() any { return NetworkErrorCode{} }

func (networkErrorCodec) encode(v any) ([]byte, error) {
	ne, ok := v.(NetworkErrorCode)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not pdu.NetworkErrorCode", ErrBadType, v)
	}
	if ne.Type < 1 || ne.Type > 4 {
		return nil, fmt.Errorf("%w: network type %d", ErrOutOfRange, ne.Type)
	}
	return []byte{ne.Type, byte(ne.Code >> 8), byte(ne.Code)}, nil
}

func (networkErrorCodec) decode(r *reader) (any, error) {
	b := r.rest()
	if len(b) != 3 {
		return nil, fmt.Errorf("invalid network_error_code size %d", len(b))
	}
	if b[0] < 1 || b[0] > 4 {
		return nil, fmt.Errorf("unknown network type %d", b[0])
	}
	return NetworkErrorCode{Type: b[0], Code: binary.BigEndian.Uint16(b[1:])}, nil
}

// ===== submit_multi lists =====

var addr21 = cstringCodec{max: 21}

type destAddressCodec struct{}

func (destAddressCodec) null() any { return []DestAddress(nil) }

func (destAddressCodec) encode(v any) ([]byte, error) {
	list, ok := v.([]DestAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not []pdu.DestAddress", ErrBadType, v)
	}
	if len(list) == 0 || len(list) > 254 {
		return nil, fmt.Errorf("%w: %d destinations", ErrOutOfRange, len(list))
	}
	out := []byte{byte(len(list))}
	for i, d := range list {
		out = append(out, byte(d.Flag))
		var (
			s   []byte
			err error
		)
		switch d.Flag {
		case DestSMEAddress:
			if !d.TON.Valid() || !d.NPI.Valid() {
				return nil, fmt.Errorf("%w: destination %d ton/npi", ErrOutOfRange, i)
			}
			out = append(out, byte(d.TON), byte(d.NPI))
			s, err = addr21.encode(d.Addr)
		case DestDistributionList:
			s, err = addr21.encode(d.DLName)
		default:
			return nil, fmt.Errorf("%w: destination %d flag %d", ErrOutOfRange, i, d.Flag)
		}
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		out = append(out, s...)
	}
	return out, nil
}

func (destAddressCodec) decode(r *reader) (any, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 || n == 0xFF {
		return nil, parsef(StatusInvNumDests, "invalid number_of_dests %d", n)
	}
	list := make([]DestAddress, 0, n)
	for range int(n) {
		f, err := r.byte()
		if err != nil {
			return nil, err
		}
		d := DestAddress{Flag: DestFlag(f)}
		switch d.Flag {
		case DestSMEAddress:
			ton, err := (enumCodec[TON]{}).decode(r)
			if err != nil {
				return nil, wrapStatus(err, StatusInvDstTon)
			}
			npi, err := (enumCodec[NPI]{}).decode(r)
			if err != nil {
				return nil, wrapStatus(err, StatusInvDstNpi)
			}
			addr, err := addr21.decode(r)
			if err != nil {
				return nil, wrapStatus(err, StatusInvDstAdr)
			}
			d.TON, d.NPI, d.Addr = ton.(TON), npi.(NPI), addr.(string)
		case DestDistributionList:
			name, err := addr21.decode(r)
			if err != nil {
				return nil, wrapStatus(err, StatusInvDLName)
			}
			d.DLName = name.(string)
		default:
			return nil, parsef(StatusInvDestFlag, "invalid dest_flag %d", f)
		}
		list = append(list, d)
	}
	return list, nil
}

type unsuccessCodec struct{}

func (unsuccessCodec) null() any { return []UnsuccessSME(nil) }

func (unsuccessCodec) encode(v any) ([]byte, error) {
	var list []UnsuccessSME
	switch l := v.(type) {
	case []UnsuccessSME:
		list = l
	case nil:
	default:
		return nil, fmt.Errorf("%w: %T is not []pdu.UnsuccessSME", ErrBadType, v)
	}
	if len(list) > 255 {
		return nil, fmt.Errorf("%w: %d unsuccessful destinations", ErrOutOfRange, len(list))
	}
	out := []byte{byte(len(list))}
	for i, u := range list {
		if !u.TON.Valid() || !u.NPI.Valid() {
			return nil, fmt.Errorf("%w: unsuccess_sme %d ton/npi", ErrOutOfRange, i)
		}
		s, err := addr21.encode(u.Addr)
		if err != nil {
			return nil, fmt.Errorf("unsuccess_sme %d: %w", i, err)
		}
		out = append(out, byte(u.TON), byte(u.NPI))
		out = append(out, s...)
		out = binary.BigEndian.AppendUint32(out, uint32(u.Status))
	}
	return out, nil
}

func (unsuccessCodec) decode(r *reader) (any, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []UnsuccessSME(nil), nil
	}
	list := make([]UnsuccessSME, 0, n)
	for range int(n) {
		ton, err := (enumCodec[TON]{}).decode(r)
		if err != nil {
			return nil, err
		}
		npi, err := (enumCodec[NPI]{}).decode(r)
		if err != nil {
			return nil, err
		}
		addr, err := addr21.decode(r)
		if err != nil {
			return nil, err
		}
		st, err := r.uint32()
		if err != nil {
			return nil, err
		}
		list = append(list, UnsuccessSME{TON: ton.(TON), NPI: npi.(NPI), Addr: addr.(string), Status: CommandStatus(st)})
	}
	return list, nil
}

// wrapStatus attaches status to a value error, leaving truncation and
// errors that already carry a status alone.
func wrapStatus(err error, status CommandStatus) error {
	var de *DecodeError
	if errors.Is(err, errShortRead) || errors.As(err, &de) {
		return err
	}
	return parsef(status, "%v", err)
}
