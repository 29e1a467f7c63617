package longmsg

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
	"github.com/thrillee/aegis-smpp/pkg/udh"
)

// Method is the convention used to mark the parts of a long message.
type Method string

const (
	// MethodSAR carries sar_msg_ref_num, sar_total_segments and
	// sar_segment_seqnum as optional parameters.
	MethodSAR Method = "sar"
	// MethodUDH prefixes every part with a 6 octet concatenation header
	// and sets the UDHI bit.
	MethodUDH Method = "udh"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case MethodSAR, MethodUDH:
		return m, nil
	}
	return "", fmt.Errorf("longmsg: unknown split method %q", s)
}

// maxRef is the largest reference number the method can carry.
func (m Method) maxRef() int {
	if m == MethodUDH {
		return 0xFF
	}
	return 0xFFFF
}

// Split cuts payload into parts built from base. base itself is not
// changed; each part is a new PDU carrying ref, the part count and its
// 1-based position.
func Split(base pdu.PDU, payload []byte, coding pdu.DataCoding, method Method, ref uint16, maxParts int) ([]pdu.PDU, error) {
	chunks := segmenter.Slice(payload, coding)
	total := len(chunks)
	if maxParts > 0 && total > maxParts {
		return nil, &TooLongError{Parts: total, Max: maxParts}
	}
	if total > 0xFF {
		return nil, &TooLongError{Parts: total, Max: 0xFF}
	}
	if int(ref) > method.maxRef() {
		return nil, fmt.Errorf("longmsg: reference %d does not fit the %s header", ref, method)
	}

	base = base.WithoutParam(
		pdu.ParamMessagePayload,
		pdu.ParamSarMsgRefNum,
		pdu.ParamSarTotalSegments,
		pdu.ParamSarSegmentSeqnum,
		pdu.ParamMoreMessagesToSend,
	).WithParam(pdu.ParamDataCoding, coding)

	parts := make([]pdu.PDU, total)
	for i, chunk := range chunks {
		seq := i + 1
		switch method {
		case MethodUDH:
			sm := append(udh.ConcatHeader(uint8(ref), uint8(total), uint8(seq)), chunk...)
			params := pdu.Params{
				pdu.ParamShortMessage: sm,
				pdu.ParamEsmClass:     base.EsmClass() | pdu.EsmUDHI,
			}
			if pdu.OptionalAllowed(base.CommandID(), pdu.TagMoreMessagesToSend) {
				more := pdu.MoreMessages
				if seq == total {
					more = pdu.NoMoreMessages
				}
				params[pdu.ParamMoreMessagesToSend] = more
			}
			parts[i] = base.WithParams(params)
		default:
			parts[i] = base.WithParams(pdu.Params{
				pdu.ParamShortMessage:     bytes.Clone(chunk),
				pdu.ParamSarMsgRefNum:     int(ref),
				pdu.ParamSarTotalSegments: total,
				pdu.ParamSarSegmentSeqnum: seq,
			})
		}
	}
	return parts, nil
}
