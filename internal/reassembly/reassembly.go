// Package reassembly joins the parts of inbound long messages back into
// one PDU.
package reassembly

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/udh"
)

// maxShortMessage is the largest payload short_message can carry; longer
// merged content moves to message_payload.
const maxShortMessage = 254

// PartError is a part whose segmentation data is unusable.
type PartError struct {
	Ref   uint16
	Seq   int
	Total int
}

func (e *PartError) Error() string {
	return fmt.Sprintf("reassembly: ref %d: segment %d of %d is out of range", e.Ref, e.Seq, e.Total)
}

func (e *PartError) CommandStatus() pdu.CommandStatus { return pdu.StatusInvOptParamVal }

// part describes where one PDU sits in its long message.
type part struct {
	method string
	ref    uint16
	total  int
	seq    int
}

// partOf reports whether p is one part of a long message.
func partOf(p pdu.PDU) (part, bool) {
	if p.Has(pdu.ParamSarMsgRefNum) {
		return part{
			method: "sar",
			ref:    uint16(p.IntParam(pdu.ParamSarMsgRefNum)),
			total:  p.IntParam(pdu.ParamSarTotalSegments),
			seq:    p.IntParam(pdu.ParamSarSegmentSeqnum),
		}, true
	}
	if p.EsmClass().UDHI() {
		if c, _, ok := udh.SplitConcat(p.Message()); ok {
			return part{method: "udh", ref: c.Ref, total: int(c.Total), seq: int(c.Seq)}, true
		}
	}
	return part{}, false
}

// Reassembler buffers parts per (ref, source, destination) until every
// part of a message has arrived.
type Reassembler struct {
	store  Store
	scope  string
	logger *slog.Logger
}

// New returns a Reassembler whose buffer keys are namespaced by scope,
// usually the connector or system_id the parts arrive on.
func New(store Store, scope string, logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{store: store, scope: scope, logger: logger}
}

func (r *Reassembler) key(p pdu.PDU, info part) string {
	return fmt.Sprintf("%s%s:%d:%s:%s", KeyPrefix, r.scope, info.ref,
		p.StringParam(pdu.ParamSourceAddr), p.StringParam(pdu.ParamDestinationAddr))
}

// Accept takes one inbound message. A PDU that is not part of a long
// message comes straight back with complete set. For a part, complete is
// true only on the call that supplies the last missing part, and merged
// is then the whole message.
func (r *Reassembler) Accept(ctx context.Context, p pdu.PDU) (merged pdu.PDU, complete bool, err error) {
	info, ok := partOf(p)
	if !ok {
		return p, true, nil
	}
	if info.total < 1 || info.seq < 1 || info.seq > info.total {
		return pdu.PDU{}, false, &PartError{Ref: info.ref, Seq: info.seq, Total: info.total}
	}
	ctx = logging.ContextWithRefNum(ctx, info.ref)
	if info.total == 1 {
		m, err := r.merge(map[int]pdu.PDU{1: p}, info)
		return m, err == nil, err
	}

	if p.Seq() == 0 {
		p = p.WithSeq(1)
	}
	raw, err := pdu.Encode(p)
	if err != nil {
		return pdu.PDU{}, false, fmt.Errorf("reassembly: encode part: %w", err)
	}
	key := r.key(p, info)
	added, count, err := r.store.Add(ctx, key, info.seq, raw)
	if err != nil {
		return pdu.PDU{}, false, err
	}
	if !added {
		r.logger.WarnContext(ctx, "Duplicate long message part ignored",
			slog.String("key", key),
			slog.Int("segment", info.seq),
		)
		return pdu.PDU{}, false, nil
	}
	r.logger.DebugContext(ctx, "Long message part stored",
		slog.String("key", key),
		slog.Int("segment", info.seq),
		slog.Int("total", info.total),
		slog.Int("have", count),
	)
	if count < info.total {
		return pdu.PDU{}, false, nil
	}

	stored, err := r.store.Take(ctx, key)
	if err != nil {
		return pdu.PDU{}, false, err
	}
	if len(stored) == 0 {
		// Another caller completed the buffer first.
		return pdu.PDU{}, false, nil
	}
	parts := make(map[int]pdu.PDU, len(stored))
	for seq, b := range stored {
		dp, _, err := pdu.Decode(b)
		if err != nil {
			r.dataLoss(ctx, key, info, len(stored), err)
			return pdu.PDU{}, false, nil
		}
		parts[seq] = dp
	}
	if len(parts) != info.total {
		r.dataLoss(ctx, key, info, len(parts), nil)
		return pdu.PDU{}, false, nil
	}
	m, err := r.merge(parts, info)
	if err != nil {
		r.dataLoss(ctx, key, info, len(parts), err)
		return pdu.PDU{}, false, nil
	}
	r.logger.InfoContext(ctx, "Long message reassembled",
		slog.Int("parts", info.total),
		slog.String("method", info.method),
	)
	return m, true, nil
}

func (r *Reassembler) dataLoss(ctx context.Context, key string, info part, have int, err error) {
	attrs := []any{
		slog.String("key", key),
		slog.Int("total", info.total),
		slog.Int("have", have),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	r.logger.ErrorContext(ctx, "Long message parts lost, message dropped", attrs...)
}

// merge joins the parts in segment order on a copy of part 1.
func (r *Reassembler) merge(parts map[int]pdu.PDU, info part) (pdu.PDU, error) {
	first, ok := parts[1]
	if !ok {
		return pdu.PDU{}, fmt.Errorf("reassembly: segment 1 missing")
	}
	var buf bytes.Buffer
	for seq := 1; seq <= info.total; seq++ {
		p, ok := parts[seq]
		if !ok {
			return pdu.PDU{}, fmt.Errorf("reassembly: segment %d missing", seq)
		}
		content := p.Message()
		if info.method == "udh" {
			c, body, ok := udh.SplitConcat(content)
			if !ok || c.Ref != info.ref || int(c.Seq) != seq {
				return pdu.PDU{}, fmt.Errorf("reassembly: segment %d has no matching concatenation header", seq)
			}
			content = body
		}
		buf.Write(content)
	}

	base := first.WithoutParam(
		pdu.ParamMessagePayload,
		pdu.ParamSarMsgRefNum,
		pdu.ParamSarTotalSegments,
		pdu.ParamSarSegmentSeqnum,
		pdu.ParamMoreMessagesToSend,
	)
	params := pdu.Params{}
	if info.method == "udh" {
		params[pdu.ParamEsmClass] = first.EsmClass() &^ pdu.EsmUDHI
	}
	content := buf.Bytes()
	if len(content) > maxShortMessage || len(first.BytesParam(pdu.ParamShortMessage)) == 0 {
		params[pdu.ParamShortMessage] = []byte(nil)
		params[pdu.ParamMessagePayload] = content
	} else {
		params[pdu.ParamShortMessage] = content
	}
	return base.WithParams(params), nil
}
