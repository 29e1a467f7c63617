package dlr

import (
	"fmt"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/errormapper"
)

const receiptDateLayout = "200601021504"

// Address is one end of the original submission.
type Address struct {
	Addr string
	TON  pdu.TON
	NPI  pdu.NPI
}

// Request describes the receipt to send back for a message we accepted.
// Source and Destination are those of the original submit_sm; the receipt
// travels the opposite way.
type Request struct {
	Kind        pdu.CommandID // pdu.DeliverSM or pdu.DataSM
	MessageID   string
	Source      Address
	Destination Address
	// Status is a command_status name (ESME_ROK, ESME_RSUBMITFAIL, ...) or a
	// receipt stat word (DELIVRD, UNDELIV, ...).
	Status      string
	SubmittedAt time.Time
	DoneAt      time.Time
}

// Build creates the receipt PDU. deliver_sm receipts carry the text form in
// short_message; data_sm receipts only carry the optional parameters.
func Build(req Request) (pdu.PDU, error) {
	stat, state, errCode, err := errormapper.ReceiptStatus(req.Status)
	if err != nil {
		return pdu.PDU{}, err
	}
	if req.DoneAt.IsZero() {
		req.DoneAt = time.Now()
	}

	params := pdu.Params{
		pdu.ParamSourceAddr:         req.Destination.Addr,
		pdu.ParamSourceAddrTON:      req.Destination.TON,
		pdu.ParamSourceAddrNPI:      req.Destination.NPI,
		pdu.ParamDestinationAddr:    req.Source.Addr,
		pdu.ParamDestAddrTON:        req.Source.TON,
		pdu.ParamDestAddrNPI:        req.Source.NPI,
		pdu.ParamEsmClass:           pdu.EsmModeDefault | pdu.EsmTypeDeliveryReceipt,
		pdu.ParamReceiptedMessageID: req.MessageID,
		pdu.ParamMessageState:       state,
	}

	switch req.Kind {
	case pdu.DeliverSM:
		params[pdu.ParamShortMessage] = []byte(fmt.Sprintf("id:%s submit date:%s done date:%s stat:%s err:%03d",
			req.MessageID,
			req.SubmittedAt.Format(receiptDateLayout),
			req.DoneAt.Format(receiptDateLayout),
			stat,
			errCode,
		))
	case pdu.DataSM:
	default:
		return pdu.PDU{}, fmt.Errorf("dlr: receipts are deliver_sm or data_sm, not %s", req.Kind)
	}
	return pdu.New(req.Kind, params), nil
}
