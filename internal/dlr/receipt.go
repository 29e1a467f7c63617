// Package dlr recognises delivery receipts, builds them, and remembers which
// carrier message id belongs to which caller message.
package dlr

import (
	"fmt"
	"regexp"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/errormapper"
)

// NotDefined fills receipt fields that the carrier left out.
const NotDefined = "ND"

// Receipt is a parsed delivery receipt. Fields missing from the carrier's
// text are NotDefined, except Text which is empty.
type Receipt struct {
	ID         string
	Sub        string
	Dlvrd      string
	SubmitDate string
	DoneDate   string
	Stat       string
	Err        string
	Text       string
}

// State maps Stat back to a message_state value.
func (r *Receipt) State() pdu.MessageState {
	return errormapper.StateForStat(r.Stat)
}

// Final reports whether the receipt ends the message's life. ENROUTE and
// ACCEPTD are intermediate.
func (r *Receipt) Final() bool {
	switch r.Stat {
	case errormapper.StatusCodeAccepted, "ENROUTE":
		return false
	}
	return true
}

func (r *Receipt) String() string {
	return fmt.Sprintf("id:%s sub:%s dlvrd:%s submit date:%s done date:%s stat:%s err:%s text:%s",
		r.ID, r.Sub, r.Dlvrd, r.SubmitDate, r.DoneDate, r.Stat, r.Err, r.Text)
}

// Every token is searched independently so fields may appear in any order.
var (
	reID    = regexp.MustCompile(`id:([\dA-Za-z\-_]+)`)
	reSub   = regexp.MustCompile(`sub:(\d{3})`)
	reDlvrd = regexp.MustCompile(`dlvrd:(\d{3})`)
	reSDate = regexp.MustCompile(`submit date:(\d+)`)
	reDDate = regexp.MustCompile(`done date:(\d+)`)
	reStat  = regexp.MustCompile(`stat:(\w{7})`)
	reErr   = regexp.MustCompile(`err:(\w{3})`)
	reText  = regexp.MustCompile(`text:(.*)`)
)

func newReceipt() *Receipt {
	return &Receipt{Sub: NotDefined, Dlvrd: NotDefined, SubmitDate: NotDefined, DoneDate: NotDefined, Err: NotDefined}
}

// Parse scans a receipt body. It returns nil when neither an id nor a stat
// token is present, which is how ordinary mobile originated content is told
// apart from receipts.
func Parse(body []byte) *Receipt {
	r := newReceipt()
	scan(r, body)
	if r.ID == "" && r.Stat == "" {
		return nil
	}
	return r
}

// scan fills r from body. ID and Stat are only set when still empty.
func scan(r *Receipt, body []byte) {
	find := func(re *regexp.Regexp) (string, bool) {
		m := re.FindSubmatch(body)
		if m == nil {
			return "", false
		}
		return string(m[1]), true
	}
	if v, ok := find(reID); ok && r.ID == "" {
		r.ID = v
	}
	if v, ok := find(reSub); ok {
		r.Sub = v
	}
	if v, ok := find(reDlvrd); ok {
		r.Dlvrd = v
	}
	if v, ok := find(reSDate); ok {
		r.SubmitDate = v
	}
	if v, ok := find(reDDate); ok {
		r.DoneDate = v
	}
	if v, ok := find(reStat); ok && r.Stat == "" {
		r.Stat = v
	}
	if v, ok := find(reErr); ok {
		r.Err = v
	}
	if v, ok := find(reText); ok {
		r.Text = v
	}
}

// FromPDU extracts a receipt from a deliver_sm or data_sm. The
// receipted_message_id and message_state parameters, when both present,
// win over the id and stat tokens of the body. Both id and stat must be
// known for p to count as a receipt.
func FromPDU(p pdu.PDU) *Receipt {
	switch p.CommandID() {
	case pdu.DeliverSM, pdu.DataSM:
	default:
		return nil
	}

	r := newReceipt()
	id, hasID := pdu.Get[string](p, pdu.ParamReceiptedMessageID)
	state, hasState := pdu.Get[pdu.MessageState](p, pdu.ParamMessageState)
	if hasID && hasState {
		r.ID = id
		r.Stat = errormapper.StatForState(state)
	}
	if body := p.Message(); len(body) > 0 {
		scan(r, body)
	}
	if r.ID == "" || r.Stat == "" {
		return nil
	}
	return r
}
