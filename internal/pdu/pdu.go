package pdu

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params holds PDU parameters by name. Mandatory fields and optional
// parameters share one namespace.
type Params map[string]any

// PDU is an immutable SMPP protocol data unit. The With* methods return
// modified copies; the receiver is never changed, so one PDU can safely be
// shared between goroutines, retries and long-message parts.
type PDU struct {
	id     CommandID
	status CommandStatus
	seq    uint32
	params Params
}

// New builds a PDU of type id. Mandatory parameters missing from params are
// set to their null value (empty string, zero, null time).
func New(id CommandID, params Params) PDU {
	p := PDU{id: id, params: make(Params, len(params))}
	if s, ok := schemas[id]; ok {
		for _, f := range s.mandatory {
			p.params[f.name] = f.codec.null()
		}
	}
	maps.Copy(p.params, params)
	return p
}

// GenericNackFor builds a generic_nack carrying status for seq.
func GenericNackFor(seq uint32, status CommandStatus) PDU {
	return PDU{id: GenericNack, status: status, seq: seq, params: Params{}}
}

func (p PDU) CommandID() CommandID  { return p.id }
func (p PDU) Status() CommandStatus { return p.status }
func (p PDU) Seq() uint32           { return p.seq }

// IsZero reports whether p is the zero PDU.
func (p PDU) IsZero() bool { return p.id == 0 && p.params == nil }

func (p PDU) clone() PDU {
	c := p
	c.params = maps.Clone(p.params)
	if c.params == nil {
		c.params = Params{}
	}
	return c
}

// WithSeq returns a copy of p with the given sequence number.
func (p PDU) WithSeq(seq uint32) PDU {
	c := p.clone()
	c.seq = seq
	return c
}

// WithStatus returns a copy of p with the given command status.
func (p PDU) WithStatus(status CommandStatus) PDU {
	c := p.clone()
	c.status = status
	return c
}

// WithParam returns a copy of p with name set to v.
func (p PDU) WithParam(name string, v any) PDU {
	c := p.clone()
	c.params[name] = v
	return c
}

// WithParams returns a copy of p with every entry of params set.
func (p PDU) WithParams(params Params) PDU {
	c := p.clone()
	maps.Copy(c.params, params)
	return c
}

// WithoutParam returns a copy of p without name. Removing a mandatory
// parameter makes the PDU unencodable.
func (p PDU) WithoutParam(names ...string) PDU {
	c := p.clone()
	for _, n := range names {
		delete(c.params, n)
	}
	return c
}

// Param returns the raw value of name.
func (p PDU) Param(name string) (any, bool) {
	v, ok := p.params[name]
	return v, ok
}

// Has reports whether name is set.
func (p PDU) Has(name string) bool {
	_, ok := p.params[name]
	return ok
}

// Params returns a copy of all parameters.
func (p PDU) Params() Params { return maps.Clone(p.params) }

// ParamNames returns the names of all set parameters, sorted.
func (p PDU) ParamNames() []string { return slices.Sorted(maps.Keys(p.params)) }

// Get returns the value of name when it is set and has type T.
func Get[T any](p PDU, name string) (T, bool) {
	v, ok := p.params[name].(T)
	return v, ok
}

// StringParam returns a string parameter, or "" when absent.
func (p PDU) StringParam(name string) string {
	s, _ := p.params[name].(string)
	return s
}

// IntParam returns an integer parameter, or 0 when absent.
func (p PDU) IntParam(name string) int {
	n, _ := toInt(p.params[name])
	return n
}

// BytesParam returns an octet-string parameter, or nil when absent.
func (p PDU) BytesParam(name string) []byte {
	switch b := p.params[name].(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}

func (p PDU) EsmClass() EsmClass {
	e, _ := p.params[ParamEsmClass].(EsmClass)
	return e
}

func (p PDU) DataCoding() DataCoding {
	d, _ := p.params[ParamDataCoding].(DataCoding)
	return d
}

func (p PDU) RegisteredDelivery() RegisteredDelivery {
	r, _ := p.params[ParamRegisteredDelivery].(RegisteredDelivery)
	return r
}

// Message returns short_message, or message_payload when short_message is
// empty.
func (p PDU) Message() []byte {
	if sm := p.BytesParam(ParamShortMessage); len(sm) > 0 {
		return sm
	}
	return p.BytesParam(ParamMessagePayload)
}

// Ack builds the response to request p with the same sequence number.
func (p PDU) Ack(status CommandStatus, params Params) (PDU, error) {
	resp, ok := p.id.Response()
	if !ok {
		return PDU{}, fmt.Errorf("smpp: %s does not take a response", p.id)
	}
	r := New(resp, params)
	r.status = status
	r.seq = p.seq
	return r, nil
}

func (p PDU) String() string {
	return fmt.Sprintf("%s(seq=%d, status=%s)", p.id, p.seq, p.status)
}

func (p PDU) GoString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{seq=%d status=%s", p.id, p.seq, p.status)
	for _, k := range p.ParamNames() {
		fmt.Fprintf(&b, " %s=%v", k, p.params[k])
	}
	b.WriteString("}")
	return b.String()
}
