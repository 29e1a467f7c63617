package reassembly

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/thrillee/aegis-smpp/internal/longmsg"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
)

func deliver(payload []byte, coding pdu.DataCoding) pdu.PDU {
	return pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamSourceAddr:      "2348012345678",
		pdu.ParamDestinationAddr: "33333",
		pdu.ParamDataCoding:      coding,
		pdu.ParamMessagePayload:  payload,
	})
}

func longPayload(parts int, coding pdu.DataCoding) []byte {
	c := segmenter.CapacityFor(coding)
	b := make([]byte, c.Part*(parts-1)+7)
	for i := range b {
		b[i] = byte('A' + i%26)
	}
	return b
}

func split(t *testing.T, method longmsg.Method, parts int, ref uint16) ([]pdu.PDU, []byte) {
	t.Helper()
	payload := longPayload(parts, pdu.CodingDefault)
	out, err := longmsg.Split(deliver(payload, pdu.CodingDefault), payload, pdu.CodingDefault, method, ref, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := range out {
		out[i] = out[i].WithSeq(uint32(i + 1))
	}
	return out, payload
}

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Store{
		"redis":  NewRedisStore(client, 0),
		"memory": NewMemoryStore(0),
	}
}

func TestReassembleAnyOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, method := range []longmsg.Method{longmsg.MethodSAR, longmsg.MethodUDH} {
				for round := 0; round < 5; round++ {
					ref := uint16(10 + round)
					parts, payload := split(t, method, 4, ref)
					rand.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })

					r := New(store, "carrier-a", nil)
					var merged pdu.PDU
					completions := 0
					for i, p := range parts {
						m, complete, err := r.Accept(context.Background(), p)
						if err != nil {
							t.Fatalf("%s part %d: %v", method, i, err)
						}
						if complete {
							if i != len(parts)-1 {
								t.Fatalf("%s: completed after %d of %d parts", method, i+1, len(parts))
							}
							completions++
							merged = m
						}
					}
					if completions != 1 {
						t.Fatalf("%s: %d completions, want 1", method, completions)
					}
					if !bytes.Equal(merged.Message(), payload) {
						t.Errorf("%s: merged content differs from what was split", method)
					}
					if merged.Has(pdu.ParamSarMsgRefNum) || merged.EsmClass().UDHI() {
						t.Errorf("%s: segmentation data left on merged message", method)
					}
					if merged.StringParam(pdu.ParamSourceAddr) != "2348012345678" {
						t.Errorf("%s: source lost", method)
					}
					if _, err := pdu.Encode(merged.WithSeq(1)); err != nil {
						t.Errorf("%s: merged message does not encode: %v", method, err)
					}
				}
			}
		})
	}
}

func TestIncompleteNeverEmits(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := New(store, "carrier-b", nil)
			parts, _ := split(t, longmsg.MethodSAR, 3, 500)
			for _, p := range parts[:2] {
				if _, complete, err := r.Accept(context.Background(), p); err != nil || complete {
					t.Fatalf("complete = %v, err = %v", complete, err)
				}
			}
			// The same part again does not count twice.
			if _, complete, err := r.Accept(context.Background(), parts[1]); err != nil || complete {
				t.Fatalf("duplicate: complete = %v, err = %v", complete, err)
			}
		})
	}
}

func TestScopesAndAddressesSeparateBuffers(t *testing.T) {
	store := NewMemoryStore(0)
	a := New(store, "carrier-a", nil)
	b := New(store, "carrier-b", nil)
	parts, _ := split(t, longmsg.MethodUDH, 2, 42)

	if _, complete, _ := a.Accept(context.Background(), parts[0]); complete {
		t.Fatal("complete after one part")
	}
	if _, complete, _ := b.Accept(context.Background(), parts[1]); complete {
		t.Fatal("parts from different connectors were joined")
	}
	other := parts[1].WithParam(pdu.ParamDestinationAddr, "44444")
	if _, complete, _ := a.Accept(context.Background(), other); complete {
		t.Fatal("parts for different recipients were joined")
	}
	if _, complete, _ := a.Accept(context.Background(), parts[1]); !complete {
		t.Fatal("matching parts were not joined")
	}
}

func TestRedisBufferExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	r := New(NewRedisStore(client, time.Minute), "carrier-c", nil)

	parts, _ := split(t, longmsg.MethodSAR, 2, 7)
	if _, _, err := r.Accept(context.Background(), parts[0]); err != nil {
		t.Fatal(err)
	}
	if keys := mr.Keys(); len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
	mr.FastForward(2 * time.Minute)
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("buffer not expired: %v", keys)
	}
	if _, complete, _ := r.Accept(context.Background(), parts[1]); complete {
		t.Fatal("expired parts were used")
	}
}

func TestMemoryBufferExpires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	r := New(store, "carrier-d", nil)

	parts, _ := split(t, longmsg.MethodUDH, 2, 8)
	r.Accept(context.Background(), parts[0])
	now = now.Add(2 * time.Minute)
	if _, complete, _ := r.Accept(context.Background(), parts[1]); complete {
		t.Fatal("expired parts were used")
	}
}

func TestShortMessagePassesThrough(t *testing.T) {
	r := New(NewMemoryStore(0), "x", nil)
	p := pdu.New(pdu.DeliverSM, pdu.Params{pdu.ParamShortMessage: []byte("hi")})
	m, complete, err := r.Accept(context.Background(), p)
	if err != nil || !complete || string(m.Message()) != "hi" {
		t.Fatalf("got %v, %v, %v", m, complete, err)
	}
}

func TestSinglePartGroup(t *testing.T) {
	r := New(NewMemoryStore(0), "x", nil)
	p := pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamShortMessage:     []byte("only"),
		pdu.ParamSarMsgRefNum:     3,
		pdu.ParamSarTotalSegments: 1,
		pdu.ParamSarSegmentSeqnum: 1,
	})
	m, complete, err := r.Accept(context.Background(), p)
	if err != nil || !complete {
		t.Fatalf("complete = %v, err = %v", complete, err)
	}
	if string(m.Message()) != "only" || m.Has(pdu.ParamSarMsgRefNum) {
		t.Errorf("merged = %v", m)
	}
}

func TestBadSegmentNumber(t *testing.T) {
	r := New(NewMemoryStore(0), "x", nil)
	p := pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamShortMessage:     []byte("x"),
		pdu.ParamSarMsgRefNum:     3,
		pdu.ParamSarTotalSegments: 2,
		pdu.ParamSarSegmentSeqnum: 3,
	})
	_, _, err := r.Accept(context.Background(), p)
	var partErr *PartError
	if !errors.As(err, &partErr) {
		t.Fatalf("err = %v, want PartError", err)
	}
}
