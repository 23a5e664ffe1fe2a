package realtime

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bookshop/internal/domain/order"
)

// Outbound frame types.
const (
	FrameOrderPlaced    = "order_placed"
	FrameOrderFulfilled = "order_fulfilled"
	FrameJoined         = "joined"
	FrameLeft           = "left"
	FrameError          = "error"
)

// Client operations.
const (
	OpJoinAdmins = "join_admins"
	OpJoinStaff  = "join_staff"
	OpLeave      = "leave"
)

func frameType(k order.EventKind) (string, bool) {
	switch k {
	case order.EventPlaced:
		return FrameOrderPlaced, true
	case order.EventFulfilled:
		return FrameOrderFulfilled, true
	}
	return "", false
}

// encodeOrderFrame renders {"type":...,"order":{...}}.
func encodeOrderFrame(e order.Event) ([]byte, error) {
	typ, ok := frameType(e.Kind)
	if !ok {
		return nil, errors.Errorf("no frame for event %q", e.Kind)
	}
	o := e.Order

	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(typ)
	w.FieldStart("order")
	w.ObjStart()
	w.FieldStart("id")
	w.Str(o.ID)
	w.FieldStart("userId")
	w.Str(o.UserID)
	w.FieldStart("customerName")
	w.Str(e.Buyer.Name)
	w.FieldStart("customerEmail")
	w.Str(e.Buyer.Email)
	w.FieldStart("status")
	w.Str(string(o.Status))
	w.FieldStart("claimCode")
	w.Str(o.ClaimCode)
	w.FieldStart("itemCount")
	w.Int(itemCount(o.Items))
	w.FieldStart("subtotal")
	w.Float64(o.Subtotal.InexactFloat64())
	w.FieldStart("discountAmount")
	w.Float64(o.DiscountAmount.InexactFloat64())
	w.FieldStart("finalAmount")
	w.Float64(o.FinalAmount.InexactFloat64())
	w.FieldStart("createdAt")
	w.Str(o.CreatedAt.Format(time.RFC3339))
	if o.FulfilledAt != nil {
		w.FieldStart("fulfilledAt")
		w.Str(o.FulfilledAt.Format(time.RFC3339))
		w.FieldStart("fulfilledBy")
		w.Str(o.FulfilledBy)
	}
	w.ObjEnd()
	w.ObjEnd()
	return w.Bytes(), nil
}

func itemCount(items []order.Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// encodeReply renders a control frame such as {"type":"joined","group":"staff"}.
func encodeReply(typ, key, value string) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(typ)
	w.FieldStart(key)
	w.Str(value)
	w.ObjEnd()
	return w.Bytes()
}

// decodeOp reads {"op":"..."} and ignores other fields.
func decodeOp(data []byte) (string, error) {
	var op string
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "op" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		op = v
		return nil
	}); err != nil {
		return "", errors.Wrap(err, "decode op")
	}
	if op == "" {
		return "", errors.New("missing op")
	}
	return op, nil
}
