package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/notify"
)

type tokenAuth map[string]*auth.Principal

func (m tokenAuth) Authenticate(_ context.Context, token string) (*auth.Principal, error) {
	p, ok := m[token]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return p, nil
}

func placedEvent() order.Event {
	return order.Event{
		Kind: order.EventPlaced,
		Order: order.Order{
			ID:          "o1",
			UserID:      "u1",
			Status:      order.StatusPending,
			ClaimCode:   "ABCD2345",
			Items:       []order.Item{{BookID: "b1", Quantity: 2}, {BookID: "b2", Quantity: 3}},
			Subtotal:    decimal.RequireFromString("50.00"),
			FinalAmount: decimal.RequireFromString("47.50"),
			CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Buyer: order.Buyer{Name: "Ada", Email: "ada@example.com"},
	}
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(tokenAuth{
		"admin":  {UserID: "a1", Role: auth.RoleAdmin},
		"staff":  {UserID: "s1", Role: auth.RoleStaff},
		"member": {UserID: "m1", Role: auth.RoleMember},
	}, zaptest.NewLogger(t), nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hubs/orders?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func send(t *testing.T, conn *websocket.Conn, op string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"`+op+`"}`)))
}

func TestEncodeOrderFrame(t *testing.T) {
	data, err := encodeOrderFrame(placedEvent())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, FrameOrderPlaced, m["type"])

	o := m["order"].(map[string]any)
	assert.Equal(t, "o1", o["id"])
	assert.Equal(t, "ABCD2345", o["claimCode"])
	assert.Equal(t, "Ada", o["customerName"])
	assert.EqualValues(t, 5, o["itemCount"])
	assert.EqualValues(t, 47.5, o["finalAmount"])
	assert.Equal(t, "2025-01-02T03:04:05Z", o["createdAt"])
	assert.NotContains(t, o, "fulfilledAt")

	_, err = encodeOrderFrame(order.Event{Kind: "order.unknown"})
	require.Error(t, err)
}

func TestDecodeOp(t *testing.T) {
	op, err := decodeOp([]byte(`{"extra":[1,2],"op":"join_staff"}`))
	require.NoError(t, err)
	assert.Equal(t, OpJoinStaff, op)

	_, err = decodeOp([]byte(`{}`))
	require.Error(t, err)
	_, err = decodeOp([]byte(`not json`))
	require.Error(t, err)
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	_, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?access_token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	hub, srv := newTestHub(t)

	staff := dial(t, srv, "staff")
	send(t, staff, OpJoinStaff)
	f := readFrame(t, staff)
	assert.Equal(t, FrameJoined, f["type"])
	assert.Equal(t, notify.GroupStaff, f["group"])

	send(t, staff, OpJoinAdmins)
	f = readFrame(t, staff)
	assert.Equal(t, FrameError, f["type"])

	admin := dial(t, srv, "admin")
	send(t, admin, OpJoinAdmins)
	assert.Equal(t, FrameJoined, readFrame(t, admin)["type"])

	assert.Equal(t, 1, hub.Members(notify.GroupStaff))
	assert.Equal(t, 1, hub.Members(notify.GroupAdmins))

	require.NoError(t, hub.Broadcast(notify.GroupStaff, placedEvent()))
	f = readFrame(t, staff)
	assert.Equal(t, FrameOrderPlaced, f["type"])

	fulfilled := placedEvent()
	fulfilled.Kind = order.EventFulfilled
	now := time.Now()
	fulfilled.Order.FulfilledAt = &now
	fulfilled.Order.FulfilledBy = "s1"
	require.NoError(t, hub.Broadcast(notify.GroupAdmins, fulfilled))
	f = readFrame(t, admin)
	assert.Equal(t, FrameOrderFulfilled, f["type"])
	assert.Equal(t, "s1", f["order"].(map[string]any)["fulfilledBy"])
}

func TestHub_MemberCannotJoin(t *testing.T) {
	hub, srv := newTestHub(t)

	member := dial(t, srv, "member")
	send(t, member, OpJoinStaff)
	f := readFrame(t, member)
	assert.Equal(t, FrameError, f["type"])
	assert.Equal(t, 0, hub.Members(notify.GroupStaff))

	send(t, member, "dance")
	assert.Equal(t, FrameError, readFrame(t, member)["type"])
}

func TestHub_Leave(t *testing.T) {
	hub, srv := newTestHub(t)

	staff := dial(t, srv, "staff")
	send(t, staff, OpJoinStaff)
	readFrame(t, staff)
	send(t, staff, OpLeave)
	assert.Equal(t, FrameLeft, readFrame(t, staff)["type"])
	assert.Equal(t, 0, hub.Members(notify.GroupStaff))
}
