package rpc_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/townworks/internal/game/economy"
	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/inventory"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/world"
	"github.com/cory-johannsen/townworks/internal/gameserver"
	"github.com/cory-johannsen/townworks/internal/transport/rpc"
)

type fakeEconomy struct {
	mu       sync.Mutex
	calls    []string
	anchor   world.Vec3
	filter   income.Filter
	treasury *settlement.Treasury
}

func (f *fakeEconomy) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEconomy) Place(_ context.Context, settlementID, definition, worldName string, anchor world.Vec3) economy.Result {
	f.record("place " + settlementID + " " + definition + " " + worldName)
	f.mu.Lock()
	f.anchor = anchor
	f.mu.Unlock()
	return economy.Result{OK: true, Reason: "placed " + definition}
}

func (f *fakeEconomy) Collect(_ context.Context, settlementID string, filter income.Filter, actor inventory.Actor) economy.Result {
	f.record("collect " + settlementID)
	f.mu.Lock()
	f.filter = filter
	f.mu.Unlock()
	return economy.Result{Reason: "nothing to collect"}
}

func (f *fakeEconomy) RemoveInstance(_ context.Context, id string) economy.Result {
	f.record("remove " + id)
	return economy.Result{OK: true, Reason: "removed"}
}

func (f *fakeEconomy) UpgradeInstance(_ context.Context, id string) economy.Result {
	f.record("upgrade " + id)
	return economy.Result{Reason: "hut cannot be upgraded"}
}

func (f *fakeEconomy) Statement(settlementID string) (settlement.Statement, bool) {
	if settlementID != "s1" {
		return nil, false
	}
	return f.treasury, true
}

func (f *fakeEconomy) seen() ([]string, world.Vec3, income.Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.anchor, f.filter
}

type harness struct {
	econ  *fakeEconomy
	clock *gameserver.EconomyClock
	srv   *rpc.Server
	conn  *grpc.ClientConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		econ:  &fakeEconomy{treasury: settlement.NewTreasury(50)},
		clock: gameserver.NewEconomyClock(3, 22, 23, time.Hour),
	}
	h.srv = rpc.NewServer(h.econ, h.clock, zaptest.NewLogger(t))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := grpc.NewServer()
	rpc.Register(g, h.srv)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(func() {
		h.srv.Close()
		g.GracefulStop()
	})

	h.conn, err = grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { h.conn.Close() })
	return h
}

func (h *harness) invoke(t *testing.T, method string, in, out any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.conn.Invoke(ctx, "/"+rpc.ServiceName+"/"+method, in, out)
}

func (h *harness) watch(t *testing.T, ctx context.Context, req *rpc.WatchClockRequest) grpc.ClientStream {
	t.Helper()
	stream, err := h.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/"+rpc.ServiceName+"/WatchClock")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(req))
	require.NoError(t, stream.CloseSend())
	return stream
}

func recvTick(t *testing.T, stream grpc.ClientStream) rpc.TickReply {
	t.Helper()
	var tick rpc.TickReply
	require.NoError(t, stream.RecvMsg(&tick))
	return tick
}

func TestServer_PlaceForwardsRequest(t *testing.T) {
	h := newHarness(t)
	var out rpc.Reply
	require.NoError(t, h.invoke(t, "Place", &rpc.PlaceRequest{
		Settlement: "s1", Definition: "hut", World: "overworld", X: 4, Y: -2, Z: 9,
	}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "placed hut", out.Reason)
	calls, anchor, _ := h.econ.seen()
	assert.Equal(t, []string{"place s1 hut overworld"}, calls)
	assert.Equal(t, world.Vec3{X: 4, Y: -2, Z: 9}, anchor)
}

func TestServer_RejectsMissingFields(t *testing.T) {
	h := newHarness(t)
	cases := map[string]any{
		"Place":   &rpc.PlaceRequest{Settlement: "s1"},
		"Collect": &rpc.CollectRequest{},
		"Remove":  &rpc.InstanceRequest{},
		"Upgrade": &rpc.InstanceRequest{},
	}
	for method, in := range cases {
		err := h.invoke(t, method, in, &rpc.Reply{})
		assert.Equal(t, codes.InvalidArgument, status.Code(err), method)
	}
	calls, _, _ := h.econ.seen()
	assert.Empty(t, calls)
}

func TestServer_CollectFiltersInstances(t *testing.T) {
	h := newHarness(t)
	var out rpc.Reply
	require.NoError(t, h.invoke(t, "Collect", &rpc.CollectRequest{Settlement: "s1", Instances: []string{"a"}}, &out))
	assert.False(t, out.OK)
	assert.Equal(t, "nothing to collect", out.Reason)
	_, _, filter := h.econ.seen()
	assert.True(t, filter(structure.Instance{ID: "a"}))
	assert.False(t, filter(structure.Instance{ID: "b"}))

	require.NoError(t, h.invoke(t, "Collect", &rpc.CollectRequest{Settlement: "s1"}, &out))
	_, _, filter = h.econ.seen()
	assert.True(t, filter(structure.Instance{ID: "b"}), "no ids collects everything")
}

func TestServer_RemoveAndUpgrade(t *testing.T) {
	h := newHarness(t)
	var out rpc.Reply
	require.NoError(t, h.invoke(t, "Remove", &rpc.InstanceRequest{Instance: "i1"}, &out))
	assert.True(t, out.OK)
	require.NoError(t, h.invoke(t, "Upgrade", &rpc.InstanceRequest{Instance: "i2"}, &out))
	assert.False(t, out.OK)
	assert.Equal(t, "hut cannot be upgraded", out.Reason)
	calls, _, _ := h.econ.seen()
	assert.Equal(t, []string{"remove i1", "upgrade i2"}, calls)
}

func TestServer_Treasury(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.econ.treasury.Withdraw(20, "placement: hut"))

	var out rpc.TreasuryReply
	require.NoError(t, h.invoke(t, "Treasury", &rpc.TreasuryRequest{Settlement: "s1"}, &out))
	assert.Equal(t, 30, out.Balance)
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, -20, out.Transactions[0].Amount)
	assert.Equal(t, "placement: hut", out.Transactions[0].Memo)

	err := h.invoke(t, "Treasury", &rpc.TreasuryRequest{Settlement: "s9"}, &out)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_WatchClockStreamsTicks(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	all := h.watch(t, ctx, &rpc.WatchClockRequest{})
	assert.Equal(t, rpc.TickReply{Day: 3, Hour: "22:00"}, recvTick(t, all))
	rollovers := h.watch(t, ctx, &rpc.WatchClockRequest{RolloversOnly: true})
	assert.Equal(t, rpc.TickReply{Day: 3, Hour: "22:00"}, recvTick(t, rollovers))

	h.clock.Advance()
	h.clock.Advance()
	assert.Equal(t, rpc.TickReply{Day: 4, Hour: "23:00", Rollover: true}, recvTick(t, all))
	assert.Equal(t, rpc.TickReply{Day: 4, Hour: "00:00"}, recvTick(t, all))
	assert.Equal(t, rpc.TickReply{Day: 4, Hour: "23:00", Rollover: true}, recvTick(t, rollovers))
}

func TestServer_CloseEndsClockStreams(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := h.watch(t, ctx, &rpc.WatchClockRequest{})
	recvTick(t, stream)
	h.srv.Close()

	var tick rpc.TickReply
	err := stream.RecvMsg(&tick)
	assert.True(t, errors.Is(err, io.EOF), "stream ends cleanly, got %v", err)
}
