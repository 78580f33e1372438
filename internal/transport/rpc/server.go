// Package rpc serves the consumer economy operations over gRPC with a JSON
// codec, next to the health service.
package rpc

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/townworks/internal/game/economy"
	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/inventory"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/world"
	"github.com/cory-johannsen/townworks/internal/gameserver"
)

// ServiceName is the gRPC service name of the economy surface.
const ServiceName = "townworks.v1.Economy"

// Economy is the set of structure operations exposed remotely.
type Economy interface {
	Place(ctx context.Context, settlementID, definition, worldName string, anchor world.Vec3) economy.Result
	Collect(ctx context.Context, settlementID string, filter income.Filter, actor inventory.Actor) economy.Result
	RemoveInstance(ctx context.Context, id string) economy.Result
	UpgradeInstance(ctx context.Context, id string) economy.Result
	Statement(settlementID string) (settlement.Statement, bool)
}

// Clock is the economy clock read by WatchClock.
type Clock interface {
	Now() gameserver.Tick
	Subscribe(ch chan<- gameserver.Tick)
	Unsubscribe(ch chan<- gameserver.Tick)
}

// Server implements the economy service.
type Server struct {
	econ   Economy
	clock  Clock
	logger *zap.Logger

	done chan struct{}
	once sync.Once
}

// NewServer creates a Server.
//
// Precondition: econ, clock and logger must not be nil.
func NewServer(econ Economy, clock Clock, logger *zap.Logger) *Server {
	return &Server{econ: econ, clock: clock, logger: logger, done: make(chan struct{})}
}

// Register adds s to g.
func Register(g *grpc.Server, s *Server) {
	g.RegisterService(&serviceDesc, s)
}

// Close ends every open clock stream so a graceful stop can complete.
// Calling Close more than once is safe.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
}

// Place places a structure for a settlement.
func (s *Server) Place(ctx context.Context, req *PlaceRequest) (*Reply, error) {
	if req.Settlement == "" || req.Definition == "" || req.World == "" {
		return nil, status.Error(codes.InvalidArgument, "settlement, definition and world are required")
	}
	res := s.econ.Place(ctx, req.Settlement, req.Definition, req.World, world.Vec3{X: req.X, Y: req.Y, Z: req.Z})
	s.logger.Debug("place", zap.String("settlement", req.Settlement), zap.Stringer("result", res))
	return reply(res), nil
}

// Collect releases pending income. A remote caller has no inventory, so items
// that fit in no warehouse stay pending.
func (s *Server) Collect(ctx context.Context, req *CollectRequest) (*Reply, error) {
	if req.Settlement == "" {
		return nil, status.Error(codes.InvalidArgument, "settlement is required")
	}
	filter := income.All()
	if len(req.Instances) > 0 {
		filter = income.Instances(req.Instances...)
	}
	res := s.econ.Collect(ctx, req.Settlement, filter, nil)
	s.logger.Debug("collect", zap.String("settlement", req.Settlement), zap.Stringer("result", res))
	return reply(res), nil
}

// Remove deletes a placed structure.
func (s *Server) Remove(ctx context.Context, req *InstanceRequest) (*Reply, error) {
	if req.Instance == "" {
		return nil, status.Error(codes.InvalidArgument, "instance is required")
	}
	res := s.econ.RemoveInstance(ctx, req.Instance)
	s.logger.Debug("remove", zap.String("instance", req.Instance), zap.Stringer("result", res))
	return reply(res), nil
}

// Upgrade replaces a placed structure with its upgrade target.
func (s *Server) Upgrade(ctx context.Context, req *InstanceRequest) (*Reply, error) {
	if req.Instance == "" {
		return nil, status.Error(codes.InvalidArgument, "instance is required")
	}
	res := s.econ.UpgradeInstance(ctx, req.Instance)
	s.logger.Debug("upgrade", zap.String("instance", req.Instance), zap.Stringer("result", res))
	return reply(res), nil
}

// Treasury returns a settlement's balance and transaction history.
func (s *Server) Treasury(_ context.Context, req *TreasuryRequest) (*TreasuryReply, error) {
	st, ok := s.econ.Statement(req.Settlement)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no readable account for settlement %q", req.Settlement)
	}
	hist := st.History()
	out := &TreasuryReply{Balance: st.Balance(), Transactions: make([]Transaction, 0, len(hist))}
	for _, tx := range hist {
		out.Transactions = append(out.Transactions, Transaction{Amount: tx.Amount, Memo: tx.Memo, Balance: tx.Balance, At: tx.At})
	}
	return out, nil
}

// WatchClock sends the current clock reading, then every following tick until
// the client leaves or the server closes.
func (s *Server) WatchClock(req *WatchClockRequest, stream grpc.ServerStream) error {
	ch := make(chan gameserver.Tick, 8)
	s.clock.Subscribe(ch)
	defer s.clock.Unsubscribe(ch)

	if err := stream.SendMsg(tickReply(s.clock.Now())); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		case t := <-ch:
			if req.RolloversOnly && !t.Rollover {
				continue
			}
			if err := stream.SendMsg(tickReply(t)); err != nil {
				return err
			}
		}
	}
}

// economyServer is the handler type checked by grpc.Server.RegisterService.
type economyServer interface {
	Place(context.Context, *PlaceRequest) (*Reply, error)
	Collect(context.Context, *CollectRequest) (*Reply, error)
	Remove(context.Context, *InstanceRequest) (*Reply, error)
	Upgrade(context.Context, *InstanceRequest) (*Reply, error)
	Treasury(context.Context, *TreasuryRequest) (*TreasuryReply, error)
	WatchClock(*WatchClockRequest, grpc.ServerStream) error
}

func unary[Req, Resp any](method string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

func watchClockHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchClockRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).WatchClock(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*economyServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Place", (*Server).Place),
		unary("Collect", (*Server).Collect),
		unary("Remove", (*Server).Remove),
		unary("Upgrade", (*Server).Upgrade),
		unary("Treasury", (*Server).Treasury),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchClock", Handler: watchClockHandler, ServerStreams: true},
	},
	Metadata: "townworks/economy",
}
