package grpc_control

import (
	"context"
	"errors"
	"fmt"
	"net"

	"market-relay/src/analysis"
	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// IClientCounter reports connected WebSocket clients.
type IClientCounter interface {
	ClientCount() int
}

// ControlService implements ControlServer over the running relay.
type ControlService struct {
	Config  *models.MConfig
	Ledger  interfaces.ITradingLedger
	Market  interfaces.IMarketView
	Feed    interfaces.IFeedSource
	Clients IClientCounter
	Logger  *logger.Logger
}

var _ ControlServer = (*ControlService)(nil)

// NewControlService creates a new instance of ControlService. feed and clients
// may be nil.
func NewControlService(
	cfg *models.MConfig,
	ledger interfaces.ITradingLedger,
	market interfaces.IMarketView,
	feed interfaces.IFeedSource,
	clients IClientCounter,
	log *logger.Logger,
) *ControlService {
	return &ControlService{
		Config:  cfg,
		Ledger:  ledger,
		Market:  market,
		Feed:    feed,
		Clients: clients,
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.Ledger.Stats()
	snap := s.Market.Snapshot()

	feedState, reconnects := "disabled", int64(0)
	if s.Feed != nil {
		feedState, reconnects = s.Feed.State(), s.Feed.ReconnectCount()
	}
	clients := 0
	if s.Clients != nil {
		clients = s.Clients.ClientCount()
	}

	var lastPrice interface{}
	if price, ok := s.Market.CurrentPrice(); ok {
		lastPrice = price
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"symbol":        s.Config.Feed.Symbol,
		"feedState":     feedState,
		"reconnects":    float64(reconnects),
		"clients":       float64(clients),
		"lastUpdate":    float64(snap.LastUpdate),
		"lastPrice":     lastPrice,
		"users":         float64(stats.Users),
		"openPositions": float64(stats.OpenPositions),
		"pendingOrders": float64(stats.PendingOrders),
		"closedTrades":  float64(stats.ClosedTrades),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetAccount(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}

	user, err := s.Ledger.LookupUser(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	positions, err := s.Ledger.GetOpenPositions(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	orders, err := s.Ledger.GetPendingOrders(userID)
	if err != nil {
		return nil, toStatus(err)
	}

	account := map[string]interface{}{
		"userId":    user.ID,
		"balance":   user.Balance,
		"positions": positions,
		"orders":    orders,
		"totalPnL":  user.TotalPnL,
		"createdAt": user.CreatedAt,
		"stats":     analysis.ComputeAccountStats(user.Trades),
	}

	out, err := toStruct(account)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode account: %v", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) ReconnectFeed(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	if s.Feed == nil {
		return nil, status.Error(codes.FailedPrecondition, "no feed configured")
	}
	s.Logger.Info("gRPC: forced feed reconnect")
	s.Feed.ForceReconnect()
	return &emptypb.Empty{}, nil
}

// -----------------------------------------------------------------------------
// Server lifecycle
// -----------------------------------------------------------------------------

// Serve registers svc on a new gRPC server and serves lis in the background.
func Serve(lis net.Listener, svc ControlServer, log *logger.Logger) *grpc.Server {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(recoverInterceptor(log)))
	RegisterControlServer(grpcServer, svc)

	go func() {
		log.Info("Starting gRPC Control Server on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed: %v", err)
		}
	}()
	return grpcServer
}

// Listen opens the configured control address. Port 0 picks a free port.
func Listen(cfg *models.MConfig) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GrpcHost, cfg.GrpcPort))
}

func recoverInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	errs := helpers.NewErrorHandler(log)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		guardErr := errs.Guard(info.FullMethod, func() error {
			resp, err = handler(ctx, req)
			return nil
		})
		if guardErr != nil {
			return nil, toStatus(guardErr)
		}
		return resp, err
	}
}

// -----------------------------------------------------------------------------

// toStatus maps the relay error taxonomy onto gRPC codes.
func toStatus(err error) error {
	var (
		notFound     *helpers.NotFoundError
		validation   *helpers.ValidationError
		invalidState *helpers.InvalidStateError
		insufficient *helpers.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &validation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &invalidState), errors.As(err, &insufficient):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct goes through JSON so decimals and nested records keep their wire
// shape.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
