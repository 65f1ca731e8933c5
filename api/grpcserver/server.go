// Package grpcserver exposes the order service over gRPC with a JSON codec.
package grpcserver

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/domain/errs"
	"spotex/domain/ledger"
	"spotex/domain/order"
	"spotex/service"
	"spotex/snapshot"
)

// OrderService is the part of service.OrderService the server adapts.
type OrderService interface {
	Place(ctx context.Context, req service.PlaceRequest) (service.Result, error)
	Update(ctx context.Context, req service.UpdateRequest) (service.Result, error)
	Cancel(ctx context.Context, userID, orderID uint64) (service.Result, error)
	Revert(ctx context.Context, orderID uint64) (service.Result, error)
	OTCBulkUpdate(ctx context.Context, pair string) (service.Result, error)
	Deposit(ctx context.Context, userID uint64, currency string, amount decimal.Decimal) (ledger.Balance, error)
	Balance(userID uint64, currency string) ledger.Balance
	Book(pair string) (*service.BookView, error)
}

// Server adapts OrderService to gRPC.
type Server struct {
	svc OrderService
	log *zap.Logger
}

func NewServer(svc OrderService, log *zap.Logger) *Server {
	return &Server{svc: svc, log: log.Named("grpc")}
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderReply, error) {
	side, ok := order.ParseSide(req.Side)
	if !ok {
		return nil, toStatus(errs.New(errs.CodeUnknownOrderKind, "unknown side %q", req.Side))
	}
	kind, ok := order.ParseKind(req.Kind)
	if !ok {
		return nil, toStatus(errs.New(errs.CodeUnknownOrderKind, "unknown kind %q", req.Kind))
	}

	res, err := s.svc.Place(ctx, service.PlaceRequest{
		Pair:       req.Pair,
		UserID:     req.UserID,
		ClientID:   req.ClientID,
		Side:       side,
		Kind:       kind,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Stop:       req.Stop,
		Cost:       req.Cost,
		OTCPercent: req.OTCPercent,
		OTCLimit:   req.OTCLimit,
	})
	return s.reply("place", res, err)
}

func (s *Server) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderReply, error) {
	res, err := s.svc.Update(ctx, service.UpdateRequest{
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Stop:       req.Stop,
		OTCPercent: req.OTCPercent,
		OTCLimit:   req.OTCLimit,
	})
	return s.reply("update", res, err)
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderReply, error) {
	res, err := s.svc.Cancel(ctx, req.UserID, req.OrderID)
	return s.reply("cancel", res, err)
}

func (s *Server) RevertOrder(ctx context.Context, req *RevertOrderRequest) (*OrderReply, error) {
	res, err := s.svc.Revert(ctx, req.OrderID)
	return s.reply("revert", res, err)
}

func (s *Server) OTCBulkUpdate(ctx context.Context, req *OTCBulkUpdateRequest) (*OrderReply, error) {
	res, err := s.svc.OTCBulkUpdate(ctx, req.Pair)
	return s.reply("otc_update", res, err)
}

func (s *Server) Deposit(ctx context.Context, req *DepositRequest) (*BalanceReply, error) {
	b, err := s.svc.Deposit(ctx, req.UserID, req.Currency, req.Amount)
	if err != nil {
		s.logFailure("deposit", err)
		return nil, toStatus(err)
	}
	return balanceReply(b), nil
}

// -------------------- Queries --------------------

func (s *Server) GetBook(_ context.Context, req *GetBookRequest) (*GetBookReply, error) {
	v, err := s.svc.Book(req.Pair)
	if err != nil {
		return nil, toStatus(err)
	}
	snap := snapshot.Build(v, v.Touched)
	out := &GetBookReply{Book: snapshot.ForUser(snap, req.UserID)}
	if req.Precision.IsPositive() {
		g := snapshot.ForUserPrecision(snapshot.Precisions(snap, []decimal.Decimal{req.Precision})[0], req.UserID)
		out.Grouped = &g
	}
	return out, nil
}

func (s *Server) GetBalance(_ context.Context, req *BalanceRequest) (*BalanceReply, error) {
	return balanceReply(s.svc.Balance(req.UserID, req.Currency)), nil
}

// -------------------- Helpers --------------------

func (s *Server) reply(op string, res service.Result, err error) (*OrderReply, error) {
	if err != nil {
		s.logFailure(op, err)
		return nil, toStatus(err)
	}
	return &OrderReply{Order: res.Order, Executions: res.Executions, Repriced: res.Repriced}, nil
}

func (s *Server) logFailure(op string, err error) {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		s.log.Error("command failed", zap.String("op", op), zap.Error(err))
		return
	}
	s.log.Info("command rejected", zap.String("op", op), zap.String("code", string(code)))
}

func balanceReply(b ledger.Balance) *BalanceReply {
	return &BalanceReply{UserID: b.UserID, Currency: b.Currency, Available: b.Available, OnHold: b.OnHold}
}
