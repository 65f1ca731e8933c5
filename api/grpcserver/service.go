package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "spotex.v1.Exchange"

// ExchangeServer is the submission and query surface of the core.
type ExchangeServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderReply, error)
	UpdateOrder(context.Context, *UpdateOrderRequest) (*OrderReply, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderReply, error)
	RevertOrder(context.Context, *RevertOrderRequest) (*OrderReply, error)
	OTCBulkUpdate(context.Context, *OTCBulkUpdateRequest) (*OrderReply, error)
	GetBook(context.Context, *GetBookRequest) (*GetBookReply, error)
	Deposit(context.Context, *DepositRequest) (*BalanceReply, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceReply, error)
}

// ServiceDesc describes the Exchange service to grpc. Messages are JSON
// encoded through the codec registered by this package.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", ExchangeServer.PlaceOrder),
		unary("UpdateOrder", ExchangeServer.UpdateOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("RevertOrder", ExchangeServer.RevertOrder),
		unary("OTCBulkUpdate", ExchangeServer.OTCBulkUpdate),
		unary("GetBook", ExchangeServer.GetBook),
		unary("Deposit", ExchangeServer.Deposit),
		unary("GetBalance", ExchangeServer.GetBalance),
	},
	Metadata: "spotex/v1/exchange",
}

func Register(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

func unary[Req, Resp any](name string, call func(ExchangeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls the Exchange service over a JSON-coded connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "PlaceOrder", in, opts...)
}

func (c *Client) UpdateOrder(ctx context.Context, in *UpdateOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "UpdateOrder", in, opts...)
}

func (c *Client) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "CancelOrder", in, opts...)
}

func (c *Client) RevertOrder(ctx context.Context, in *RevertOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "RevertOrder", in, opts...)
}

func (c *Client) OTCBulkUpdate(ctx context.Context, in *OTCBulkUpdateRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c, "OTCBulkUpdate", in, opts...)
}

func (c *Client) GetBook(ctx context.Context, in *GetBookRequest, opts ...grpc.CallOption) (*GetBookReply, error) {
	return invoke[GetBookReply](ctx, c, "GetBook", in, opts...)
}

func (c *Client) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*BalanceReply, error) {
	return invoke[BalanceReply](ctx, c, "Deposit", in, opts...)
}

func (c *Client) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceReply, error) {
	return invoke[BalanceReply](ctx, c, "GetBalance", in, opts...)
}
