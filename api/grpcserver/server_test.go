package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"spotex/domain/errs"
	"spotex/domain/ledger"
	"spotex/domain/money"
	"spotex/domain/order"
	"spotex/service"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

type fakeService struct {
	placed  service.PlaceRequest
	updated service.UpdateRequest
	err     error
	panic   bool
}

func (f *fakeService) Place(_ context.Context, req service.PlaceRequest) (service.Result, error) {
	if f.panic {
		panic("boom")
	}
	f.placed = req
	if f.err != nil {
		return service.Result{}, f.err
	}
	return service.Result{Order: &order.Order{ID: 42, Pair: req.Pair, Side: req.Side, Kind: req.Kind, Price: req.Price, State: order.Open, InStack: true}}, nil
}

func (f *fakeService) Update(_ context.Context, req service.UpdateRequest) (service.Result, error) {
	f.updated = req
	return service.Result{Order: &order.Order{ID: req.OrderID}}, f.err
}

func (f *fakeService) Cancel(_ context.Context, userID, orderID uint64) (service.Result, error) {
	if f.err != nil {
		return service.Result{}, f.err
	}
	return service.Result{Order: &order.Order{ID: orderID, UserID: userID, State: order.Cancelled}}, nil
}

func (f *fakeService) Revert(_ context.Context, orderID uint64) (service.Result, error) {
	return service.Result{}, errs.New(errs.CodeCannotUpdateOrder, "order %d is open", orderID)
}

func (f *fakeService) OTCBulkUpdate(_ context.Context, pair string) (service.Result, error) {
	return service.Result{Repriced: []uint64{3, 4}}, nil
}

func (f *fakeService) Deposit(_ context.Context, userID uint64, currency string, amount decimal.Decimal) (ledger.Balance, error) {
	return ledger.Balance{UserID: userID, Currency: currency, Available: amount}, nil
}

func (f *fakeService) Balance(userID uint64, currency string) ledger.Balance {
	return ledger.Balance{UserID: userID, Currency: currency, Available: d("1.5"), OnHold: d("0.5")}
}

func (f *fakeService) Book(pair string) (*service.BookView, error) {
	if pair != "BTC-USDT" {
		return nil, errs.New(errs.CodePairDisabled, "pair %s", pair)
	}
	at := time.Unix(1700000000, 0)
	return &service.BookView{
		Pair: pair,
		Bids: []service.LevelView{
			{Price: d("50010"), Quantity: d("1"), Orders: []service.RestingOrder{{ID: 1, UserID: 7, Quantity: d("1"), CreatedAt: at}}},
			{Price: d("50001"), Quantity: d("2"), Orders: []service.RestingOrder{{ID: 2, UserID: 8, Quantity: d("2"), CreatedAt: at}}},
		},
		Touched: at,
	}, nil
}

func dial(t *testing.T, svc OrderService) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	log := zap.NewNop()
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(Recovery(log), Logging(log)))
	Register(srv, NewServer(svc, log))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestPlaceOrderRoundTrip(t *testing.T) {
	svc := &fakeService{}
	c := dial(t, svc)

	res, err := c.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Pair: "BTC-USDT", UserID: 1, Side: "SELL", Kind: "LIMIT", Quantity: d("0.01"), Price: d("50000.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Order.ID)
	assert.True(t, d("50000.5").Equal(res.Order.Price))
	assert.Equal(t, order.Sell, svc.placed.Side)
	assert.Equal(t, order.Limit, svc.placed.Kind)
	assert.True(t, d("0.01").Equal(svc.placed.Quantity))
}

func TestPlaceOrderRejectsUnknownKind(t *testing.T) {
	c := dial(t, &fakeService{})
	_, err := c.PlaceOrder(context.Background(), &PlaceOrderRequest{Pair: "BTC-USDT", Side: "BUY", Kind: "ICEBERG"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, errs.CodeUnknownOrderKind, CodeOf(err))
}

func TestErrorsCarryStableCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		core errs.Code
	}{
		{"funds", errs.New(errs.CodeInsufficientFunds, "short"), codes.FailedPrecondition, errs.CodeInsufficientFunds},
		{"timeout", errs.Wrap(errs.CodeTimeout, context.DeadlineExceeded, "place"), codes.DeadlineExceeded, errs.CodeTimeout},
		{"plain", errors.New("disk on fire"), codes.Internal, errs.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, &fakeService{err: tt.err})
			_, err := c.PlaceOrder(context.Background(), &PlaceOrderRequest{Pair: "BTC-USDT", Side: "BUY", Kind: "LIMIT"})
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Equal(t, tt.core, CodeOf(err))
			assert.NotContains(t, err.Error(), "disk on fire")
		})
	}
}

func TestUpdateKeepsNullFields(t *testing.T) {
	svc := &fakeService{}
	c := dial(t, svc)
	_, err := c.UpdateOrder(context.Background(), &UpdateOrderRequest{OrderID: 9, UserID: 1, Price: decimal.NewNullDecimal(d("49000"))})
	require.NoError(t, err)
	assert.True(t, svc.updated.Price.Valid)
	assert.False(t, svc.updated.Quantity.Valid)
	assert.False(t, svc.updated.Stop.Valid)
}

func TestCancelRevertAndOTC(t *testing.T) {
	c := dial(t, &fakeService{})
	ctx := context.Background()

	res, err := c.CancelOrder(ctx, &CancelOrderRequest{OrderID: 5, UserID: 2})
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, res.Order.State)

	_, err = c.RevertOrder(ctx, &RevertOrderRequest{OrderID: 5})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, errs.CodeCannotUpdateOrder, CodeOf(err))

	otc, err := c.OTCBulkUpdate(ctx, &OTCBulkUpdateRequest{Pair: "BTC-USDT"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, otc.Repriced)
}

func TestGetBookForUser(t *testing.T) {
	c := dial(t, &fakeService{})
	ctx := context.Background()

	res, err := c.GetBook(ctx, &GetBookRequest{Pair: "BTC-USDT", UserID: 8, Precision: d("100")})
	require.NoError(t, err)
	require.Len(t, res.Book.Bids, 2)
	assert.False(t, res.Book.Bids[0].Owner)
	assert.True(t, res.Book.Bids[1].Owner)
	assert.Nil(t, res.Book.Bids[0].UserIDs)
	assert.True(t, d("3").Equal(res.Book.Bids[1].CumulativeDepth))

	require.NotNil(t, res.Grouped)
	require.Len(t, res.Grouped.Bids, 1)
	assert.True(t, d("50000").Equal(res.Grouped.Bids[0].Price))
	assert.True(t, res.Grouped.Bids[0].Owner)

	_, err = c.GetBook(ctx, &GetBookRequest{Pair: "DOGE-USDT"})
	assert.Equal(t, errs.CodePairDisabled, CodeOf(err))
}

func TestBalances(t *testing.T) {
	c := dial(t, &fakeService{})
	ctx := context.Background()

	b, err := c.GetBalance(ctx, &BalanceRequest{UserID: 3, Currency: "BTC"})
	require.NoError(t, err)
	assert.True(t, d("1.5").Equal(b.Available))
	assert.True(t, d("0.5").Equal(b.OnHold))

	dep, err := c.Deposit(ctx, &DepositRequest{UserID: 3, Currency: "USDT", Amount: d("10")})
	require.NoError(t, err)
	assert.True(t, d("10").Equal(dep.Available))
}

func TestPanicBecomesInternal(t *testing.T) {
	c := dial(t, &fakeService{panic: true})
	_, err := c.PlaceOrder(context.Background(), &PlaceOrderRequest{Pair: "BTC-USDT", Side: "BUY", Kind: "LIMIT"})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, errs.CodeInternal, CodeOf(err))
}
