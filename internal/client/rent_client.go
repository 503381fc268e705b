package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/handler"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// RentClient calls a rent node over gRPC
type RentClient struct {
	addr   string
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewRentClient creates a client for the rent node at addr. Extra dial
// options are appended to the insecure transport default.
func NewRentClient(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*RentClient, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rent node at %s: %w", addr, err)
	}

	return &RentClient{
		addr:   addr,
		conn:   conn,
		logger: logger,
	}, nil
}

// Deposit attaches amount to a deposit for the caller or req.AccountID
func (c *RentClient) Deposit(ctx context.Context, caller string, attached amount.Amount, req model.DepositRequest) (*model.StorageBalance, error) {
	var balance model.StorageBalance
	if err := c.invoke(withCall(ctx, caller, attached), "Deposit", req, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Withdraw withdraws from the caller's balance, attaching the confirmation unit
func (c *RentClient) Withdraw(ctx context.Context, caller string, amt *amount.Amount) (*model.StorageBalance, error) {
	var balance model.StorageBalance
	if err := c.invoke(withCall(ctx, caller, amount.One()), "Withdraw", model.WithdrawRequest{Amount: amt}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Unregister removes the caller's account, attaching the confirmation unit
func (c *RentClient) Unregister(ctx context.Context, caller string, force bool) (bool, error) {
	var resp handler.UnregisterResponse
	if err := c.invoke(withCall(ctx, caller, amount.One()), "Unregister", model.UnregisterRequest{Force: &force}, &resp); err != nil {
		return false, err
	}
	return resp.Unregistered, nil
}

// BalanceBounds returns the node's balance bounds
func (c *RentClient) BalanceBounds(ctx context.Context) (*model.StorageBalanceBounds, error) {
	var bounds model.StorageBalanceBounds
	if err := c.invoke(ctx, "BalanceBounds", struct{}{}, &bounds); err != nil {
		return nil, err
	}
	return &bounds, nil
}

// BalanceOf returns the balance of accountID, or nil if it is not registered
func (c *RentClient) BalanceOf(ctx context.Context, accountID string) (*model.StorageBalance, error) {
	var raw map[string]interface{}
	if err := c.invoke(ctx, "BalanceOf", model.BalanceOfRequest{AccountID: accountID}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var balance model.StorageBalance
	if err := json.Unmarshal(data, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	return &balance, nil
}

// WaitReady polls the node until it answers or maxRetries is exhausted
func (c *RentClient) WaitReady(ctx context.Context, maxRetries int, retryInterval time.Duration) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := c.BalanceBounds(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		c.logger.Warn("Rent node not ready, retrying...",
			zap.String("addr", c.addr),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for rent node: %w", ctx.Err())
			case <-time.After(retryInterval):
			}
		}
	}

	return fmt.Errorf("rent node not ready after %d attempts: %w", maxRetries, lastErr)
}

// Close closes the client connection
func (c *RentClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *RentClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	in := &structpb.Struct{}
	if err := in.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+handler.ServiceName+"/"+method, in, out); err != nil {
		return err
	}

	data, err = out.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func withCall(ctx context.Context, caller string, attached amount.Amount) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		handler.CallerIDMetadata, caller,
		handler.AttachedDepositMetadata, attached.String())
}
