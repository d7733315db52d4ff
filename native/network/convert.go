package network

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	amerr "convertnet/core/errors"
	"convertnet/native/bank"
	"convertnet/native/converter"
	"convertnet/native/mathex"
)

// ConvertRequest describes a conversion along a path.
type ConvertRequest struct {
	Path      []common.Address
	Amount    *uint256.Int
	MinReturn *uint256.Int
	Trader    common.Address
	// Beneficiary receives the final output; it defaults to Trader.
	Beneficiary     common.Address
	Affiliate       common.Address
	AffiliateFeePPM uint32
	// Value is the native amount attached to the request.
	Value *uint256.Int
}

// Result is the outcome of a path conversion.
type Result struct {
	TradeID string
	Amount  *uint256.Int
	// Fee is the final hop's fee, in units of the path's target asset. Fees
	// of earlier hops are in Conversions.
	Fee         *uint256.Int
	Conversions []converter.Conversion
}

// RateByPath quotes amount along path without changing any state. It returns
// the final amount and the fee of the final hop.
func (n *Network) RateByPath(ctx context.Context, path []common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	_, span := n.tracer.Start(ctx, "network.rate_by_path",
		trace.WithAttributes(attribute.Int("path.hops", len(path)/2)))
	defer span.End()

	if err := ValidatePath(path, n.maxHops); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	running := mathex.Clone(amount)
	fee := new(uint256.Int)
	err := n.state.View(func() error {
		hops, err := n.resolve(path)
		if err != nil {
			return err
		}
		for i, h := range hops {
			net, hopFee, err := h.pool.Quote(h.source, h.target, running)
			if err != nil {
				return fmt.Errorf("network: hop %d: %w", i, err)
			}
			running, fee = net, hopFee
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetStatus(codes.Ok, "quoted")
	return running, fee, nil
}

// ConvertByPath executes req atomically. Intermediate outputs go straight to
// the next converter; on any failure every hop is undone and no event is
// published.
func (n *Network) ConvertByPath(ctx context.Context, req ConvertRequest) (*Result, error) {
	start := n.now()
	ctx, span := n.tracer.Start(ctx, "network.convert_by_path",
		trace.WithAttributes(
			attribute.Int("path.hops", len(req.Path)/2),
			attribute.String("trader", req.Trader.Hex()),
		))
	defer span.End()

	res, err := n.convertByPath(ctx, req)
	hops := len(req.Path) / 2
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.metrics.ObserveConversionFailure(amerr.Reason(err))
		n.metrics.ObservePath(hops, false, n.now().Sub(start))
		n.logger.Warn("path conversion failed",
			slog.String("trader", req.Trader.Hex()),
			slog.Int("hops", hops),
			slog.String("reason", amerr.Reason(err)),
			slog.Any("error", err))
		return nil, err
	}
	for _, c := range res.Conversions {
		n.metrics.ObserveConversion(c.Anchor.Hex(), c.Source.Hex(), c.Target.Hex(), c.AmountIn, c.Fees.Pool, c.Fees.Network, c.Fees.Affiliate)
	}
	n.metrics.ObservePath(hops, true, n.now().Sub(start))
	span.SetAttributes(
		attribute.String("trade.id", res.TradeID),
		attribute.String("amount.out", res.Amount.Dec()),
	)
	span.SetStatus(codes.Ok, "converted")
	n.logger.Info("path conversion executed",
		slog.String("trade_id", res.TradeID),
		slog.String("trader", req.Trader.Hex()),
		slog.Int("hops", hops),
		slog.String("amount_in", req.Amount.Dec()),
		slog.String("amount_out", res.Amount.Dec()))
	return res, nil
}

func (n *Network) checkRequest(req ConvertRequest) error {
	if err := ValidatePath(req.Path, n.maxHops); err != nil {
		return err
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return fmt.Errorf("network: zero amount: %w", amerr.ErrInvalidAmount)
	}
	if req.Trader == (common.Address{}) {
		return fmt.Errorf("network: trader required: %w", amerr.ErrInvalidAmount)
	}
	if req.AffiliateFeePPM > n.maxAffiliateFee {
		return fmt.Errorf("network: affiliate fee %d above %d: %w", req.AffiliateFeePPM, n.maxAffiliateFee, amerr.ErrInvalidAffiliateFee)
	}
	if (req.Affiliate == (common.Address{})) != (req.AffiliateFeePPM == 0) {
		return fmt.Errorf("network: affiliate and affiliate fee must be set together: %w", amerr.ErrInvalidAffiliateFee)
	}
	value := mathex.Clone(req.Value)
	if req.Path[0] == bank.NativeAsset {
		if !value.Eq(req.Amount) {
			return fmt.Errorf("network: value %s for native amount %s: %w", value.Dec(), req.Amount.Dec(), amerr.ErrEthAmountMismatch)
		}
	} else if !value.IsZero() {
		return fmt.Errorf("network: value attached to a non-native source: %w", amerr.ErrEthAmountMismatch)
	}
	return nil
}

func (n *Network) convertByPath(ctx context.Context, req ConvertRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := n.checkRequest(req); err != nil {
		return nil, err
	}
	beneficiary := req.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = req.Trader
	}
	res := &Result{TradeID: n.newTradeID()}
	err := n.state.Exclusive(func() error {
		hops, err := n.resolve(req.Path)
		if err != nil {
			return err
		}
		if err := n.pull(req, hops[0].pool.Address()); err != nil {
			return err
		}
		running := mathex.Clone(req.Amount)
		last := len(hops) - 1
		for i, h := range hops {
			hopReq := converter.ConvertRequest{
				Source:      h.source,
				Target:      h.target,
				Amount:      running,
				Trader:      req.Trader,
				Beneficiary: beneficiary,
				TradeID:     res.TradeID,
			}
			if i < last {
				hopReq.Beneficiary = hops[i+1].pool.Address()
			} else if n.affiliateApplies(req, h.target) {
				hopReq.Affiliate = req.Affiliate
				hopReq.AffiliateFeePPM = req.AffiliateFeePPM
			}
			conv, err := h.pool.Convert(hopReq)
			if err != nil {
				return fmt.Errorf("network: hop %d via %s: %w", i, h.pool.Anchor().Hex(), err)
			}
			res.Conversions = append(res.Conversions, *conv)
			running = conv.AmountOut
			res.Fee = conv.Fee
		}
		if req.MinReturn != nil && running.Lt(req.MinReturn) {
			return fmt.Errorf("network: return %s below minimum %s: %w", running.Dec(), req.MinReturn.Dec(), amerr.ErrReturnTooLow)
		}
		res.Amount = running
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// pull moves the source amount from the trader into the first converter.
// Native value is attached to the request and moves as a plain transfer.
func (n *Network) pull(req ConvertRequest, to common.Address) error {
	source := req.Path[0]
	if source == bank.NativeAsset {
		return n.bank.Transfer(source, req.Trader, to, req.Amount)
	}
	return n.bank.TransferFrom(source, n.address, req.Trader, to, req.Amount)
}

func (n *Network) affiliateApplies(req ConvertRequest, target common.Address) bool {
	if req.Affiliate == (common.Address{}) || req.AffiliateFeePPM == 0 {
		return false
	}
	return n.reference != (common.Address{}) && target == n.reference
}
