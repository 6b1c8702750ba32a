// Package scanner queries the node for the two campaign events over a block
// range and decodes matching logs into typed records.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"taskwatch/internal/metrics"
)

// LogSource is the slice of the RPC surface the scanner needs.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockTime(ctx context.Context, n uint64) (uint64, error)
}

type Scanner struct {
	logger   *slog.Logger
	src      LogSource
	stakeHub common.Address
	bridge   common.Address

	stakeEvent abi.Event
	burnEvent  abi.Event
}

func New(logger *slog.Logger, src LogSource, stakeHub, bridge common.Address) (*Scanner, error) {
	stakeABI, err := abi.JSON(strings.NewReader(stakeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse stake abi: %w", err)
	}
	burnABI, err := abi.JSON(strings.NewReader(burnABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse burn abi: %w", err)
	}
	return &Scanner{
		logger:     logger,
		src:        src,
		stakeHub:   stakeHub,
		bridge:     bridge,
		stakeEvent: stakeABI.Events["StakeBTC2JoinStakePlan"],
		burnEvent:  burnABI.Events["Burned"],
	}, nil
}

// Scan fetches and decodes both event kinds over the inclusive block range
// [from, to]. Events come back in the order the node returned them. Logs
// whose payload fails to decode are skipped with a warning; a failed block
// timestamp fetch is a transient RPC fault and fails the whole scan so the
// caller can retry the range without losing the event.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) ([]StakeEvent, []BurnEvent, error) {
	timeCache := map[uint64]uint64{}

	stakeLogs, err := s.query(ctx, s.stakeHub, s.stakeEvent.ID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("query stake logs: %w", err)
	}
	burnLogs, err := s.query(ctx, s.bridge, s.burnEvent.ID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("query burn logs: %w", err)
	}

	stakes := make([]StakeEvent, 0, len(stakeLogs))
	for _, l := range stakeLogs {
		ev, err := s.decodeStake(l)
		if err != nil {
			s.logger.Warn("skipping malformed stake log",
				"block", l.BlockNumber, "tx", l.TxHash.Hex(), "error", err)
			continue
		}
		ev.BlockTime, err = s.blockTime(ctx, l.BlockNumber, timeCache)
		if err != nil {
			return nil, nil, err
		}
		metrics.EventsDecoded.WithLabelValues("stake").Inc()
		stakes = append(stakes, ev)
	}

	burns := make([]BurnEvent, 0, len(burnLogs))
	for _, l := range burnLogs {
		ev, err := s.decodeBurn(l)
		if err != nil {
			s.logger.Warn("skipping malformed burn log",
				"block", l.BlockNumber, "tx", l.TxHash.Hex(), "error", err)
			continue
		}
		ev.BlockTime, err = s.blockTime(ctx, l.BlockNumber, timeCache)
		if err != nil {
			return nil, nil, err
		}
		metrics.EventsDecoded.WithLabelValues("burn").Inc()
		burns = append(burns, ev)
	}
	return stakes, burns, nil
}

func (s *Scanner) query(ctx context.Context, addr common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic}},
	}
	return s.src.FilterLogs(ctx, q)
}

func (s *Scanner) decodeStake(l types.Log) (StakeEvent, error) {
	args, err := s.unpack(s.stakeEvent, l)
	if err != nil {
		return StakeEvent{}, err
	}
	stakeIndex, ok1 := args["stakeIndex"].(*big.Int)
	planID, ok2 := args["planId"].(*big.Int)
	user, ok3 := args["user"].(common.Address)
	btcContract, ok4 := args["btcContractAddress"].(common.Address)
	stakeAmount, ok5 := args["stakeAmount"].(*big.Int)
	stBTCAmount, ok6 := args["stBTCAmount"].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return StakeEvent{}, fmt.Errorf("unexpected argument shape")
	}
	return StakeEvent{
		StakeIndex:  stakeIndex,
		PlanID:      planID,
		User:        user,
		BTCContract: btcContract,
		StakeAmount: stakeAmount,
		StBTCAmount: stBTCAmount,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

func (s *Scanner) decodeBurn(l types.Log) (BurnEvent, error) {
	args, err := s.unpack(s.burnEvent, l)
	if err != nil {
		return BurnEvent{}, err
	}
	from, ok1 := args["fromAddress"].(common.Address)
	amount, ok2 := args["amount"].(*big.Int)
	fromChain, ok3 := args["fromChainId"].(*big.Int)
	toChain, ok4 := args["toChainId"].(*big.Int)
	fromStBTC, ok5 := args["fromStBTCAddress"].(common.Address)
	toStBTC, ok6 := args["toStBTCAddress"].(common.Address)
	receiver, ok7 := args["receiver"].(common.Address)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return BurnEvent{}, fmt.Errorf("unexpected argument shape")
	}
	return BurnEvent{
		From:        from,
		Amount:      amount,
		FromChainID: fromChain,
		ToChainID:   toChain,
		FromStBTC:   fromStBTC,
		ToStBTC:     toStBTC,
		Receiver:    receiver,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

func (s *Scanner) unpack(event abi.Event, l types.Log) (map[string]interface{}, error) {
	if len(l.Topics) == 0 || l.Topics[0] != event.ID {
		return nil, fmt.Errorf("unexpected topic0")
	}
	args := map[string]interface{}{}
	if err := event.Inputs.UnpackIntoMap(args, l.Data); err != nil {
		return nil, err
	}
	if err := abi.ParseTopicsIntoMap(args, indexed(event), l.Topics[1:]); err != nil {
		return nil, err
	}
	if len(args) != len(event.Inputs) {
		return nil, fmt.Errorf("got %d arguments, want %d", len(args), len(event.Inputs))
	}
	return args, nil
}

// blockTime looks up the containing block's timestamp, memoized per scan so a
// block full of events costs one header fetch.
func (s *Scanner) blockTime(ctx context.Context, n uint64, cache map[uint64]uint64) (uint64, error) {
	if ts, ok := cache[n]; ok {
		return ts, nil
	}
	ts, err := s.src.BlockTime(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("fetch block %d time: %w", n, err)
	}
	cache[n] = ts
	return ts, nil
}

func indexed(event abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}
