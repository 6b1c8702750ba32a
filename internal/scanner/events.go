package scanner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ABI fragments for the two campaign events. Only these two signatures are
// ever queried; everything else emitted by the contracts is ignored.
const (
	stakeABIJSON = `[{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "stakeIndex",         "type": "uint256"},
			{"indexed": true,  "name": "planId",             "type": "uint256"},
			{"indexed": true,  "name": "user",               "type": "address"},
			{"indexed": false, "name": "btcContractAddress", "type": "address"},
			{"indexed": false, "name": "stakeAmount",        "type": "uint256"},
			{"indexed": false, "name": "stBTCAmount",        "type": "uint256"}
		],
		"name": "StakeBTC2JoinStakePlan",
		"type": "event"
	}]`

	burnABIJSON = `[{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "fromAddress",      "type": "address"},
			{"indexed": false, "name": "amount",           "type": "uint256"},
			{"indexed": false, "name": "fromChainId",      "type": "uint256"},
			{"indexed": false, "name": "toChainId",        "type": "uint256"},
			{"indexed": false, "name": "fromStBTCAddress", "type": "address"},
			{"indexed": false, "name": "toStBTCAddress",   "type": "address"},
			{"indexed": false, "name": "receiver",         "type": "address"}
		],
		"name": "Burned",
		"type": "event"
	}]`
)

// StakeEvent is a decoded StakeBTC2JoinStakePlan log: a user staking BTC into
// a plan and minting stBTC.
type StakeEvent struct {
	StakeIndex  *big.Int
	PlanID      *big.Int
	User        common.Address
	BTCContract common.Address
	StakeAmount *big.Int
	StBTCAmount *big.Int
	BlockTime   uint64
	TxHash      common.Hash
	LogIndex    uint
}

// BurnEvent is a decoded Burned log: stBTC leaving this chain through the
// bridge.
type BurnEvent struct {
	From        common.Address
	Amount      *big.Int
	FromChainID *big.Int
	ToChainID   *big.Int
	FromStBTC   common.Address
	ToStBTC     common.Address
	Receiver    common.Address
	BlockTime   uint64
	TxHash      common.Hash
	LogIndex    uint
}
