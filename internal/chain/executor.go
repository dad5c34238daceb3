// Package chain binds the off-chain collaborators to the deployed agent
// contract and its venues: triggering loans, quoting routers, reading
// chainlink rounds and tailing audit logs.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/config"
)

const agentABI = `[
 {"inputs":[{"internalType":"address[]","name":"assets","type":"address[]"},{"internalType":"uint256[]","name":"amounts","type":"uint256[]"},{"internalType":"bytes","name":"params","type":"bytes"}],"name":"executeFlashLoan","outputs":[],"stateMutability":"nonpayable","type":"function"},
 {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"initiator","type":"address"},{"indexed":false,"internalType":"uint256[]","name":"premiums","type":"uint256[]"},{"indexed":false,"internalType":"uint256","name":"profit","type":"uint256"}],"name":"ArbitrageExecuted","type":"event"}
]`

// Executor signs and sends executeFlashLoan transactions to the deployed
// agent contract.
type Executor struct {
	log      *zap.Logger
	ec       *ethclient.Client
	aabi     abi.ABI
	agent    common.Address
	gasLimit uint64
	priv     *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
}

func NewExecutor(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Executor, error) {
	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	aabi, err := abi.JSON(strings.NewReader(agentABI))
	if err != nil {
		return nil, fmt.Errorf("parse agent abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.WalletPK, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	return &Executor{
		log:      log,
		ec:       ec,
		aabi:     aabi,
		agent:    common.HexToAddress(cfg.Chain.AgentAddress),
		gasLimit: cfg.Chain.GasLimit,
		priv:     key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
	}, nil
}

// TriggerLoan packs executeFlashLoan(assets, amounts, payload) and sends it.
func (e *Executor) TriggerLoan(ctx context.Context, assets []common.Address, amounts []*big.Int, payload []byte) (string, error) {
	data, err := e.aabi.Pack("executeFlashLoan", assets, amounts, payload)
	if err != nil {
		return "", fmt.Errorf("pack executeFlashLoan: %w", err)
	}
	signed, err := e.signTx(ctx, data)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := e.ec.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func (e *Executor) signTx(ctx context.Context, data []byte) (*gethtypes.Transaction, error) {
	nonce, err := e.ec.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	tip, err := e.ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = big.NewInt(2_000_000_000)
	}
	var baseFee *big.Int
	if h, _ := e.ec.HeaderByNumber(ctx, nil); h != nil && h.BaseFee != nil {
		baseFee = h.BaseFee
	} else if sp, _ := e.ec.SuggestGasPrice(ctx); sp != nil {
		baseFee = sp
	} else {
		baseFee = big.NewInt(5_000_000_000)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas, err := e.ec.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &e.agent, Data: data})
	if err != nil || gas == 0 {
		gas = e.gasLimit
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		To:        &e.agent,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
		Value:     big.NewInt(0),
	})
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(e.chainID), e.priv)
}
