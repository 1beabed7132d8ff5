// Package ponte submits orders to the Ponte settlement contract.
package ponte

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RelayABI is the subset of the settlement contract the coordinator calls
const RelayABI = `[{
	"type": "function",
	"name": "relayTrade",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "correlationId", "type": "bytes32"},
		{"name": "tenantId", "type": "string"},
		{"name": "symbol", "type": "string"},
		{"name": "direction", "type": "uint8"},
		{"name": "quantity", "type": "uint256"}
	],
	"outputs": []
}]`

// QuantityDecimals is the fixed-point precision of on-chain quantities
const QuantityDecimals = 18

// ChainBackend is the node access the client needs. *ethclient.Client satisfies it.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ ChainBackend = (*ethclient.Client)(nil)

// Config holds the settlement client configuration
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex, with or without 0x
	ChainID         int64
	GasLimit        uint64
}

// Client signs and submits relayTrade transactions.
// Submits are serialised so concurrent pipelines never reuse a nonce.
type Client struct {
	backend  ChainBackend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	abi      abi.ABI
	log      zerolog.Logger

	mu        sync.Mutex
	nextNonce uint64
	nonceSet  bool // nextNonce is valid; cleared when a send fails
}

var _ domain.SettlementClient = (*Client)(nil)

// Dial connects to the configured RPC endpoint
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, domain.Fail(domain.ErrConfigurationMissing, nil, "settlement RPC URL is not set")
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC node: %w", err)
	}

	return New(backend, cfg, log)
}

// New creates a client over an existing backend
func New(backend ChainBackend, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.ContractAddress == "" || cfg.PrivateKey == "" {
		return nil, domain.Fail(domain.ErrConfigurationMissing, nil, "settlement contract address and relayer key are required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relayer private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(RelayABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay ABI: %w", err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 600000
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	return &Client{
		backend:  backend,
		contract: common.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     from,
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: gasLimit,
		abi:      parsed,
		log: log.With().
			Str("client", "ponte").
			Str("relayer", from.Hex()).
			Logger(),
	}, nil
}

// Submit signs and sends a relayTrade transaction, returning its hash
func (c *Client) Submit(ctx context.Context, order domain.Order) (string, error) {
	quantity, err := ScaleQuantity(order.Quantity)
	if err != nil {
		return "", err
	}

	direction, err := directionCode(order.Direction)
	if err != nil {
		return "", err
	}

	data, err := c.abi.Pack("relayTrade",
		CorrelationKey(order.CorrelationID),
		order.TenantID,
		order.Symbol,
		direction,
		quantity,
	)
	if err != nil {
		return "", fmt.Errorf("failed to pack relayTrade call: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.allocateNonce(ctx)
	if err != nil {
		return "", err
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, c.contract, big.NewInt(0), c.gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// Resync from the node on the next submit
		c.nonceSet = false
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.nextNonce = nonce + 1
	c.nonceSet = true

	hash := signed.Hash().Hex()
	c.log.Info().
		Str("correlation_id", order.CorrelationID).
		Str("symbol", order.Symbol).
		Uint64("nonce", nonce).
		Str("tx_hash", hash).
		Msg("Settlement transaction sent")

	return hash, nil
}

// allocateNonce returns the node's pending nonce, or the local counter when the node lags behind it.
// Callers hold c.mu.
func (c *Client) allocateNonce(ctx context.Context) (uint64, error) {
	pending, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	if c.nonceSet && c.nextNonce > pending {
		return c.nextNonce, nil
	}
	return pending, nil
}

// BlockNumber returns the latest block height of the settlement chain
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// ScaleQuantity converts a quantity to an 18-decimal fixed-point integer
func ScaleQuantity(quantity float64) (*big.Int, error) {
	scaled := decimal.NewFromFloat(quantity).Shift(QuantityDecimals).Truncate(0)
	if !scaled.IsPositive() {
		return nil, fmt.Errorf("quantity %v must be positive", quantity)
	}
	return scaled.BigInt(), nil
}

// CorrelationKey maps a correlation id to the bytes32 key used on chain
func CorrelationKey(correlationID string) [32]byte {
	return crypto.Keccak256Hash([]byte(correlationID))
}

func directionCode(d domain.Direction) (uint8, error) {
	switch d {
	case domain.DirectionLong:
		return 0, nil
	case domain.DirectionShort:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", d)
	}
}
