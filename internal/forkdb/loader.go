package forkdb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"evmforge/internal/forkcache"
	"evmforge/internal/forkerrors"
	"evmforge/internal/rpcclient"
)

// forkLoader is the Loader a forkState hands to the journal: it satisfies
// the load path of spec.md §4.1 steps 3-4 (consult the fork cache, then
// fall back to RPC and insert the response into the cache).
type forkLoader struct {
	ctx context.Context
	fs  *forkState
	db  *Database
}

func (l *forkLoader) LoadAccountFromBackend(addr Address) (*AccountInfo, error) {
	if l.fs == nil {
		return EmptyAccount(), nil
	}
	if acct, ok := l.fs.cache.GetAccount(addr); ok {
		return acct, nil
	}
	if l.fs.client == nil {
		return EmptyAccount(), nil
	}

	blockTag := blockNumberTag(l.fs.blockEnv.Number)

	balRaw, err := l.fs.client.Call(l.ctx, "eth_getBalance", []any{hexAddr(addr), blockTag})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getBalance", err)
	}
	nonceRaw, err := l.fs.client.Call(l.ctx, "eth_getTransactionCount", []any{hexAddr(addr), blockTag})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getTransactionCount", err)
	}
	codeRaw, err := l.fs.client.Call(l.ctx, "eth_getCode", []any{hexAddr(addr), blockTag})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getCode", err)
	}

	balance, err := decodeHexQuantity(balRaw)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "load_account.balance", err)
	}
	nonce, err := decodeHexQuantity(nonceRaw)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "load_account.nonce", err)
	}
	code, err := decodeHexString(codeRaw)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "load_account.code", err)
	}

	acct := &forkcache.Account{Balance: balance, Nonce: nonce.Uint64()}
	if len(code) > 0 {
		acct.Code = code
		acct.CodeHash = codeHash(code)
	}
	l.fs.cache.PutAccount(addr, acct)
	if l.db != nil && len(code) > 0 {
		l.db.rememberCode(acct.CodeHash, code)
	}
	return acct, nil
}

func (l *forkLoader) LoadStorageFromBackend(addr Address, key Word) (*Word, error) {
	if l.fs == nil {
		return big.NewInt(0), nil
	}
	var slot [32]byte
	kb := key.Bytes()
	copy(slot[len(slot)-len(kb):], kb)
	if val, ok := l.fs.cache.GetStorage(addr, slot); ok {
		return val, nil
	}
	if l.fs.client == nil {
		return big.NewInt(0), nil
	}
	raw, err := l.fs.client.Call(l.ctx, "eth_getStorageAt", []any{hexAddr(addr), "0x" + hex.EncodeToString(slot[:]), blockNumberTag(l.fs.blockEnv.Number)})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getStorageAt", err)
	}
	val, err := decodeHexQuantity(raw)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "sload", err)
	}
	l.fs.cache.PutStorage(addr, slot, val)
	return val, nil
}

func hexAddr(a Address) string {
	return "0x" + hex.EncodeToString(a[:])
}

func hexToAddress(s string) Address {
	var a Address
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a
	}
	copy(a[len(a)-len(b):], b)
	return a
}

func hexToHashValue(s string) Hash {
	var h Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h
	}
	copy(h[len(h)-len(b):], b)
	return h
}

func blockNumberTag(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func decodeHexQuantity(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex quantity %q", s)
	}
	return v, nil
}

func decodeHexString(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// rpcBlockHeader is the subset of an eth_getBlockByNumber/Hash response this
// package needs (spec.md §3 "Block header (subset used by core)").
type rpcBlockHeader struct {
	Number       string   `json:"number"`
	Hash         string   `json:"hash"`
	ParentHash   string   `json:"parentHash"`
	Timestamp    string   `json:"timestamp"`
	GasUsed      string   `json:"gasUsed"`
	GasLimit     string   `json:"gasLimit"`
	BaseFee      string   `json:"baseFeePerGas"`
	Miner        string   `json:"miner"`
	Difficulty   string   `json:"difficulty"`
	Transactions []string `json:"transactions"`
}

func fetchBlockByNumber(ctx context.Context, c *rpcclient.Client, number uint64) (*rpcBlockHeader, error) {
	raw, err := c.Call(ctx, "eth_getBlockByNumber", []any{blockNumberTag(number), false})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getBlockByNumber", err)
	}
	if string(raw) == "null" {
		return nil, forkerrors.New(forkerrors.KindDataUnavailable, "get_block", fmt.Errorf("block %d not found", number))
	}
	var hdr rpcBlockHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "get_block", err)
	}
	return &hdr, nil
}

// rpcTransaction is the subset needed to locate a transaction's enclosing
// block (spec.md §4.1 "create_fork_at_transaction"/"roll_fork_to_transaction").
type rpcTransaction struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
}

func fetchTransactionByHash(ctx context.Context, c *rpcclient.Client, txHash Hash) (*rpcTransaction, error) {
	raw, err := c.Call(ctx, "eth_getTransactionByHash", []any{txHash.Hex()})
	if err != nil {
		return nil, forkerrors.Rpc("eth_getTransactionByHash", err)
	}
	if string(raw) == "null" {
		return nil, forkerrors.New(forkerrors.KindDataUnavailable, "get_transaction", fmt.Errorf("tx %s not found", txHash.Hex()))
	}
	var tx rpcTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "get_transaction", err)
	}
	return &tx, nil
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}
