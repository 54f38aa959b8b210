package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallDescriptor 是一条可提交的链上调用：目标地址、ABI 编码的
// 方法与参数、以及随调用发送的原生币数额。
type CallDescriptor struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// MarshalJSON 以代付网关约定的线格式输出调用描述符。
func (c CallDescriptor) MarshalJSON() ([]byte, error) {
	value := "0"
	if c.Value != nil {
		value = c.Value.String()
	}
	return json.Marshal(struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	}{
		To:    c.To.Hex(),
		Data:  hexutil.Encode(c.Data),
		Value: value,
	})
}

// UnmarshalJSON 从线格式恢复调用描述符。
func (c *CallDescriptor) UnmarshalJSON(data []byte) error {
	var wire struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if !common.IsHexAddress(wire.To) {
		return fmt.Errorf("非法的目标地址: %s", wire.To)
	}
	payload, err := hexutil.Decode(wire.Data)
	if err != nil {
		return fmt.Errorf("非法的调用数据: %w", err)
	}
	value, ok := new(big.Int).SetString(wire.Value, 10)
	if !ok {
		return fmt.Errorf("非法的调用数额: %s", wire.Value)
	}
	c.To = common.HexToAddress(wire.To)
	c.Data = payload
	c.Value = value
	return nil
}

// ExecutionResult 汇总一次交易包提交的结果。
type ExecutionResult struct {
	TxHash    string `json:"tx_hash,omitempty"`
	Succeeded bool   `json:"succeeded"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// 失败类别，写入 ExecutionResult.ErrorKind 并回显给对话层。
const (
	ErrorKindEncoding = "encoding_failure"
	ErrorKindSigning  = "signing_rejected"
	ErrorKindRelay    = "relay_failure"
)

// Signer 抽象了连接中的钱包：为一批调用请求签名授权，用户可以拒绝。
type Signer interface {
	Authorize(ctx context.Context, wallet string, calls []CallDescriptor) error
}

// Relay 抽象了代付执行网关：接收一批调用描述符并原子化提交上链，
// 由网关代付手续费，返回交易哈希或结构化错误。
type Relay interface {
	SubmitBatch(ctx context.Context, wallet string, calls []CallDescriptor) (string, error)
}
