package executor

import (
	"context"
	"log/slog"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/pkg/logger"
)

// Executor 把已批准的意图列表编码为调用描述符，并通过代付网关
// 原子化提交为一笔批量交易。提交要么整体成功并返回交易哈希，
// 要么整体失败；失败的交易包是终态，绝不自动重试。
type Executor struct {
	encoder *Encoder
	signer  Signer
	relay   Relay
}

// New 创建执行器。signer 可以为 nil（无需独立授权步骤的托管场景）。
func New(encoder *Encoder, signer Signer, relay Relay) (*Executor, error) {
	if encoder == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置编码器")
	}
	if relay == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代付网关")
	}
	return &Executor{encoder: encoder, signer: signer, relay: relay}, nil
}

// Execute 提交一组意图。返回的 ExecutionResult 永远有效；error 仅在
// 失败时同时返回，便于上层记录原因并保持交易包进入失败终态。
// 意图的顺序在编码与链上执行两个层面都保持不变。
func (e *Executor) Execute(ctx context.Context, wallet string, intents []intent.Intent) (ExecutionResult, error) {
	if len(intents) == 0 {
		return ExecutionResult{ErrorKind: ErrorKindEncoding},
			xerrors.New(xerrors.CodeInvalidArgument, "交易包不能为空")
	}

	calls, err := e.encoder.EncodeAll(intents)
	if err != nil {
		return ExecutionResult{ErrorKind: ErrorKindEncoding},
			xerrors.Wrap(xerrors.CodeExecutionFailure, err, "编码交易包失败")
	}

	// 签名授权一旦发起即不可取消，链上提交不可逆。
	if e.signer != nil {
		if err := e.signer.Authorize(ctx, wallet, calls); err != nil {
			return ExecutionResult{ErrorKind: ErrorKindSigning},
				xerrors.Wrap(xerrors.CodeSigningRejected, err, "钱包签名被拒绝")
		}
	}

	txHash, err := e.relay.SubmitBatch(ctx, wallet, calls)
	if err != nil {
		return ExecutionResult{ErrorKind: ErrorKindRelay},
			xerrors.Wrap(xerrors.CodeRelayFailure, err, "代付网关提交失败")
	}

	logger.Audit().Info("交易包提交成功",
		slog.String("wallet", wallet),
		slog.String("tx_hash", txHash),
		slog.Int("calls", len(calls)),
	)
	return ExecutionResult{TxHash: txHash, Succeeded: true}, nil
}
