package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
)

// 编码调用所需的最小 ABI 片段。
const (
	erc20ABI = `[
		{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
	erc721ABI = `[
		{"name":"mint","type":"function","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
		{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
	]`
)

// tokenDecimals 是金额编码时的十进制精度。
const tokenDecimals = 18

var decimalsScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)

// Encoder 将意图编码为调用描述符。编码按意图种类穷举匹配，
// 不认识的种类是编程错误而不是运行时输入。
type Encoder struct {
	erc20  abi.ABI
	erc721 abi.ABI
}

// NewEncoder 解析内置 ABI 并创建编码器。
func NewEncoder() (*Encoder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	erc721, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-721 ABI 失败: %w", err)
	}
	return &Encoder{erc20: erc20, erc721: erc721}, nil
}

// Encode 把单个意图转换为 {to, data, value} 调用描述符。
func (e *Encoder) Encode(item intent.Intent) (CallDescriptor, error) {
	switch item.Kind {
	case intent.KindTransfer:
		to, err := parseAddress(item.Arg("to"))
		if err != nil {
			return CallDescriptor{}, err
		}
		amount, err := parseAmount(item.Arg("amount"))
		if err != nil {
			return CallDescriptor{}, err
		}
		data, err := e.erc20.Pack("transfer", to, amount)
		if err != nil {
			return CallDescriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 transfer 调用失败")
		}
		contract, err := parseAddress(item.Contract)
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: contract, Data: data, Value: big.NewInt(0)}, nil

	case intent.KindTransferNative:
		to, err := parseAddress(item.Arg("to"))
		if err != nil {
			return CallDescriptor{}, err
		}
		amount, err := parseAmount(item.Arg("amount"))
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: to, Value: amount}, nil

	case intent.KindApprove:
		spender, err := parseAddress(item.Arg("spender"))
		if err != nil {
			return CallDescriptor{}, err
		}
		amount, err := parseAmount(item.Arg("amount"))
		if err != nil {
			return CallDescriptor{}, err
		}
		data, err := e.erc20.Pack("approve", spender, amount)
		if err != nil {
			return CallDescriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 approve 调用失败")
		}
		contract, err := parseAddress(item.Contract)
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: contract, Data: data, Value: big.NewInt(0)}, nil

	case intent.KindMintNFT:
		to, err := parseAddress(item.Arg("to"))
		if err != nil {
			return CallDescriptor{}, err
		}
		tokenID, err := parseTokenID(item.Arg("token_id"))
		if err != nil {
			return CallDescriptor{}, err
		}
		data, err := e.erc721.Pack("mint", to, tokenID)
		if err != nil {
			return CallDescriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 mint 调用失败")
		}
		contract, err := parseAddress(item.Contract)
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: contract, Data: data, Value: big.NewInt(0)}, nil

	case intent.KindTransferNFT:
		from, err := parseAddress(item.Arg("from"))
		if err != nil {
			return CallDescriptor{}, err
		}
		to, err := parseAddress(item.Arg("to"))
		if err != nil {
			return CallDescriptor{}, err
		}
		tokenID, err := parseTokenID(item.Arg("token_id"))
		if err != nil {
			return CallDescriptor{}, err
		}
		data, err := e.erc721.Pack("transferFrom", from, to, tokenID)
		if err != nil {
			return CallDescriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 transferFrom 调用失败")
		}
		contract, err := parseAddress(item.Contract)
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: contract, Data: data, Value: big.NewInt(0)}, nil

	case intent.KindCheckBalance:
		account, err := parseAddress(item.Arg("account"))
		if err != nil {
			return CallDescriptor{}, err
		}
		data, err := e.erc20.Pack("balanceOf", account)
		if err != nil {
			return CallDescriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 balanceOf 调用失败")
		}
		contract, err := parseAddress(item.Contract)
		if err != nil {
			return CallDescriptor{}, err
		}
		return CallDescriptor{To: contract, Data: data, Value: big.NewInt(0)}, nil

	default:
		return CallDescriptor{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的意图种类: %s", item.Kind))
	}
}

// EncodeAll 按原始顺序编码整组意图，任何一条失败即整体失败。
func (e *Encoder) EncodeAll(intents []intent.Intent) ([]CallDescriptor, error) {
	calls := make([]CallDescriptor, 0, len(intents))
	for idx, item := range intents {
		call, err := e.Encode(item)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("第 %d 条意图编码失败", idx+1))
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的地址: %s", value))
	}
	return common.HexToAddress(value), nil
}

// parseAmount 将十进制金额字符串放大 18 位精度后取整。
func parseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	amount, ok := new(big.Rat).SetString(value)
	if !ok || amount.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的金额: %s", value))
	}
	scaled := new(big.Rat).Mul(amount, new(big.Rat).SetInt(decimalsScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

func parseTokenID(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	tokenID, ok := new(big.Int).SetString(value, 10)
	if !ok || tokenID.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的 token id: %s", value))
	}
	return tokenID, nil
}
