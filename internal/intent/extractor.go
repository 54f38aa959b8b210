package intent

import (
	"log/slog"
	"regexp"
	"strings"

	"ChainPilot/internal/assistant"
	"ChainPilot/pkg/logger"
)

// 自由文本回退匹配使用的模式。
var (
	amountPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([A-Za-z]{2,6})`)
	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
)

// Extractor 将助手输出转换为规范化的意图列表。
// 结构化工具调用优先；只有在完全没有工具调用时才会对自由文本做模式回退。
type Extractor struct {
	defaultContract string
	nativeSymbol    string
}

// NewExtractor 创建意图提取器。defaultContract 是自由文本回退时使用的
// 代币合约地址，来自策略配置；nativeSymbol 是原生币符号（如 ETH）。
func NewExtractor(defaultContract, nativeSymbol string) *Extractor {
	if strings.TrimSpace(nativeSymbol) == "" {
		nativeSymbol = "ETH"
	}
	return &Extractor{
		defaultContract: strings.TrimSpace(defaultContract),
		nativeSymbol:    strings.ToUpper(strings.TrimSpace(nativeSymbol)),
	}
}

// Extract 提取一轮对话产生的全部意图。wallet 用于补全助手未提供的
// from 类参数。提取是纯函数：没有副作用，失败的单个工具调用被跳过。
func (e *Extractor) Extract(calls []assistant.ToolCall, text, wallet string) []Intent {
	if len(calls) > 0 {
		return e.fromToolCalls(calls, wallet)
	}
	return e.fromText(text, wallet)
}

// fromToolCalls 将每个工具调用按名称映射为意图。未知名称静默跳过，
// 保证对助手词汇表扩充的前向兼容；缺少必填参数只丢弃该条调用。
func (e *Extractor) fromToolCalls(calls []assistant.ToolCall, wallet string) []Intent {
	intents := make([]Intent, 0, len(calls))
	for _, call := range calls {
		mapped, ok := e.mapToolCall(call, wallet)
		if !ok {
			continue
		}
		intents = append(intents, mapped)
	}
	return intents
}

func (e *Extractor) mapToolCall(call assistant.ToolCall, wallet string) (Intent, bool) {
	name := strings.ToLower(strings.TrimSpace(call.Name))
	args := call.Args
	if args == nil {
		args = map[string]string{}
	}

	switch name {
	case "transfer_token":
		contract, to, amount := args["contract_address"], args["to"], args["amount"]
		if contract == "" || to == "" || amount == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:     KindTransfer,
			Contract: contract,
			Method:   "transfer",
			Args:     []Arg{{Name: "to", Value: to}, {Name: "amount", Value: amount}},
		}, true
	case "transfer_native":
		to, amount := args["to"], args["amount"]
		if to == "" || amount == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:   KindTransferNative,
			Method: "transfer",
			Args:   []Arg{{Name: "to", Value: to}, {Name: "amount", Value: amount}},
		}, true
	case "approve_token":
		contract, spender, amount := args["contract_address"], args["spender"], args["amount"]
		if contract == "" || spender == "" || amount == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:     KindApprove,
			Contract: contract,
			Method:   "approve",
			Args:     []Arg{{Name: "spender", Value: spender}, {Name: "amount", Value: amount}},
		}, true
	case "mint_nft":
		contract, tokenID := args["contract_address"], args["token_id"]
		to := fallbackArg(args, "to", wallet)
		if contract == "" || tokenID == "" || to == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:     KindMintNFT,
			Contract: contract,
			Method:   "mint",
			Args:     []Arg{{Name: "to", Value: to}, {Name: "token_id", Value: tokenID}},
		}, true
	case "transfer_nft":
		contract, to, tokenID := args["contract_address"], args["to"], args["token_id"]
		from := fallbackArg(args, "from", wallet)
		if contract == "" || to == "" || tokenID == "" || from == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:     KindTransferNFT,
			Contract: contract,
			Method:   "transferFrom",
			Args: []Arg{
				{Name: "from", Value: from},
				{Name: "to", Value: to},
				{Name: "token_id", Value: tokenID},
			},
		}, true
	case "check_balance":
		contract := args["contract_address"]
		account := fallbackArg(args, "account", wallet)
		if contract == "" || account == "" {
			return dropMalformed(call)
		}
		return Intent{
			Kind:     KindCheckBalance,
			Contract: contract,
			Method:   "balanceOf",
			Args:     []Arg{{Name: "account", Value: account}},
		}, true
	default:
		logger.L().Debug("跳过未知的工具调用", slog.String("tool", call.Name))
		return Intent{}, false
	}
}

// fromText 对自由文本回复做意图形状的模式回退。只能识别最常见的
// 转账与授权表达，目标合约落到策略配置的默认代币合约上。
func (e *Extractor) fromText(text, wallet string) []Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	lowered := strings.ToLower(trimmed)

	var intents []Intent
	if strings.Contains(lowered, "transfer") || strings.Contains(lowered, "send") {
		if transfer, ok := e.matchTransfer(trimmed); ok {
			intents = append(intents, transfer)
		}
	}
	if len(intents) == 0 && strings.Contains(lowered, "approve") {
		amount := "0"
		if match := amountPattern.FindStringSubmatch(stripAddresses(trimmed)); match != nil {
			amount = match[1]
		}
		if e.defaultContract != "" && wallet != "" {
			intents = append(intents, Intent{
				Kind:     KindApprove,
				Contract: e.defaultContract,
				Method:   "approve",
				Args:     []Arg{{Name: "spender", Value: wallet}, {Name: "amount", Value: amount}},
			})
		}
	}
	return intents
}

func (e *Extractor) matchTransfer(text string) (Intent, bool) {
	address := addressPattern.FindString(text)
	match := amountPattern.FindStringSubmatch(stripAddresses(text))
	if match == nil || address == "" || e.defaultContract == "" {
		return Intent{}, false
	}
	amount, symbol := match[1], strings.ToUpper(match[2])

	kind := KindTransfer
	if symbol == e.nativeSymbol {
		kind = KindTransferNative
	}
	return Intent{
		Kind:     kind,
		Contract: e.defaultContract,
		Method:   "transfer",
		Args:     []Arg{{Name: "to", Value: address}, {Name: "amount", Value: amount}},
	}, true
}

// stripAddresses 在匹配金额前剔除文本中的地址字面量，防止把地址里的
// 十六进制字节误认成 "数字+符号" 形式的金额。
func stripAddresses(text string) string {
	return addressPattern.ReplaceAllString(text, " ")
}

func fallbackArg(args map[string]string, name, fallback string) string {
	if value := strings.TrimSpace(args[name]); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}

func dropMalformed(call assistant.ToolCall) (Intent, bool) {
	logger.L().Debug("丢弃缺少必填参数的工具调用", slog.String("tool", call.Name))
	return Intent{}, false
}
