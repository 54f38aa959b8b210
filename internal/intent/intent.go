package intent

// Kind 表示一种链上操作意图，是封闭的枚举类型。
// 新增种类时必须同步更新 extractor 中的映射与 executor 中的编码逻辑。
type Kind string

const (
	KindTransfer       Kind = "transfer"
	KindTransferNative Kind = "transfer_native"
	KindApprove        Kind = "approve"
	KindMintNFT        Kind = "mint_nft"
	KindTransferNFT    Kind = "transfer_nft"
	KindCheckBalance   Kind = "check_balance"
)

// IsValidKind 检查给定的意图种类是否为支持的枚举值。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindTransfer, KindTransferNative, KindApprove, KindMintNFT, KindTransferNFT, KindCheckBalance:
		return true
	default:
		return false
	}
}

// Arg 是一个有序的命名参数。参数顺序与合约方法签名保持一致。
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Intent 描述一次期望执行的链上操作，与它在对话中的表达方式无关。
// Intent 是瞬态值对象：由 Extractor 产生，经 Validator 过滤，未通过校验即被丢弃。
type Intent struct {
	Kind     Kind   `json:"kind"`
	Contract string `json:"contract,omitempty"`
	Method   string `json:"method"`
	Args     []Arg  `json:"args"`
}

// Arg 按名称查找参数值，未找到时返回空字符串。
func (i Intent) Arg(name string) string {
	for _, arg := range i.Args {
		if arg.Name == name {
			return arg.Value
		}
	}
	return ""
}

// HasArg 判断指定名称的参数是否存在。
func (i Intent) HasArg(name string) bool {
	for _, arg := range i.Args {
		if arg.Name == name {
			return true
		}
	}
	return false
}

// Clone 返回意图的深拷贝，避免调用方修改共享切片。
func (i Intent) Clone() Intent {
	clone := i
	clone.Args = append([]Arg(nil), i.Args...)
	return clone
}

// CloneAll 深拷贝一组意图。
func CloneAll(intents []Intent) []Intent {
	if intents == nil {
		return nil
	}
	cloned := make([]Intent, len(intents))
	for idx, item := range intents {
		cloned[idx] = item.Clone()
	}
	return cloned
}
