package policy

import (
	"log/slog"
	"strings"

	"ChainPilot/internal/intent"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/pkg/logger"
)

// Validator 是管线的安全边界：对每个意图独立做允许名单与金额检查，
// 返回按原顺序保留的安全子集。校验是无状态的纯过滤，不会合成新意图，
// 也不访问网络，便于穷举式单元测试。
type Validator struct {
	cfg *Config
}

// NewValidator 基于已加载的策略配置创建校验器。
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Filter 返回通过全部检查的意图子集。未通过的意图被静默丢弃：
// 写入审计日志并计入指标，但不向对话层暴露错误。
func (v *Validator) Filter(intents []intent.Intent) []intent.Intent {
	if v == nil || v.cfg == nil || len(intents) == 0 {
		return nil
	}
	safe := make([]intent.Intent, 0, len(intents))
	for _, item := range intents {
		if reason, ok := v.check(item); !ok {
			metrics.ObserveIntentRejected(string(item.Kind), reason)
			logger.Audit().Warn("意图被策略拦截",
				slog.String("kind", string(item.Kind)),
				slog.String("contract", item.Contract),
				slog.String("method", item.Method),
				slog.String("reason", reason),
			)
			continue
		}
		safe = append(safe, item)
	}
	return safe
}

// check 依次执行三项检查，返回首个失败原因。
func (v *Validator) check(item intent.Intent) (string, bool) {
	if item.Contract != "" && !containsAddress(v.cfg.AllowedContracts, item.Contract) {
		return "contract_not_allowed", false
	}
	if !v.methodAllowed(item.Method) {
		return "method_not_allowed", false
	}
	if item.Kind == intent.KindTransfer || item.Kind == intent.KindTransferNative {
		if !v.amountWithinLimit(item.Arg("amount")) {
			return "amount_exceeds_limit", false
		}
	}
	return "", true
}

func (v *Validator) methodAllowed(method string) bool {
	for _, allowed := range v.cfg.AllowedMethods {
		if strings.EqualFold(allowed, method) {
			return true
		}
	}
	return false
}

// amountWithinLimit 以精确十进制比较金额与上限，不可解析的金额视为越限。
func (v *Validator) amountWithinLimit(amount string) bool {
	value, ok := parseAmount(amount)
	if !ok {
		return false
	}
	limit, ok := parseAmount(v.cfg.MaxTransferAmount)
	if !ok {
		return false
	}
	return value.Cmp(limit) <= 0
}
