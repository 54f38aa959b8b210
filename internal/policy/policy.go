package policy

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "ChainPilot/internal/errors"
)

// Config 是进程级的安全策略：允许的目标合约、允许的方法名以及单笔
// 转账上限。启动时加载一次，运行期间不可变。
type Config struct {
	AllowedContracts     []string `yaml:"allowed_contracts"`
	AllowedMethods       []string `yaml:"allowed_methods"`
	MaxTransferAmount    string   `yaml:"max_transfer_amount"`
	DefaultTokenContract string   `yaml:"default_token_contract"`
	NativeSymbol         string   `yaml:"native_symbol"`
}

// Load 解析 YAML 策略文件并校验其完整性。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "策略文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取策略文件失败")
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析策略文件失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 在启动阶段对策略自身做完整性检查。
func (c *Config) Validate() error {
	if len(c.AllowedContracts) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "策略未配置任何允许的合约")
	}
	for _, contract := range c.AllowedContracts {
		if !common.IsHexAddress(contract) {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的合约地址: %s", contract))
		}
	}
	if len(c.AllowedMethods) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "策略未配置任何允许的方法")
	}
	if _, ok := parseAmount(c.MaxTransferAmount); !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的转账上限: %s", c.MaxTransferAmount))
	}
	if c.DefaultTokenContract != "" {
		if !common.IsHexAddress(c.DefaultTokenContract) {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的默认代币合约: %s", c.DefaultTokenContract))
		}
		// 默认代币合约与其它合约一样必须在允许名单内，便于统一审计。
		if !containsAddress(c.AllowedContracts, c.DefaultTokenContract) {
			return xerrors.New(xerrors.CodeInvalidArgument, "默认代币合约不在允许名单内")
		}
	}
	return nil
}

func containsAddress(list []string, address string) bool {
	for _, item := range list {
		if strings.EqualFold(item, address) {
			return true
		}
	}
	return false
}

// parseAmount 将十进制字符串解析为精确的有理数。
func parseAmount(value string) (*big.Rat, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "-") {
		return nil, false
	}
	amount, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, false
	}
	return amount, true
}
