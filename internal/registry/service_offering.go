package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ServiceOffering 描述智能体在市场上挂牌的一项服务。
// 价格是 wei 级整数，按次计费；流式付费的速率由调用方
// 结合会话时长自行换算。
type ServiceOffering struct {
	Provider    common.Address `json:"provider"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	PriceWei    *big.Int       `json:"price_wei"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Clone 返回记录的深拷贝，金额字段独立复制。
func (o *ServiceOffering) Clone() *ServiceOffering {
	if o == nil {
		return nil
	}
	clone := *o
	if o.PriceWei != nil {
		clone.PriceWei = new(big.Int).Set(o.PriceWei)
	}
	return &clone
}
