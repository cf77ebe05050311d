package stream

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType 表示支付流生命周期事件的类型，与链上合约事件一一对应。
type EventType string

const (
	EventStreamOpened    EventType = "stream_opened"
	EventWithdrawn       EventType = "withdrawn"
	EventStreamCancelled EventType = "stream_cancelled"
	EventStreamExpired   EventType = "stream_expired"
)

// Event 描述一次支付流状态变化，投递到事件总线供下游
// （自动提取器、收件箱、仪表盘）消费。
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	// Amount 的含义随事件类型变化：开流时为流速，提取时为实付金额，
	// 取消/到期时为退款金额。
	Amount     *big.Int `json:"amount"`
	OccurredAt int64    `json:"occurred_at"`
}

// NewEvent 构造带唯一标识的事件。
func NewEvent(eventType EventType, sender, recipient common.Address, amount *big.Int) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Sender:     sender,
		Recipient:  recipient,
		Amount:     cloneAmount(amount),
		OccurredAt: time.Now().Unix(),
	}
}

// Encode 将事件序列化成队列载荷。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent 从队列载荷还原事件。
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, err
	}
	if event.Amount == nil {
		event.Amount = new(big.Int)
	}
	return event, nil
}
