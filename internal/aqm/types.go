// =============================================================================
// 文件: internal/aqm/types.go
// 描述: DualQ Coupled AQM 类型定义
// =============================================================================
package aqm

import (
	"fmt"
	"strings"
	"time"
)

// QueueDisc 队列规程接口
type QueueDisc interface {
	Enqueue(item Item) bool
	Dequeue() (Item, bool)
	Peek() (Item, bool)
}

// Item 队列中的数据包抽象，由上游转发层提供
type Item interface {
	// Size 数据包字节数
	Size() int
	// IsL4S 是否为可扩展拥塞控制流量（外部分类结果）
	IsL4S() bool
	// MarkCE 设置拥塞经历标记
	MarkCE()

	// 时间戳槽位：入队时写入，出队时读取并清除，不向下游转发
	SetTimestamp(t time.Time)
	Timestamp() (time.Time, bool)
	ClearTimestamp()
}

// Class 子队列类别
type Class int

const (
	ClassClassic Class = iota
	ClassL4S
)

func (c Class) String() string {
	switch c {
	case ClassClassic:
		return "classic"
	case ClassL4S:
		return "l4s"
	default:
		return "unknown"
	}
}

// Mode 队列限制的计量方式
type Mode int

const (
	ModePackets Mode = iota
	ModeBytes
)

func (m Mode) String() string {
	switch m {
	case ModePackets:
		return "packets"
	case ModeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ParseMode 从配置文本解析模式
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "packets", "packet", "":
		return ModePackets, nil
	case "bytes", "byte":
		return ModeBytes, nil
	default:
		return 0, fmt.Errorf("未知的队列模式: %q", s)
	}
}

// DropReason 丢包原因
type DropReason int

const (
	// DropForced 共享容量耗尽（被动）
	DropForced DropReason = iota
	// DropUnforcedClassic Classic 概率丢包（主动）
	DropUnforcedClassic
)

func (r DropReason) String() string {
	switch r {
	case DropForced:
		return "forced"
	case DropUnforcedClassic:
		return "unforced_classic"
	default:
		return "unknown"
	}
}

// Stats DualQ 统计，单调递增，仅在重新配置时清零
type Stats struct {
	ForcedDrop          uint64 `json:"forced_drop"`           // 容量丢包: 被动
	UnforcedClassicDrop uint64 `json:"unforced_classic_drop"` // Classic 概率丢包: 主动
	UnforcedClassicMark uint64 `json:"unforced_classic_mark"` // Classic 概率标记: 未实现，恒为 0
	UnforcedL4SMark     uint64 `json:"unforced_l4s_mark"`     // L4S 概率标记: 主动
}

// Hooks 宿主可选的观察回调，在 DualQ 锁内调用，回调中不能再调用 DualQ
type Hooks struct {
	OnDrop func(item Item, reason DropReason)
	OnMark func(item Item)
}
