// =============================================================================
// 文件: internal/packet/packet.go
// 描述: 转发数据包 - ECN 码点与 aqm.Item 实现
// =============================================================================
package packet

import (
	"time"
)

// ECN IP 头中的 ECN 码点（RFC 3168）
type ECN uint8

const (
	NotECT ECN = 0x00
	ECT1   ECN = 0x01
	ECT0   ECN = 0x02
	CE     ECN = 0x03
)

// ECNMask TOS/Traffic Class 字节中 ECN 所在的低两位
const ECNMask = 0x03

func (e ECN) String() string {
	switch e {
	case NotECT:
		return "not-ect"
	case ECT1:
		return "ect1"
	case ECT0:
		return "ect0"
	case CE:
		return "ce"
	default:
		return "invalid"
	}
}

// Valid 是否为合法码点
func (e ECN) Valid() bool {
	return e <= CE
}

// FromTOS 从 TOS 字节提取 ECN
func FromTOS(tos byte) ECN {
	return ECN(tos & ECNMask)
}

// ParseECN 解析命令行/配置中的 ECN 名称
func ParseECN(s string) (ECN, bool) {
	switch s {
	case "not-ect", "notect", "none":
		return NotECT, true
	case "ect1", "ect(1)", "l4s":
		return ECT1, true
	case "ect0", "ect(0)", "classic":
		return ECT0, true
	case "ce":
		return CE, true
	default:
		return NotECT, false
	}
}

// Packet 一个待转发的数据帧
type Packet struct {
	FlowID uint32
	Seq    uint32
	ECN    ECN
	L4S    bool // 分类器结果

	// Frame 完整的线上帧，出队后按原样（或改写 ECN 后）发出
	Frame      []byte
	ReceivedAt time.Time

	marked bool

	enqueuedAt time.Time
	hasStamp   bool
}

// Size 帧字节数
func (p *Packet) Size() int {
	return len(p.Frame)
}

// IsL4S 分类结果
func (p *Packet) IsL4S() bool {
	return p.L4S
}

// MarkCE 设置 CE；帧内字节由转发层在发送前改写
func (p *Packet) MarkCE() {
	p.ECN = CE
	p.marked = true
}

// Marked 是否在队列中被标记
func (p *Packet) Marked() bool {
	return p.marked
}

// SetTimestamp 记录入队时间
func (p *Packet) SetTimestamp(t time.Time) {
	p.enqueuedAt = t
	p.hasStamp = true
}

// Timestamp 入队时间
func (p *Packet) Timestamp() (time.Time, bool) {
	return p.enqueuedAt, p.hasStamp
}

// ClearTimestamp 出队时清除
func (p *Packet) ClearTimestamp() {
	p.enqueuedAt = time.Time{}
	p.hasStamp = false
}
