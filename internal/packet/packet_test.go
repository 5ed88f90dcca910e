// =============================================================================
// 文件: internal/packet/packet_test.go
// =============================================================================
package packet

import (
	"testing"
	"time"

	"github.com/rathoresrikant/curvyred/internal/aqm"
)

var _ aqm.Item = (*Packet)(nil)

func TestFromTOS(t *testing.T) {
	tests := []struct {
		tos  byte
		want ECN
	}{
		{0x00, NotECT},
		{0xB9, ECT1}, // DSCP EF + ECT(1)
		{0x02, ECT0},
		{0xFF, CE},
	}
	for _, tt := range tests {
		if got := FromTOS(tt.tos); got != tt.want {
			t.Errorf("FromTOS(0x%02X) = %s, want %s", tt.tos, got, tt.want)
		}
	}
}

func TestParseECN(t *testing.T) {
	if e, ok := ParseECN("l4s"); !ok || e != ECT1 {
		t.Errorf("l4s 应解析为 ect1, got %s", e)
	}
	if e, ok := ParseECN("ect0"); !ok || e != ECT0 {
		t.Errorf("ect0 解析错误, got %s", e)
	}
	if _, ok := ParseECN("bogus"); ok {
		t.Error("未知名称应解析失败")
	}
	if ECN(7).Valid() {
		t.Error("7 不是合法码点")
	}
}

func TestPacketMarkCE(t *testing.T) {
	p := &Packet{ECN: ECT1, L4S: true, Frame: make([]byte, 100)}
	if p.Size() != 100 {
		t.Errorf("Size 应为 100, got %d", p.Size())
	}
	if p.Marked() {
		t.Error("初始不应被标记")
	}
	p.MarkCE()
	if !p.Marked() || p.ECN != CE {
		t.Errorf("标记后 ECN 应为 CE, got %s", p.ECN)
	}
}

func TestPacketTimestamp(t *testing.T) {
	p := &Packet{}
	if _, ok := p.Timestamp(); ok {
		t.Error("初始不应有时间戳")
	}

	now := time.Now()
	p.SetTimestamp(now)
	ts, ok := p.Timestamp()
	if !ok || !ts.Equal(now) {
		t.Error("时间戳读写不一致")
	}

	p.ClearTimestamp()
	if _, ok := p.Timestamp(); ok {
		t.Error("清除后不应有时间戳")
	}
}
