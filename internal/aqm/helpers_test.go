// =============================================================================
// 文件: internal/aqm/helpers_test.go
// 描述: 测试辅助 - 测试用数据包与脚本化随机源
// =============================================================================
package aqm

import (
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"
)

// testItem 测试用数据包
type testItem struct {
	id    int
	size  int
	l4s   bool
	ce    bool
	ts    time.Time
	hasTS bool
}

func newClassic(id, size int) *testItem { return &testItem{id: id, size: size} }
func newL4S(id, size int) *testItem { return &testItem{id: id, size: size, l4s: true} }

func (p *testItem) Size() int { return p.size }
func (p *testItem) IsL4S() bool { return p.l4s }
func (p *testItem) MarkCE() { p.ce = true }
func (p *testItem) ClearTimestamp() {
	p.ts = time.Time{}
	p.hasTS = false
}
func (p *testItem) SetTimestamp(t time.Time) {
	p.ts = t
	p.hasTS = true
}
func (p *testItem) Timestamp() (time.Time, bool) { return p.ts, p.hasTS }

// scriptedSource 按顺序返回预设样本，耗尽后重复最后一个
type scriptedSource struct {
	draws []float64
	calls int
}

func (s *scriptedSource) Float64() float64 {
	if len(s.draws) == 0 {
		return 0
	}
	i := s.calls
	if i >= len(s.draws) {
		i = len(s.draws) - 1
	}
	s.calls++
	return s.draws[i]
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestQueue 使用假时钟与脚本化随机源构造 DualQ
func newTestQueue(t *testing.T, params Params, draws ...float64) (*DualQ, *testclock.FakeClock, *scriptedSource) {
	t.Helper()
	clk := testclock.NewFakeClock(testEpoch)
	src := &scriptedSource{draws: draws}
	q, err := New(params, WithClock(clk), WithDrawSource(src))
	if err != nil {
		t.Fatalf("创建 DualQ 失败: %v", err)
	}
	return q, clk, src
}
