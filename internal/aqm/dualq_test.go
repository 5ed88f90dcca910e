// =============================================================================
// 文件: internal/aqm/dualq_test.go
// 描述: DualQ 调度核心测试
// =============================================================================
package aqm

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewDualQ(t *testing.T) {
	q, err := New(DefaultParams())
	if err != nil {
		t.Fatalf("默认参数应可用: %v", err)
	}
	if q.Mode() != ModePackets {
		t.Errorf("默认模式应为 packets, got %s", q.Mode())
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("空队列出队应返回 false")
	}
	if _, ok := q.Peek(); ok {
		t.Error("空队列 Peek 应返回 false")
	}

	var _ QueueDisc = q
}

func TestNewDualQInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"零上限", func(p *Params) { p.QueueLimit = 0 }},
		{"负曲率", func(p *Params) { p.Curviness = -1 }},
		{"负衰减指数", func(p *Params) { p.EMADecayExponent = -1 }},
		{"未知模式", func(p *Params) { p.Mode = Mode(9) }},
		{"NaN 指数", func(p *Params) { p.ClassicScalingExponent = math.NaN() }},
		{"无穷耦合", func(p *Params) { p.CouplingFactorExponent = math.Inf(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			if _, err := New(p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("应返回 ErrInvalidParams, got %v", err)
			}
		})
	}
}

// 场景 A: 上限 10 包，第 11 个包强制丢弃
func TestForcedDropAtLimit(t *testing.T) {
	p := DefaultParams()
	p.QueueLimit = 10

	var dropped []DropReason
	q, err := New(p, WithHooks(Hooks{
		OnDrop: func(_ Item, r DropReason) { dropped = append(dropped, r) },
	}))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if !q.Enqueue(newClassic(i, 1000)) {
			t.Fatalf("第 %d 个包应被接受", i)
		}
	}

	extra := newClassic(10, 1000)
	if q.Enqueue(extra) {
		t.Error("第 11 个包应被拒绝")
	}
	if _, ok := extra.Timestamp(); ok {
		t.Error("被强制丢弃的包不应写入时间戳")
	}
	if got := q.Stats().ForcedDrop; got != 1 {
		t.Errorf("ForcedDrop 应为 1, got %d", got)
	}
	if got := q.QueueSize(); got != 10 {
		t.Errorf("占用应保持 10, got %d", got)
	}
	if len(dropped) != 1 || dropped[0] != DropForced {
		t.Errorf("OnDrop 应以 forced 调用一次, got %v", dropped)
	}
}

func TestForcedDropBytesMode(t *testing.T) {
	p := DefaultParams()
	p.Mode = ModeBytes
	p.QueueLimit = 3000

	q, _, _ := newTestQueue(t, p)
	if !q.Enqueue(newClassic(0, 2000)) {
		t.Fatal("第一个包应被接受")
	}
	if q.Enqueue(newL4S(1, 1001)) {
		t.Error("超出字节上限应被拒绝")
	}
	if !q.Enqueue(newL4S(2, 1000)) {
		t.Error("恰好达到字节上限应被接受")
	}
	if got := q.QueueSize(); got != 3000 {
		t.Errorf("字节占用应为 3000, got %d", got)
	}
}

// 场景 B: 逗留时间为 0 的 Classic 包原样返回
func TestClassicZeroSojourn(t *testing.T) {
	q, _, src := newTestQueue(t, DefaultParams(), 0)

	pkt := newClassic(1, 1500)
	q.Enqueue(pkt)

	item, ok := q.Dequeue()
	if !ok || item != pkt {
		t.Fatal("应返回入队的包")
	}
	if pkt.ce {
		t.Error("不应被标记")
	}
	if q.ClassicDropProb() != 0 {
		t.Errorf("classicDropProb 应为 0, got %v", q.ClassicDropProb())
	}
	if q.Stats() != (Stats{}) {
		t.Errorf("统计应保持不变, got %+v", q.Stats())
	}
	if src.calls != 2 {
		t.Errorf("Classic 判定应消耗 2U=2 个样本, got %d", src.calls)
	}
}

// 场景 C: L4S 字节占用超过阈值时无视随机样本直接标记
func TestL4SByteThresholdMark(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultParams(), 0.999)

	var marked int
	q.hooks.OnMark = func(Item) { marked++ }

	pkt := newL4S(1, 4000)
	q.Enqueue(pkt)

	item, ok := q.Dequeue()
	if !ok || item != pkt {
		t.Fatal("应返回 L4S 包")
	}
	if !pkt.ce {
		t.Error("超过字节阈值应被标记 CE")
	}
	if got := q.Stats().UnforcedL4SMark; got != 1 {
		t.Errorf("UnforcedL4SMark 应为 1, got %d", got)
	}
	if marked != 1 {
		t.Errorf("OnMark 应调用一次, got %d", marked)
	}
}

// 场景 D: 前两次 Classic 判定丢包，第三个包返回
func TestClassicUnforcedDrops(t *testing.T) {
	// U=1，每次 Classic 判定消耗 2 个样本
	q, clk, _ := newTestQueue(t, DefaultParams(),
		0.0001, 0.0001,
		0.0001, 0.0001,
		0.9, 0.9,
	)

	var drops []int
	q.hooks.OnDrop = func(item Item, r DropReason) {
		if r != DropUnforcedClassic {
			t.Errorf("丢包原因应为 unforced_classic, got %s", r)
		}
		drops = append(drops, item.(*testItem).id)
	}

	pkts := []*testItem{newClassic(1, 1500), newClassic(2, 1500), newClassic(3, 1500)}
	for _, p := range pkts {
		q.Enqueue(p)
	}
	clk.Step(100 * time.Millisecond)

	item, ok := q.Dequeue()
	if !ok || item != pkts[2] {
		t.Fatalf("应返回第三个包, got %v", item)
	}
	if got := q.Stats().UnforcedClassicDrop; got != 2 {
		t.Errorf("UnforcedClassicDrop 应为 2, got %d", got)
	}
	if len(drops) != 2 || drops[0] != 1 || drops[1] != 2 {
		t.Errorf("应依次丢弃 1 和 2, got %v", drops)
	}
	if q.ClassicDropProb() <= 0 {
		t.Error("逗留时间非零时 classicDropProb 应大于 0")
	}
	if _, packets := q.Occupancy(); packets != 0 {
		t.Errorf("队列应为空, got %d", packets)
	}
	for _, p := range pkts {
		if _, ok := p.Timestamp(); ok {
			t.Errorf("包 %d 离开队列后时间戳应被清除", p.id)
		}
	}
}

func TestClassicDropsUntilEmpty(t *testing.T) {
	q, clk, _ := newTestQueue(t, DefaultParams(), 0)
	q.Enqueue(newClassic(1, 100))
	q.Enqueue(newClassic(2, 100))
	clk.Step(time.Second)

	// 所有样本为 0，任何正概率都会丢包
	if _, ok := q.Dequeue(); ok {
		t.Error("全部被丢弃时应返回 false")
	}
	if got := q.Stats().UnforcedClassicDrop; got != 2 {
		t.Errorf("UnforcedClassicDrop 应为 2, got %d", got)
	}
}

func TestL4SStrictPriority(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultParams(), 0.999)

	c1 := newClassic(1, 100)
	l1 := newL4S(2, 100)
	l2 := newL4S(3, 100)
	q.Enqueue(c1)
	q.Enqueue(l1)
	q.Enqueue(l2)

	if head, _ := q.Peek(); head != l1 {
		t.Error("Peek 应优先返回 L4S 队头")
	}

	want := []*testItem{l1, l2, c1}
	for i, w := range want {
		item, ok := q.Dequeue()
		if !ok || item != w {
			t.Fatalf("第 %d 次出队应为 %d", i, w.id)
		}
	}
}

func TestL4SCoupledMarking(t *testing.T) {
	// S_C=-1, k0=1 => S_L=0, pL = classic 逗留秒数
	q, clk, _ := newTestQueue(t, DefaultParams(), 0.5)

	q.Enqueue(newClassic(1, 100))
	q.Enqueue(newL4S(2, 100))
	clk.Step(time.Second)

	item, _ := q.Dequeue()
	if !item.(*testItem).ce {
		t.Error("Classic 逗留 1s 时 L4S 包应被标记")
	}
	if math.Abs(q.L4SDropProb()-1.0) > 1e-9 {
		t.Errorf("l4sDropProb 应为 1.0, got %v", q.L4SDropProb())
	}

	// Classic 未被取出，耦合不更新 EWMA
	if q.AverageClassicDelay() != 0 {
		t.Errorf("L4S 出队不应更新 Classic EWMA, got %v", q.AverageClassicDelay())
	}
	if _, packets := q.ClassOccupancy(ClassClassic); packets != 1 {
		t.Errorf("Classic 包应仍在队列中, got %d", packets)
	}
}

func TestL4SNoClassicNoMark(t *testing.T) {
	q, clk, _ := newTestQueue(t, DefaultParams(), 0)

	pkt := newL4S(1, 100)
	q.Enqueue(pkt)
	clk.Step(time.Second)

	q.Dequeue()
	if pkt.ce {
		t.Error("Classic 为空且未超阈值时不应标记")
	}
	if q.L4SDropProb() != 0 {
		t.Errorf("l4sDropProb 应为 0, got %v", q.L4SDropProb())
	}
}

func TestConfigureResetsState(t *testing.T) {
	q, clk, _ := newTestQueue(t, DefaultParams(), 0.9)

	q.Enqueue(newClassic(1, 100))
	q.Enqueue(newClassic(2, 100))
	clk.Step(50 * time.Millisecond)
	q.Dequeue()

	p := DefaultParams()
	p.QueueLimit = 1
	if err := q.Configure(p); err != nil {
		t.Fatal(err)
	}

	if q.Stats() != (Stats{}) {
		t.Errorf("重新配置后统计应清零, got %+v", q.Stats())
	}
	if q.AverageClassicDelay() != 0 || q.ClassicDropProb() != 0 {
		t.Error("重新配置后 EWMA 与概率应清零")
	}
	if q.QueueSize() != 1 {
		t.Errorf("已驻留的包应保留, got %d", q.QueueSize())
	}
	if q.Enqueue(newClassic(3, 100)) {
		t.Error("新上限已满时应拒绝")
	}

	bad := DefaultParams()
	bad.QueueLimit = 0
	if err := q.Configure(bad); err == nil {
		t.Error("无效参数应返回错误")
	}
	if q.Params().QueueLimit != 1 {
		t.Error("配置失败时不应修改参数")
	}
}

func TestAssignStreamsDeterministic(t *testing.T) {
	run := func() []bool {
		q, err := New(DefaultParams(), WithDrawSource(NewStream(99)))
		if err != nil {
			t.Fatal(err)
		}
		if n := q.AssignStreams(5); n != 1 {
			t.Errorf("应使用 1 个流, got %d", n)
		}
		out := make([]bool, 0, 200)
		for i := 0; i < 200; i++ {
			out = append(out, q.curvy.Decide(0.5, 1))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("相同流编号的判定序列应一致, 第 %d 个不同", i)
		}
	}
}

func TestGetStats(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultParams())
	q.Enqueue(newClassic(1, 100))
	q.Enqueue(newL4S(2, 200))

	stats := q.GetStats()
	if stats["packets"].(uint64) != 2 {
		t.Errorf("packets 应为 2, got %v", stats["packets"])
	}
	if stats["bytes"].(uint64) != 300 {
		t.Errorf("bytes 应为 300, got %v", stats["bytes"])
	}
	if stats["mode"].(string) != "packets" {
		t.Errorf("mode 应为 packets, got %v", stats["mode"])
	}
	if stats["unforced_classic_mark"].(uint64) != 0 {
		t.Error("Classic 标记未实现，应恒为 0")
	}
	if stats["classic_delay_samples"].(uint64) != 0 {
		t.Errorf("未出队时时延样本数应为 0, got %v", stats["classic_delay_samples"])
	}

	q.Dequeue() // L4S
	q.Dequeue() // Classic
	if got := q.GetStats()["classic_delay_samples"].(uint64); got != 1 {
		t.Errorf("只有 Classic 出队计入时延样本, got %d", got)
	}
}

// 入队写入的时间戳在出队时转化为逗留时间样本
func TestTimestampRoundTrip(t *testing.T) {
	const d = 37 * time.Millisecond

	tests := []struct {
		name  string
		decay float64
		want  time.Duration
	}{
		{"f_C=0 平均值等于样本", 0, d},
		{"f_C=5 平均值为样本的 1/32", 5, d / 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.EMADecayExponent = tt.decay
			q, clk, _ := newTestQueue(t, p, 0.999)

			pkt := newClassic(1, 100)
			q.Enqueue(pkt)
			if ts, ok := pkt.Timestamp(); !ok || !ts.Equal(testEpoch) {
				t.Fatalf("入队应写入当前时间, got %v %v", ts, ok)
			}

			clk.Step(d)
			item, ok := q.Dequeue()
			if !ok || item != pkt {
				t.Fatal("应返回入队的包")
			}

			diff := q.AverageClassicDelay() - tt.want
			if diff < -time.Microsecond || diff > time.Microsecond {
				t.Errorf("平均时延 = %v, want %v", q.AverageClassicDelay(), tt.want)
			}
			if _, ok := pkt.Timestamp(); ok {
				t.Error("出队后时间戳应被清除")
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"packets", ModePackets, false},
		{"", ModePackets, false},
		{" Bytes ", ModeBytes, false},
		{"byte", ModeBytes, false},
		{"frames", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err=%v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
