// =============================================================================
// 文件: internal/aqm/curvy.go
// 描述: Curvy RED 随机判定 - 以 n 个均匀样本的最大值作为比较基准
// =============================================================================
package aqm

// Curvy 曲线化概率判定
//
// 比较 p 与 n 个均匀样本的最大值，接受率为 p^n（p 位于 [0,1] 时），
// 低拥塞时更温和，高拥塞时更陡峭。
type Curvy struct {
	src DrawSource
}

// NewCurvy 创建判定器
func NewCurvy(src DrawSource) *Curvy {
	return &Curvy{src: src}
}

// MaxOfDraws 返回 n 个样本的最大值，n<=0 时为 0
func (c *Curvy) MaxOfDraws(n int) float64 {
	maxRand := 0.0
	for i := 0; i < n; i++ {
		if r := c.src.Float64(); r > maxRand {
			maxRand = r
		}
	}
	return maxRand
}

// Decide p 大于 n 个样本最大值时返回 true
func (c *Curvy) Decide(p float64, n int) bool {
	return p > c.MaxOfDraws(n)
}

// Source 当前随机源
func (c *Curvy) Source() DrawSource {
	return c.src
}
