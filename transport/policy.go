package transport

import "math/rand/v2"

// RevertPolicy 决定代理模式下何时回到直连
//
// streak 是代理模式下失败计数为 0 时连续成功的次数，回退后清零。
type RevertPolicy interface {
	ShouldRevert(streak int) bool
}

// RevertPolicyFunc 函数适配器
type RevertPolicyFunc func(streak int) bool

func (f RevertPolicyFunc) ShouldRevert(streak int) bool {
	return f(streak)
}

// EveryN 第 n 次连续成功时回退
func EveryN(n int) RevertPolicy {
	if n < 1 {
		n = 1
	}
	return RevertPolicyFunc(func(streak int) bool {
		return streak >= n
	})
}

// Probabilistic 每次成功以概率 p 回退
func Probabilistic(p float64) RevertPolicy {
	return RevertPolicyFunc(func(int) bool {
		return rand.Float64() < p
	})
}

// Never 永不自动回退
func Never() RevertPolicy {
	return RevertPolicyFunc(func(int) bool { return false })
}

func policyFromConfig(cfg *Config) RevertPolicy {
	if cfg.RevertProbability > 0 {
		return Probabilistic(cfg.RevertProbability)
	}
	return EveryN(cfg.RevertEvery)
}
