package view

import (
	"fmt"

	"crypto-live-dashboard/internal/model"
)

// FetchRequest 一次历史数据请求；结果返回时用 Seq 判断是否仍然有效
type FetchRequest struct {
	Seq    uint64
	Config model.PeriodConfig
}

// PeriodController 持有当前历史窗口和实时 K 线周期。
// 每次请求分配递增序号，只有最新序号的结果会被接受。
type PeriodController struct {
	current  model.Period
	seq      uint64
	pending  bool
	cadence  string
	cadences map[string]struct{}
}

func NewPeriodController(initial model.Period, cadence string, cadences []string) (*PeriodController, error) {
	if initial == "" {
		initial = model.DefaultPeriod
	}
	if _, err := model.LookupPeriod(initial); err != nil {
		return nil, err
	}

	p := &PeriodController{
		current:  initial,
		cadence:  cadence,
		cadences: make(map[string]struct{}, len(cadences)),
	}
	for _, c := range cadences {
		p.cadences[c] = struct{}{}
	}
	if cadence != "" && len(p.cadences) > 0 {
		if _, ok := p.cadences[cadence]; !ok {
			return nil, fmt.Errorf("default cadence %q is not in the allowed list", cadence)
		}
	}
	return p, nil
}

func (p *PeriodController) Current() model.Period { return p.current }

func (p *PeriodController) Cadence() string { return p.cadence }

// Loading 是否有尚未返回的当前请求
func (p *PeriodController) Loading() bool { return p.pending }

// Select 切换历史窗口。与当前窗口相同时 changed=false，不发起请求。
func (p *PeriodController) Select(period model.Period) (req FetchRequest, changed bool, err error) {
	cfg, err := model.LookupPeriod(period)
	if err != nil {
		return FetchRequest{}, false, err
	}
	if period == p.current {
		return FetchRequest{}, false, nil
	}
	p.current = period
	return p.issue(cfg), true, nil
}

// Refetch 为当前窗口发起新请求 (首次加载或重新绑定币种)
func (p *PeriodController) Refetch() FetchRequest {
	cfg, _ := model.LookupPeriod(p.current)
	return p.issue(cfg)
}

func (p *PeriodController) issue(cfg model.PeriodConfig) FetchRequest {
	p.seq++
	p.pending = true
	return FetchRequest{Seq: p.seq, Config: cfg}
}

// Accept 结果到达时调用；已被后续请求取代时返回 model.ErrAbandoned
func (p *PeriodController) Accept(seq uint64) error {
	if seq != p.seq {
		return model.ErrAbandoned
	}
	p.pending = false
	return nil
}

// Invalidate 使所有在途请求失效 (解绑币种)
func (p *PeriodController) Invalidate() {
	p.seq++
	p.pending = false
}

// SelectCadence 切换实时 K 线周期，不触发历史数据请求
func (p *PeriodController) SelectCadence(cadence string) (changed bool, err error) {
	if len(p.cadences) > 0 {
		if _, ok := p.cadences[cadence]; !ok {
			return false, fmt.Errorf("unsupported cadence %q", cadence)
		}
	}
	if cadence == p.cadence {
		return false, nil
	}
	p.cadence = cadence
	return true, nil
}
