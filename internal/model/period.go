package model

import "fmt"

// Period 用户选择的历史窗口
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	Period3Months Period = "3months"
	Period6Months Period = "6months"
	PeriodYearly  Period = "yearly"
	PeriodMax     Period = "max"
)

const DefaultPeriod = PeriodDaily

// PeriodConfig 历史窗口对应的回看天数和名义 K 线间隔
type PeriodConfig struct {
	Period   Period `json:"period"`
	Days     string `json:"days"` // 天数或 "max"
	Interval string `json:"interval"`
}

var periodTable = map[Period]PeriodConfig{
	PeriodDaily:   {Period: PeriodDaily, Days: "1", Interval: "hourly"},
	PeriodWeekly:  {Period: PeriodWeekly, Days: "7", Interval: "daily"},
	PeriodMonthly: {Period: PeriodMonthly, Days: "30", Interval: "daily"},
	Period3Months: {Period: Period3Months, Days: "90", Interval: "daily"},
	Period6Months: {Period: Period6Months, Days: "180", Interval: "daily"},
	PeriodYearly:  {Period: PeriodYearly, Days: "365", Interval: "daily"},
	PeriodMax:     {Period: PeriodMax, Days: "max", Interval: "daily"},
}

// Periods 按窗口长度排列
var Periods = []Period{
	PeriodDaily, PeriodWeekly, PeriodMonthly, Period3Months, Period6Months, PeriodYearly, PeriodMax,
}

// LookupPeriod 返回窗口配置，未知窗口返回错误
func LookupPeriod(p Period) (PeriodConfig, error) {
	cfg, ok := periodTable[p]
	if !ok {
		return PeriodConfig{}, fmt.Errorf("unknown period %q", p)
	}
	return cfg, nil
}
