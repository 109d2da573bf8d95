package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
)

var (
	simulateCard    string
	simulateSet     string
	simulateFoil    bool
	simulateStart   float64
	simulateCurrent float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格变动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCard == "" || simulateSet == "" {
			return errors.New("--card 与 --set 必须提供")
		}
		if simulateStart <= 0 || simulateCurrent <= 0 {
			return errors.New("--start 与 --current 必须大于 0")
		}

		id := card.Identity{Name: simulateCard, SetCode: simulateSet, Foil: simulateFoil}
		start := decimal.NewFromFloat(simulateStart)
		current := decimal.NewFromFloat(simulateCurrent)
		return getApp().SimulateAlert(cmd.Context(), id, start, current)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCard, "card", "", "卡牌名称")
	simulateCmd.Flags().StringVar(&simulateSet, "set", "", "系列代码")
	simulateCmd.Flags().BoolVar(&simulateFoil, "foil", false, "是否闪卡")
	simulateCmd.Flags().Float64Var(&simulateStart, "start", 0, "起始价格")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前价格")
}
