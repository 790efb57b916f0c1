package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/alerting"
)

// SimulateAlert 通过配置的通道发送一条模拟的特殊卡牌通知，用于检查告警配置。
func (a *App) SimulateAlert(ctx context.Context, player string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if !a.Config.Alerting.Telegram.Enabled {
		return errors.New("未配置任何告警通道")
	}
	if !price.IsPositive() {
		return errors.New("price 必须大于 0")
	}

	note := alerting.Notification{
		Kind:    alerting.KindSpecialCard,
		Title:   "Simulated alert",
		CardID:  "simulated",
		Player:  player,
		Rarity:  "limited",
		Serial:  "1/1000",
		Price:   price,
		Message: "模拟通知，无需处理",
		At:      time.Now().UTC(),
	}
	if err := a.newNotifier().Notify(ctx, note); err != nil {
		return fmt.Errorf("send simulated alert: %w", err)
	}
	fmt.Fprintln(a.Out, "simulated alert sent")
	return nil
}
