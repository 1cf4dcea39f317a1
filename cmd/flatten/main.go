// 一次性清仓工具：把账户所有持仓用市价单平掉。
// 交易主程序异常退出后手动兜底用。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"etf-arb-go/config"
	"etf-arb-go/order"
	"etf-arb-go/venue"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dry", false, "只打印将要下的单，不真正提交")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	client := &venue.Client{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     cfg.Venue.APIKey,
		HTTPClient: venue.NewDefaultHTTPClient(),
		Limiter:    venue.NewTokenBucketLimiter(cfg.Venue.RestRate, cfg.Venue.RestBurst),
		Currencies: cfg.Venue.Currencies,
	}

	etfSet := make(map[string]bool, len(cfg.Instruments.ETFs))
	for _, t := range cfg.Instruments.ETFs {
		etfSet[t] = true
	}
	sub := order.NewSubmitter(client, func(t string) bool { return etfSet[t] }, order.SubmitterConfig{
		Retry: order.RetryPolicy{
			MaxAttempts: cfg.Orders.MaxRetries,
			DefaultWait: time.Duration(cfg.Orders.RetryWaitMs) * time.Millisecond,
		},
		StockCap: cfg.Orders.StockOrderCap,
		ETFCap:   cfg.Orders.ETFOrderCap,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("🔸 查询当前持仓...")
	positions, err := client.Positions(ctx)
	if err != nil {
		log.Fatalf("查询持仓失败: %v", err)
	}

	flattened := 0
	for ticker, pos := range positions {
		if pos == 0 {
			continue
		}
		side := venue.Sell
		qty := pos
		if pos < 0 {
			side = venue.Buy
			qty = -pos
		}
		if *dryRun {
			fmt.Printf("  [dry] %s %s x%d\n", side, ticker, qty)
			continue
		}
		fmt.Printf("🔸 平仓 %s %s x%d...\n", side, ticker, qty)
		ids, err := sub.PlaceMarket(ctx, side, ticker, qty)
		if err != nil {
			log.Printf("平仓 %s 失败 (已提交 %d 笔): %v", ticker, len(ids), err)
			continue
		}
		flattened++
	}

	if *dryRun {
		return
	}
	if flattened == 0 {
		fmt.Println("✅ 没有持仓，无需平仓")
		return
	}

	// 稍等后复查，人工确认是否清干净。
	time.Sleep(3 * time.Second)
	final, err := client.Positions(ctx)
	if err != nil {
		log.Fatalf("复查持仓失败: %v", err)
	}
	fmt.Println("\n最终持仓:")
	clean := true
	for ticker, pos := range final {
		if pos != 0 {
			fmt.Printf("  %s: %d\n", ticker, pos)
			clean = false
		}
	}
	if clean {
		fmt.Println("✅ 全部平掉")
	}
}
