package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"market-board-go/config"
	"market-board-go/gateway"
	"market-board-go/market"
)

// feed_tail 直接订阅行情推送并逐条打印，便于排查接入问题。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbols := flag.String("symbols", "", "可选：覆盖配置中的品种，逗号分隔")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	syms := cfg.Symbols
	if *symbols != "" {
		syms = config.NormalizeSymbols(strings.Split(*symbols, ","))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := gateway.NewFeedClient(cfg.Feed.Endpoint, cfg.Feed.AccessKey)
	sub, err := client.Subscribe(ctx, syms)
	if err != nil {
		log.Fatalf("订阅失败: %v", err)
	}
	defer sub.Close()
	log.Printf("subscribed %v", syms)

	svc := market.NewService(nil)
	handler := &gateway.FeedHandler{
		Svc: svc,
		OnApplied: func(rec market.Record, _ int) {
			fmt.Printf("%-10s bid=%s high=%s low=%s status=%s change=%s\n",
				rec.Symbol, show(rec.Bid.Valid, rec.Bid.Decimal.String()),
				show(rec.High.Valid, rec.High.Decimal.String()),
				show(rec.Low.Valid, rec.Low.Decimal.String()),
				show(rec.Status() != "", rec.Status()), rec.BidChange)
		},
		OnMalformed: func(err error) { log.Printf("malformed: %v", err) },
		OnFeedError: func(msg string) { log.Printf("feed error: %s", msg) },
		OnLifecycle: func(kind gateway.FeedEventKind) { log.Printf("lifecycle: %s", kind) },
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				log.Printf("feed closed")
				return
			}
			handler.Handle(ev)
		}
	}
}

func show(ok bool, v string) string {
	if !ok {
		return "N/A"
	}
	return v
}
