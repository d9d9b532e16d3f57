package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"newscatcher/internal/api"
	"newscatcher/internal/collector"
	"newscatcher/internal/config"
	"newscatcher/internal/digest"
	"newscatcher/internal/notify"
	"newscatcher/internal/pipeline"
	"newscatcher/internal/scheduler"
	"newscatcher/internal/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "newscatcher",
	Short: "行业新闻捕捉器",
	Long:  "采集重点行业新闻与投融资事件，分类去重后生成摘要，定时推送到飞书群。",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(testFeishuCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(serveCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "执行一轮采集并推送",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, _, err := buildPipeline()
		if err != nil {
			return err
		}
		_, err = p.Run(cmd.Context())
		return err
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "只采集不推送，打印各话题结果",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, _, err := buildPipeline()
		if err != nil {
			return err
		}
		result, err := p.DryRun(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("抓取 %d 条，去重后 %d 条，未分类 %d 条\n\n",
			result.Stats.TotalFetched, result.Stats.AfterDedup, result.Stats.Unmatched)
		for _, tr := range result.Topics {
			fmt.Printf("== %s（%d 条新闻，%d 条投融资）==\n", tr.DisplayName, len(tr.Items), len(tr.Events))
			for _, evt := range tr.Events {
				fmt.Printf("  🔥 %s\n", evt.HighlightText())
			}
			for i, item := range tr.Items {
				fmt.Printf("  %d. %s  [%s]\n", i+1, item.Title, item.Source)
			}
			if tr.Digest != "" {
				fmt.Printf("  摘要:\n%s\n", tr.Digest)
			}
			fmt.Println()
		}
		return nil
	},
}

var testFeishuCmd = &cobra.Command{
	Use:   "test-feishu",
	Short: "发送一条飞书测试消息，验证 Webhook 配置",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, _, err := buildPipeline()
		if err != nil {
			return err
		}
		if err := p.TestDelivery(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("飞书测试消息发送成功")
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "按 cron 配置常驻运行，定时采集推送",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		p, _, err := buildPipelineWith(cfg)
		if err != nil {
			return err
		}

		s, err := scheduler.New(cfg.CronSpec, p)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		s.Start()
		log.Printf("schedule mode: cron=%q", cfg.CronSpec)

		waitForShutdown(cmd.Context())
		s.Stop()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "常驻运行：定时采集推送 + 管理 API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		p, store, err := buildPipelineWith(cfg)
		if err != nil {
			return err
		}

		s, err := scheduler.New(cfg.CronSpec, p)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		s.Start()
		defer s.Stop()

		r := gin.Default()
		apiServer := api.NewServer(store, p)
		apiServer.RegisterRoutes(r, cfg.BasicAuthUser, cfg.BasicAuthPass)

		addr := ":" + cfg.AppPort
		log.Printf("starting admin api at %s ...", addr)
		return r.Run(addr)
	},
}

func buildPipeline() (*pipeline.Pipeline, *storage.Store, error) {
	return buildPipelineWith(config.Load())
}

// buildPipelineWith 按配置组装全部组件。
// LLM、数据库、Redis 均为可选，未配置时对应能力自动关闭。
func buildPipelineWith(cfg *config.Config) (*pipeline.Pipeline, *storage.Store, error) {
	topicsFile, err := config.LoadTopics(cfg.TopicsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load topics: %w", err)
	}

	fetchers := []collector.Fetcher{
		&collector.BaiduNewsFetcher{Timeout: cfg.RequestTimeout},
		&collector.BingNewsFetcher{Timeout: cfg.RequestTimeout},
		&collector.SogouNewsFetcher{Timeout: cfg.RequestTimeout},
		&collector.RSSFetcher{Feeds: topicsFile.Feeds, Timeout: cfg.RequestTimeout},
		&collector.PedailyFetcher{Timeout: cfg.RequestTimeout},
	}
	coord := collector.NewCoordinator(fetchers, collector.Policy{
		SourceTimeout: cfg.SourceTimeout,
		GlobalTimeout: cfg.GlobalFetchTimeout,
		MaxParallel:   cfg.MaxParallelFetch,
	})

	var gen digest.Generator
	if cfg.LLMAPIKey != "" {
		gen = digest.NewLLMClient(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMAPIKey, 0)
	}
	builder := digest.NewBuilder(gen, cfg.MaxPerTopic)

	var notifier pipeline.Notifier
	if cfg.FeishuWebhookURL != "" {
		notifier = notify.NewNotifier(cfg.FeishuWebhookURL, cfg.FeishuWebhookSecret, cfg.RequestTimeout)
	} else {
		log.Println("warn: FEISHU_WEBHOOK_URL not set, delivery disabled")
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}

	p := pipeline.New(cfg, topicsFile.Topics, coord, builder, notifier,
		storage.NewFileBackup(cfg.BackupDir), store)
	return p, store, nil
}

func waitForShutdown(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down...")
}
