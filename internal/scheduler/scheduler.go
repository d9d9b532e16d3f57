// Package scheduler 按 cron 表达式定时驱动采集推送流程。
// 上一轮还没结束时跳过本次触发，避免重叠运行。
package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/robfig/cron/v3"

	"newscatcher/internal/pipeline"
)

type Scheduler struct {
	cron     *cron.Cron
	pipeline *pipeline.Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
}

// New 注册定时任务。spec 使用标准五段 cron 表达式，例如 "30 9 * * *"
func New(spec string, p *pipeline.Pipeline) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, pipeline: p, ctx: ctx, cancel: cancel}

	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("scheduler started")
}

// Stop 取消进行中任务的网络阶段，停止触发新任务并等待退出
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Println("scheduler stopped")
}

// RunOnce 对外暴露的单次执行入口，方便手动触发
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

// runOnce 重叠保护在 pipeline 的在途标记里，
// 上一轮（不论哪个入口触发）没结束时本次触发被跳过
func (s *Scheduler) runOnce() {
	log.Println("scheduled run starting")
	if _, err := s.pipeline.Run(s.ctx); err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			log.Println("scheduled run skipped: previous run still in flight")
			return
		}
		log.Printf("scheduled run failed: %v", err)
	}
}
