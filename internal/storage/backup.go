package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"newscatcher/internal/pipeline"
)

// FileBackup 把每轮结果写成带时间戳的 JSON 文件，
// 未命中任何话题的原始条目也一并保留，便于事后排查关键词覆盖
type FileBackup struct {
	dir string
}

func NewFileBackup(dir string) *FileBackup {
	if dir == "" {
		dir = "data"
	}
	return &FileBackup{dir: dir}
}

// Write 落盘一轮结果，返回备份文件路径
func (b *FileBackup) Write(result *pipeline.RunResult) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup dir: %w", err)
	}

	name := "news_" + result.Timestamp.Format("20060102_150405") + ".json"
	path := filepath.Join(b.dir, name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return path, nil
}
