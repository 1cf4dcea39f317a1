package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 基于 fsnotify 监听配置文件变更，仅将风险限额热更新
// 传递给回调；其余字段改动需要重启生效。
type Watcher struct {
	Path     string
	Cooldown time.Duration // suppresses editor double-writes
	Log      *zap.Logger
}

// Start blocks until ctx is cancelled, invoking onRisk with the freshly
// validated risk section after each change. Reload failures are logged and
// the previous configuration stays in force.
func (w Watcher) Start(ctx context.Context, onRisk func(RiskConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	// Watch the directory: editors replace files rather than write in place.
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}

	var lastReload time.Time
	target := filepath.Clean(w.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < w.Cooldown {
				continue
			}
			lastReload = time.Now()
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				log.Warn("config reload failed, keeping previous limits", zap.Error(err))
				continue
			}
			log.Info("risk limits reloaded",
				zap.Int("max_long", cfg.Risk.MaxLongExposure),
				zap.Int("max_short", cfg.Risk.MaxShortExposure))
			if onRisk != nil {
				onRisk(cfg.Risk)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
