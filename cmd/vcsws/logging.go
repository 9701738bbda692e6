package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/utils"
)

const logFileName = "vcsws.log"

var closeProjectLog = func() {}

// attachProjectLog tees the default logger into <project>/.vcsws/logs/vcsws.log.
func attachProjectLog(p *project.Project) error {
	if err := utils.EnsureDir(p.LogsDir()); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(p.LogsDir(), logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	handlers := []slog.Handler{fileHandler}
	if stdoutHandler != nil {
		handlers = append([]slog.Handler{stdoutHandler}, handlers...)
	}
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))

	closeProjectLog = func() {
		if stdoutHandler != nil {
			slog.SetDefault(slog.New(stdoutHandler))
		}
		logInterceptor.Close()
		file.Close()
		closeProjectLog = func() {}
	}
	return nil
}
