package browseragent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"climbwall/utils"

	"github.com/hpcloud/tail"
	log "github.com/sirupsen/logrus"
)

const MissingLogMessage = "⚠️ log file does not exist!"

// LogTail Follows the agent log file and keeps its last lines
type LogTail struct {
	path  string
	mu    sync.Mutex
	lines *utils.Ring[string]
	t     *tail.Tail
	done  chan struct{}
}

// NewLogTail Start following path, the file may not exist yet
func NewLogTail(path string, lines int) (*LogTail, error) {
	if lines <= 0 {
		lines = 30
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}
	lt := &LogTail{
		path:  path,
		lines: utils.NewRing[string](lines),
		t:     t,
		done:  make(chan struct{}),
	}
	go lt.follow()
	return lt, nil
}

func (lt *LogTail) follow() {
	defer close(lt.done)
	for line := range lt.t.Lines {
		if line.Err != nil {
			log.Debug(fmt.Sprintf("Log tail of %s: %s", lt.path, line.Err.Error()))
			continue
		}
		lt.mu.Lock()
		lt.lines.Push(line.Text)
		lt.mu.Unlock()
	}
}

// Lines Last lines read so far, oldest first
func (lt *LogTail) Lines() []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.lines.Slice()
}

// Reset Forget the lines read so far, used when the log file is truncated for a new task
func (lt *LogTail) Reset() {
	lt.mu.Lock()
	lt.lines.Clear()
	lt.mu.Unlock()
}

// Markdown The last lines as a fenced block, or a warning when the file is missing
func (lt *LogTail) Markdown() string {
	if _, err := os.Stat(lt.path); errors.Is(err, os.ErrNotExist) {
		return MissingLogMessage
	}
	return "```\n" + strings.Join(lt.Lines(), "\n") + "\n```"
}

// Stop Stop following the file
func (lt *LogTail) Stop() error {
	err := lt.t.Stop()
	lt.t.Cleanup()
	<-lt.done
	return err
}
