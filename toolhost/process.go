package toolhost

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/effective-security/xlog"
)

// process is a spawned tool host speaking MCP over its stdin/stdout
type process struct {
	cmd    *exec.Cmd
	tr     *stdio.Transport
	exited chan struct{}
	err    error
}

func startProcess(loc *Locator, o *options) (*process, error) {
	cmd := exec.Command(loc.Command, loc.Args...)
	cmd.Env = append(os.Environ(), o.env...)
	cmd.Dir = o.dir
	cmd.Stderr = &stderrLogger{host: filepathBase(loc)}
	cmd.WaitDelay = o.closeGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	if err = cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", loc.Command)
	}

	p := &process{
		cmd:    cmd,
		tr:     stdio.New(stdout, stdin),
		exited: make(chan struct{}),
	}

	logger.KV(xlog.DEBUG,
		"status", "spawned",
		"command", loc.Command,
		"args", loc.Args,
		"pid", cmd.Process.Pid,
	)

	go func() {
		// stdout must be drained before Wait closes it
		<-p.tr.Done()
		p.err = cmd.Wait()
		logger.KV(xlog.DEBUG,
			"status", "exited",
			"pid", cmd.Process.Pid,
			"state", cmd.ProcessState.String(),
		)
		close(p.exited)
	}()
	return p, nil
}

// stop closes the pipes, waits for the process to exit and kills it after grace
func (p *process) stop(grace time.Duration) error {
	_ = p.tr.Close()

	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
	}

	logger.KV(xlog.WARNING,
		"status", "kill",
		"pid", p.cmd.Process.Pid,
		"grace", grace.String(),
	)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "failed to kill tool host")
	}

	select {
	case <-p.exited:
	case <-time.After(grace):
		return errors.New("tool host did not exit")
	}
	return nil
}

func filepathBase(loc *Locator) string {
	if len(loc.Args) > 0 && loc.Kind != KindStdio {
		name := loc.Args[0]
		if i := strings.LastIndexAny(name, `/\`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return loc.Command
}

// stderrLogger writes each line of the host diagnostics to the log
type stderrLogger struct {
	host string
	lock sync.Mutex
	buf  bytes.Buffer
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line stays buffered
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			logger.KV(xlog.INFO, "host", w.host, "stderr", line)
		}
	}
	return len(p), nil
}
