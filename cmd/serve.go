package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/config"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/server"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/watcher"
)

type serveRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Archive   string    `json:"archive"`
	Watching  bool      `json:"watching"`
}

var (
	flagServeAddr         string
	flagServeWatch        bool
	flagServeDebounce     time.Duration
	flagServeDetach       bool
	flagServePIDFile      string
	flagServeLogFile      string
	flagServeEventsBuffer int
	flagServeChild        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive over HTTP and optionally archive transcripts as they change",
	RunE:  runServe,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server process and rebuild status",
	RunE:  runServeStatus,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE:  runServeStop,
}

func init() {
	defaultPID := filepath.Join(config.CacheDir(), "jacques.pid")
	defaultLog := filepath.Join(config.CacheDir(), "jacques.log")

	serveCmd.PersistentFlags().StringVar(&flagServeAddr, "addr", "", "HTTP listen address (default from config)")
	serveCmd.PersistentFlags().StringVar(&flagServePIDFile, "pid-file", defaultPID, "PID file path")

	serveCmd.Flags().BoolVarP(&flagServeWatch, "watch", "w", false, "Archive conversations when their transcripts change")
	serveCmd.Flags().DurationVar(&flagServeDebounce, "debounce", watcher.DefaultDebounce, "Quiet period before a changed conversation is archived")
	serveCmd.Flags().StringVar(&flagServeLogFile, "log-file", defaultLog, "Log file path for detached mode")
	serveCmd.Flags().IntVar(&flagServeEventsBuffer, "events-buffer", 200, "Max in-memory rebuild events retained")
	serveCmd.Flags().BoolVar(&flagServeDetach, "detach", false, "Run the server as a background process")
	serveCmd.Flags().BoolVar(&flagServeChild, "child", false, "Internal: mark detached child process")
	_ = serveCmd.Flags().MarkHidden("child")

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func serveAddr() string {
	if flagServeAddr != "" {
		return flagServeAddr
	}
	return cfg.Server.Addr
}

func runServe(cmd *cobra.Command, _ []string) error {
	if flagServeDetach && flagServeChild {
		return errors.New("invalid serve launch mode")
	}
	if flagServeDetach {
		return startServeDetached()
	}
	return runServeForeground(cmd.Context())
}

func startServeDetached() error {
	if err := ensureServeNotRunning(flagServePIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagServePIDFile), 0o750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagServeLogFile), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	//nolint:gosec // log path is configured by the local user
	logf, err := os.OpenFile(flagServeLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	child := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	child.Stdout = logf
	child.Stderr = logf
	child.Stdin = nil
	child.Env = os.Environ()

	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached server: %w", err)
	}

	fmt.Printf("  Started server (pid %d)\n", child.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagServePIDFile)
	fmt.Printf("  API: http://%s/v1/projects\n", serveAddr())
	fmt.Printf("  Log: %s\n", flagServeLogFile)
	return nil
}

func runServeForeground(ctx context.Context) error {
	if err := ensureServeNotRunning(flagServePIDFile); err != nil {
		return err
	}

	lock, err := lockArchive()
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	proc, err := newProcessor()
	if err != nil {
		return err
	}
	ledger := openLedger()
	defer closeLedger(ledger)

	if err := os.MkdirAll(filepath.Dir(flagServePIDFile), 0o750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	pid := os.Getpid()
	if err := writePID(flagServePIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagServePIDFile) }()

	addr := serveAddr()
	state := serveRuntimeState{
		PID:       pid,
		Addr:      addr,
		StartedAt: time.Now(),
		Archive:   proc.Index.Root(),
		Watching:  flagServeWatch,
	}
	if err := writeState(statePath(flagServePIDFile), state); err != nil {
		log.Debug().Err(err).Msg("writing server state")
	}
	defer func() { _ = os.Remove(statePath(flagServePIDFile)) }()

	srv := server.New(server.Config{
		Addr:             addr,
		ClaudeDir:        claudeDir(),
		IncludeSubagents: cfg.General.IncludeSubagents,
		Rebuild:          rebuildOptions("", ledger),
		EventsBuffer:     flagServeEventsBuffer,
	}, proc, ledger)

	fmt.Printf("  jacques listening on http://%s\n", addr)
	fmt.Printf("  Archive: %s\n", proc.Index.Root())
	fmt.Printf("  Stop with: jacques serve stop --pid-file %s\n", flagServePIDFile)

	var wt *watcher.Watcher
	if flagServeWatch {
		wt, err = watcher.New(claudeDir(), cfg.General.IncludeSubagents, flagServeDebounce,
			func(ctx context.Context, conv source.Conversation) error {
				// Wait for a running rebuild rather than racing it.
				if srv.Status().Running {
					return watcher.ErrBusy
				}
				_, warnings, err := proc.Archive(ctx, conv, "", ledger)
				for _, msg := range warnings {
					log.Warn().Str("session", conv.SessionID).Msg(msg)
				}
				return err
			})
		if err != nil {
			return err
		}
		fmt.Printf("  Watching %s\n", source.ProjectsDir(claudeDir()))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if wt != nil {
		g.Go(func() error {
			return wt.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServeStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagServePIDFile)
	if err != nil {
		fmt.Printf("  Server: not running (pid file not found)\n")
		return nil
	}
	if !processAlive(pid) {
		fmt.Printf("  Server: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := serveAddr()
	st, err := readState(statePath(flagServePIDFile))
	if err == nil && st.Addr != "" {
		addr = st.Addr
	}

	const w = 12
	fmt.Println(cli.RenderKeyValue("PID", w, strconv.Itoa(pid)))
	fmt.Println(cli.RenderKeyValue("Address", w, "http://"+addr))
	if err == nil {
		fmt.Println(cli.RenderKeyValue("Archive", w, st.Archive))
		fmt.Println(cli.RenderKeyValue("Started", w, cli.FormatDateTime(st.StartedAt)))
		fmt.Println(cli.RenderKeyValue("Watching", w, strconv.FormatBool(st.Watching)))
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/rebuild") //nolint:noctx // short status check
	if err != nil {
		fmt.Println(cli.RenderKeyValue("API", w, fmt.Sprintf("unreachable (%v)", err)))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Println(cli.RenderKeyValue("API", w, fmt.Sprintf("HTTP %d", resp.StatusCode)))
		return nil
	}

	var rs server.RebuildStatus
	if err := json.NewDecoder(resp.Body).Decode(&rs); err != nil {
		fmt.Println(cli.RenderKeyValue("API", w, fmt.Sprintf("malformed response (%v)", err)))
		return nil
	}

	switch {
	case rs.Running && rs.Progress != nil:
		fmt.Println(cli.RenderKeyValue("Rebuild", w, fmt.Sprintf("running %s/%s",
			formatNumber(int64(rs.Progress.Processed)), formatNumber(int64(rs.Progress.Total)))))
	case rs.Running:
		fmt.Println(cli.RenderKeyValue("Rebuild", w, "starting"))
	case rs.LastReport != nil:
		fmt.Println(cli.RenderKeyValue("Last run", w, fmt.Sprintf("%s  %s ok, %s failed",
			cli.RenderStatus(string(rs.LastReport.Status)),
			formatNumber(int64(rs.LastReport.Succeeded)),
			formatNumber(int64(rs.LastReport.Failed)))))
	default:
		fmt.Println(cli.RenderKeyValue("Rebuild", w, "idle"))
	}
	return nil
}

func runServeStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagServePIDFile)
	if err != nil {
		return errors.New("server is not running")
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find server process: %w", err)
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal server process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(flagServePIDFile)
			_ = os.Remove(statePath(flagServePIDFile))
			fmt.Printf("  Stopped server (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("server (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureServeNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if processAlive(pid) {
		return fmt.Errorf("server already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(statePath(pidFile))
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func statePath(pidFile string) string {
	return pidFile + ".json"
}

func writeState(path string, st serveRuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (serveRuntimeState, error) {
	var st serveRuntimeState
	//nolint:gosec // state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
