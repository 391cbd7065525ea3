// Package shutdown turns termination signals into a single orderly
// shutdown, exiting with 128+signal when the shutdown routine fails.
package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Routine releases the process's resources
type Routine func() error

// Config holds trap dependencies. Notify, Stop and Exit default to
// signal.Notify, signal.Stop and os.Exit.
type Config struct {
	Logger  *slog.Logger
	Routine Routine
	Notify  func(c chan<- os.Signal, sig ...os.Signal)
	Stop    func(c chan<- os.Signal)
	Exit    func(code int)
}

// Trap runs Routine at most once, on the first trapped signal
type Trap struct {
	logger  *slog.Logger
	routine Routine
	notify  func(c chan<- os.Signal, sig ...os.Signal)
	stop    func(c chan<- os.Signal)
	exit    func(code int)

	inProgress atomic.Bool
	done       chan struct{}

	mu    sync.Mutex
	chans []chan os.Signal
}

// NewTrap creates a trap with no signals registered
func NewTrap(cfg *Config) *Trap {
	t := &Trap{
		logger:  cfg.Logger,
		routine: cfg.Routine,
		notify:  cfg.Notify,
		stop:    cfg.Stop,
		exit:    cfg.Exit,
		done:    make(chan struct{}),
	}
	if t.notify == nil {
		t.notify = signal.Notify
	}
	if t.stop == nil {
		t.stop = signal.Stop
	}
	if t.exit == nil {
		t.exit = os.Exit
	}
	return t
}

// ExitCode is the conventional exit status for a process ended by sig
func ExitCode(sig syscall.Signal) int {
	return 128 + int(sig)
}

// TrapDefaults registers SIGINT, SIGQUIT and SIGTERM
func (t *Trap) TrapDefaults() {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM} {
		t.Trap(sig, ExitCode(sig))
	}
}

// Trap registers sig independently of other signals. On delivery the
// shared routine runs; if it fails the process exits with exitCode.
func (t *Trap) Trap(sig os.Signal, exitCode int) {
	ch := make(chan os.Signal, 1)
	t.notify(ch, sig)

	t.mu.Lock()
	t.chans = append(t.chans, ch)
	t.mu.Unlock()

	go func() {
		for received := range ch {
			t.handle(received, exitCode)
		}
	}()
}

func (t *Trap) handle(sig os.Signal, exitCode int) {
	if !t.inProgress.CompareAndSwap(false, true) {
		t.logger.Warn("Shutdown already in progress, ignoring signal",
			slog.String("signal", sig.String()),
		)
		return
	}

	t.logger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	if err := t.routine(); err != nil {
		t.logger.Error("Shutdown failed",
			slog.String("signal", sig.String()),
			slog.Int("exit_code", exitCode),
			slog.Any("error", err),
		)
		t.exit(exitCode)
		return
	}

	t.logger.Info("Shutdown complete",
		slog.String("signal", sig.String()),
	)
	close(t.done)
}

// Done is closed after the routine has succeeded
func (t *Trap) Done() <-chan struct{} {
	return t.done
}

// Stop unregisters every trapped signal and ends the goroutines
// waiting on them
func (t *Trap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ch := range t.chans {
		t.stop(ch)
		close(ch)
	}
	t.chans = nil
}
