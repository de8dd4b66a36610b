package spinner

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Spinner shows an animated progress line with the elapsed time while a
// grid is being generated. It draws nothing unless the writer is a terminal.
type Spinner struct {
	writer  io.Writer
	enabled bool
	frames  []string

	mu      sync.Mutex
	message string
	started time.Time
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWithWriter creates a spinner writing to w
func NewWithWriter(w io.Writer, message string) *Spinner {
	return &Spinner{
		writer:  w,
		enabled: isTerminal(w),
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins the animation
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.done != nil {
		return
	}
	s.started = time.Now()
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.run(s.done)
}

func (s *Spinner) run(done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprintf(s.writer, "\r\033[K%s %s (%s)", s.frames[frame], s.message, time.Since(s.started).Truncate(time.Second))
			s.mu.Unlock()
			frame = (frame + 1) % len(s.frames)
		}
	}
}

// Stop halts the animation and clears the line
func (s *Spinner) Stop() {
	s.StopWithMessage("")
}

// StopWithMessage halts the animation and prints a final message, if any
func (s *Spinner) StopWithMessage(message string) {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
		s.wg.Wait()
		fmt.Fprint(s.writer, "\r\033[K")
	}
	if message != "" && s.enabled {
		fmt.Fprintln(s.writer, message)
	}
}
