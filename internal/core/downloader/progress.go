package downloader

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const labelWidth = 28

// Progress receives download events. Implementations must be safe for
// concurrent use; several files may download at once.
type Progress interface {
	Start(label string, total int64)
	Add(label string, n int64)
	Finish(label string, err error)
}

// Display is a Progress that owns terminal output until Close returns.
type Display interface {
	Progress
	Close()
}

type NopProgress struct{}

func (NopProgress) Start(string, int64)  {}
func (NopProgress) Add(string, int64)    {}
func (NopProgress) Finish(string, error) {}
func (NopProgress) Close()               {}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewDisplay returns a bubbletea progress display when interactive is true and
// plain percentage lines otherwise.
func NewDisplay(w io.Writer, interactive bool) Display {
	if interactive {
		return newTUIDisplay(w)
	}
	return newPlainDisplay(w)
}

type progressWriter struct {
	progress Progress
	label    string
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.progress.Add(w.label, int64(len(p)))
	return len(p), nil
}

// fileState is the progress of one file.
type fileState struct {
	label   string
	current int64
	total   int64
	start   time.Time
	end     time.Time
	done    bool
	err     error
}

func (f fileState) speed() float64 {
	end := f.end
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(f.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(f.current) / elapsed
}

// downloadState holds the shared download state.
type downloadState struct {
	mu    sync.RWMutex
	files map[string]*fileState
	order []string
}

func newDownloadState() *downloadState {
	return &downloadState{files: make(map[string]*fileState)}
}

func (s *downloadState) start(label string, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[label]
	if !ok {
		f = &fileState{label: label}
		s.files[label] = f
		s.order = append(s.order, label)
	}
	// A retry restarts the count.
	f.current = 0
	f.total = total
	f.start = time.Now()
	f.done = false
	f.err = nil
}

func (s *downloadState) add(label string, n int64) (fileState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[label]
	if !ok {
		return fileState{}, false
	}
	f.current += n
	return *f, true
}

func (s *downloadState) finish(label string, err error) (fileState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[label]
	if !ok {
		f = &fileState{label: label, start: time.Now()}
		s.files[label] = f
		s.order = append(s.order, label)
	}
	f.done = true
	f.err = err
	f.end = time.Now()
	return *f, true
}

func (s *downloadState) snapshot() []fileState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fileState, 0, len(s.order))
	for _, label := range s.order {
		out = append(out, *s.files[label])
	}
	return out
}

// plainDisplay prints a line per file event and every 10% of progress.
type plainDisplay struct {
	w     io.Writer
	state *downloadState

	mu      sync.Mutex
	printed map[string]int64
}

func newPlainDisplay(w io.Writer) *plainDisplay {
	return &plainDisplay{w: w, state: newDownloadState(), printed: make(map[string]int64)}
}

func (p *plainDisplay) Start(label string, total int64) {
	p.state.start(label, total)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed[label] = 0
	if total > 0 {
		fmt.Fprintf(p.w, "  Downloading %s (%s)\n", label, formatBytes(total))
	} else {
		fmt.Fprintf(p.w, "  Downloading %s\n", label)
	}
}

func (p *plainDisplay) Add(label string, n int64) {
	f, ok := p.state.add(label, n)
	if !ok || f.total <= 0 {
		return
	}
	step := int64(float64(f.current) / float64(f.total) * 10)
	p.mu.Lock()
	defer p.mu.Unlock()
	if step > p.printed[label] && step < 10 {
		p.printed[label] = step
		fmt.Fprintf(p.w, "  %s: %d%% (%s / %s)\n", label, step*10, formatBytes(f.current), formatBytes(f.total))
	}
}

func (p *plainDisplay) Finish(label string, err error) {
	f, _ := p.state.finish(label, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fmt.Fprintf(p.w, "  ✗ %s: %v\n", label, err)
		return
	}
	fmt.Fprintf(p.w, "  ✓ %s: 100%% (%s in %s)\n", label, formatBytes(f.current), formatDuration(f.end.Sub(f.start)))
}

func (p *plainDisplay) Close() {}

// tickMsg triggers UI updates.
type tickMsg time.Time

// stopMsg asks the program to render a final frame and exit.
type stopMsg struct{}

// progressModel is the Bubble Tea model for download progress.
type progressModel struct {
	bar      progress.Model
	spinner  spinner.Model
	state    *downloadState
	quitting bool
}

func newProgressModel(state *downloadState) progressModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{bar: p, spinner: s, state: state}
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopMsg:
		m.quitting = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m progressModel) View() string {
	files := m.state.snapshot()

	var b strings.Builder
	b.WriteString("\n")
	if m.quitting {
		b.WriteString("  Model assets\n\n")
	} else {
		fmt.Fprintf(&b, "  %s Downloading model assets\n\n", m.spinner.View())
	}

	for _, f := range files {
		label := runewidth.FillRight(runewidth.Truncate(f.label, labelWidth, "…"), labelWidth)
		switch {
		case f.err != nil:
			fmt.Fprintf(&b, "  %s %s %v\n", errStyle.Render("✗"), label, f.err)
		case f.done:
			fmt.Fprintf(&b, "  %s %s %s in %s\n", doneStyle.Render("✓"), label,
				formatBytes(f.current), formatDuration(f.end.Sub(f.start)))
		default:
			var pct float64
			if f.total > 0 {
				pct = float64(f.current) / float64(f.total)
			}
			speed := f.speed()
			fmt.Fprintf(&b, "  %s %s %s %5.1f%%  %s / %s  %s/s  ETA %s\n",
				infoStyle.Render("↓"), label, m.bar.ViewAs(pct), pct*100,
				formatBytes(f.current), formatBytes(f.total),
				formatBytes(int64(speed)), calculateETA(f.total-f.current, speed))
		}
	}

	if !m.quitting {
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("  Press Ctrl+C to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func calculateETA(remaining int64, speed float64) string {
	if speed <= 0 || remaining < 0 {
		return "??:??"
	}
	eta := time.Duration(float64(remaining)/speed) * time.Second
	return formatDuration(eta)
}

// tuiDisplay renders progressModel until Close. Input and signal handling
// stay with the caller so Ctrl+C reaches the process context.
type tuiDisplay struct {
	state   *downloadState
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

func newTUIDisplay(w io.Writer) *tuiDisplay {
	state := newDownloadState()
	d := &tuiDisplay{
		state: state,
		program: tea.NewProgram(newProgressModel(state),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		_, _ = d.program.Run()
	}()
	return d
}

func (d *tuiDisplay) Start(label string, total int64) { d.state.start(label, total) }
func (d *tuiDisplay) Add(label string, n int64)       { d.state.add(label, n) }
func (d *tuiDisplay) Finish(label string, err error)  { d.state.finish(label, err) }

func (d *tuiDisplay) Close() {
	d.once.Do(func() {
		d.program.Send(stopMsg{})
		<-d.done
	})
}
