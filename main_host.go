// Command orion boots the kernel on the host and drives a synthetic
// workload through it: a handful of processes at different nice levels
// sharing the tick/yield loop, plus a message stream through one IPC
// port. With a window it draws per-thread runtime bars; headless it
// prints a status line per simulated second.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"orion/hal"
	"orion/internal/buildinfo"
	"orion/kernel"
	"orion/kernel/sched"
)

type headlessConfig struct {
	Enabled bool
	Hz      int
	Ticks   uint64
}

func main() {
	var cfg headlessConfig
	var nprocs int
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.IntVar(&nprocs, "procs", 5, "Number of synthetic processes to spawn.")
	flag.Parse()

	w, err := newWorkload(nprocs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runHeadless(ctx, w, cfg); err != nil && err != context.Canceled {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := runWindow(w); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// workload owns a booted kernel and the synthetic processes it drives.
type workload struct {
	sys   *kernel.System
	procs []*sched.Process
	port  uint64
	tick  uint64
	sent  uint64
	recvd uint64
	buf   [64]byte
}

// Nice levels chosen to make the weight spread visible in the bars.
var demoNices = []int{-10, -5, 0, 5, 10}

func newWorkload(n int) (*workload, error) {
	sys, err := kernel.New(hal.NewHost())
	if err != nil {
		return nil, err
	}
	w := &workload{sys: sys}
	for i := 0; i < n; i++ {
		p, err := sys.Spawn(uint64(0x1000+i), uint64(i), demoNices[i%len(demoNices)])
		if err != nil {
			return nil, err
		}
		w.procs = append(w.procs, p)
	}
	if len(w.procs) > 0 {
		w.port, err = sys.CreatePort(w.procs[0])
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

// step advances the kernel by one tick and runs one scheduling
// decision. Every fourth tick the running thread sends a small message
// to the shared port; the owning process drains it whenever it holds
// the CPU. Zero timeouts keep the loop from parking.
func (w *workload) step() error {
	w.sys.Tick()
	w.sys.Yield()
	w.tick++

	if w.port == 0 {
		return nil
	}
	if w.tick%4 == 0 {
		msg := fmt.Appendf(w.buf[:0], "tick %d", w.tick)
		if err := w.sys.IPC().Send(w.port, msg, 0); err == nil {
			w.sent++
		}
	}
	if cur := w.sys.Sched().CurrentProcess(); cur == w.procs[0] {
		for {
			if _, err := w.sys.IPC().Receive(w.port, w.buf[:], 0); err != nil {
				break
			}
			w.recvd++
		}
	}
	return nil
}

func (w *workload) statusLine() string {
	st := w.sys.Snapshot()
	return fmt.Sprintf("tick=%d procs=%d threads=%d ports=%d sent=%d recvd=%d pool=%d",
		w.tick, st.Processes, st.Threads, st.ActivePorts, w.sent, w.recvd, st.PoolFreePages)
}

func runHeadless(ctx context.Context, w *workload, cfg headlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := w.step(); err != nil {
				return err
			}
			if w.tick%uint64(cfg.Hz) == 0 {
				fmt.Fprintln(os.Stderr, w.statusLine())
			}
			if cfg.Ticks > 0 && w.tick >= cfg.Ticks {
				return nil
			}
		}
	}
}

const (
	screenW = 480
	screenH = 320
	rowH    = 28
)

func runWindow(w *workload) error {
	g := &monitorGame{w: w}
	ebiten.SetWindowTitle("Orion (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(screenW*2, screenH*2)
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type monitorGame struct {
	w *workload
}

func (g *monitorGame) Update() error {
	return g.w.step()
}

func (g *monitorGame) Draw(screen *ebiten.Image) {
	ebitenutil.DebugPrintAt(screen, g.w.statusLine(), 8, 4)

	var max uint64 = 1
	for _, p := range g.w.procs {
		if t := p.Main(); t != nil && t.Runtime() > max {
			max = t.Runtime()
		}
	}
	for i, p := range g.w.procs {
		t := p.Main()
		if t == nil {
			continue
		}
		y := 24 + i*rowH
		bw := float32(t.Runtime()) / float32(max) * (screenW - 160)
		vector.DrawFilledRect(screen, 120, float32(y), bw, rowH-10, barColor(t.Nice()), false)
		label := fmt.Sprintf("pid %d nice %+d %s", p.PID, t.Nice(), t.State())
		ebitenutil.DebugPrintAt(screen, label, 8, y)
	}
}

func (g *monitorGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenW, screenH
}

func barColor(nice int) color.Color {
	switch {
	case nice < 0:
		return color.RGBA{0xE0, 0x60, 0x40, 0xFF}
	case nice > 0:
		return color.RGBA{0x40, 0x80, 0xE0, 0xFF}
	default:
		return color.RGBA{0x60, 0xC0, 0x60, 0xFF}
	}
}
