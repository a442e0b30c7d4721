// Package workload drives a scheduler with synthetic frames backed by
// simulated buffers. It stands in for the camera stack when running
// against the software model.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// Errors
var (
	ErrUnknownFormat = errors.New("workload: unknown format")
	ErrOptions       = errors.New("workload: invalid options")
)

// tileEdge is the nominal tile width and height used to size tile counts.
const tileEdge = 512

// Options shape the generated frames. They can be loaded from a YAML
// scenario file.
type Options struct {
	Frames       int           `yaml:"frames"`        // frames per group
	Depth        int           `yaml:"depth"`         // frames kept queued per group
	Groups       int           `yaml:"groups"`        // groups to drive, 0 means all
	Width        uint32        `yaml:"width"`         // image width in pixels
	Height       uint32        `yaml:"height"`
	InputFormat  string        `yaml:"input_format"`  // FourCC of the main input
	OutputFormat string        `yaml:"output_format"` // FourCC of the main outputs
	DualOutput   bool          `yaml:"dual_output"`   // also write output1
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// DefaultOptions returns a small 1080p workload.
func DefaultOptions() Options {
	return Options{
		Frames:       100,
		Depth:        2,
		Width:        1920,
		Height:       1080,
		InputFormat:  "RG16",
		OutputFormat: "YU12",
		StopTimeout:  time.Second,
	}
}

// LoadOptions reads a scenario file on top of DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read scenario: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	return opts, nil
}

// Report summarises a run.
type Report struct {
	Groups    int
	Submitted int
	Completed int
	Failed    int
	Cancelled int
	BytesIn   uint64
	BytesOut  uint64
	Elapsed   time.Duration
}

// FPS is the completed frame rate over the whole run.
func (r Report) FPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Completed) / r.Elapsed.Seconds()
}

func (r Report) String() string {
	return fmt.Sprintf("%s frames over %d groups in %s (%.1f fps), %s failed, %s cancelled, in %s, out %s",
		humanize.Comma(int64(r.Completed)), r.Groups, r.Elapsed.Round(time.Millisecond), r.FPS(),
		humanize.Comma(int64(r.Failed)), humanize.Comma(int64(r.Cancelled)),
		humanize.IBytes(r.BytesIn), humanize.IBytes(r.BytesOut))
}

// Driver feeds frames into a scheduler. The scheduler's hardware must be
// serviced by someone else, usually the simulated engine plus Serve.
type Driver struct {
	s     *scheduler.Scheduler
	alloc *sim.Allocator
	opts  Options
	in    *format.NodeFormat
	out   *format.NodeFormat
	log   *slog.Logger
}

// New validates opts and prepares the node formats.
func New(s *scheduler.Scheduler, alloc *sim.Allocator, opts Options, logger *slog.Logger) (*Driver, error) {
	if opts.Frames <= 0 || opts.Width == 0 || opts.Height == 0 {
		return nil, fmt.Errorf("%w: frames=%d size=%dx%d", ErrOptions, opts.Frames, opts.Width, opts.Height)
	}
	if opts.Groups < 0 || opts.Groups > s.NumGroups() {
		return nil, fmt.Errorf("%w: groups=%d, scheduler has %d", ErrOptions, opts.Groups, s.NumGroups())
	}
	if opts.Groups == 0 {
		opts.Groups = s.NumGroups()
	}
	if opts.Depth <= 0 {
		opts.Depth = 1
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Second
	}

	in, ok := format.Lookup(opts.InputFormat)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.InputFormat)
	}
	out, ok := format.Lookup(opts.OutputFormat)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.OutputFormat)
	}

	return &Driver{
		s:     s,
		alloc: alloc,
		opts:  opts,
		in:    format.NewNodeFormat(in, opts.Width, opts.Height, format.DefaultStride(in, opts.Width)),
		out:   format.NewNodeFormat(out, opts.Width, opts.Height, format.DefaultStride(out, opts.Width)),
		log:   logging.For(logger, logging.ComponentSim),
	}, nil
}

// samplingFlags derives the chroma subsampling flags from the plane
// factors of f.
func samplingFlags(f *format.Format) uint32 {
	switch {
	case f.PlaneFactor[1] == 2, f.PlaneFactor[1] == 4 && f.PlaneFactor[2] == 0:
		return jobconfig.ImageFormatSampling420
	case f.PlaneFactor[1] == 4:
		return jobconfig.ImageFormatSampling422
	}
	return 0
}

func (d *Driver) outputs() []types.NodeID {
	if d.opts.DualOutput {
		return []types.NodeID{types.Output0, types.Output1}
	}
	return []types.NodeID{types.Output0}
}

func (d *Driver) nodes() []types.NodeID {
	return append([]types.NodeID{types.Config, types.MainInput}, d.outputs()...)
}

// Setup negotiates formats and starts streaming on every driven group.
func (d *Driver) Setup() error {
	for i := 0; i < d.opts.Groups; i++ {
		g := d.s.Group(i)
		if err := g.SetFormat(types.MainInput, d.in); err != nil {
			return err
		}
		for _, n := range d.outputs() {
			if err := g.SetFormat(n, d.out); err != nil {
				return err
			}
		}
		for _, n := range d.nodes() {
			if err := g.StartStreaming(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Teardown stops every driven node, cancelling what is still queued.
func (d *Driver) Teardown(ctx context.Context) error {
	var errs []error
	for i := 0; i < d.opts.Groups; i++ {
		g := d.s.Group(i)
		for _, n := range d.nodes() {
			if g.Streaming()&n.Bit() == 0 {
				continue
			}
			if err := g.StopStreaming(ctx, n); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) config() *jobconfig.TilesConfig {
	cfg := &jobconfig.TilesConfig{NumTiles: tiles(d.opts.Width, d.opts.Height)}

	bayer := jobconfig.BayerEnableInput | jobconfig.BayerEnableBLC | jobconfig.BayerEnableWBG |
		jobconfig.BayerEnableDemosaic
	rgb := jobconfig.RGBEnableCCM | jobconfig.RGBEnableYCbCr
	for i := range d.outputs() {
		rgb |= jobconfig.RGBEnableOutput(i)
		img := jobconfig.ImageFormat{
			Flags:  samplingFlags(d.out.Format),
			Stride: d.out.Planes[0].BytesPerLine,
			Height: d.opts.Height,
		}
		if len(d.out.Planes) > 1 {
			img.Stride2 = d.out.Planes[1].BytesPerLine
		} else if div := d.out.Format.ChromaStrideDiv; div > 0 {
			img.Stride2 = img.Stride / div
		}
		cfg.SetOutputFormat(i, img)
	}
	cfg.SetEnables(bayer, rgb)
	return cfg
}

// tiles covers the image with tileEdge squares, capped at the hardware
// limit.
func tiles(w, h uint32) uint32 {
	n := ((w + tileEdge - 1) / tileEdge) * ((h + tileEdge - 1) / tileEdge)
	if n > jobconfig.MaxTiles {
		n = jobconfig.MaxTiles
	}
	return n
}

type result struct {
	group int
	state types.BufferState
}

// submit queues one frame on g. The config buffer goes last so the job
// can form as soon as it arrives.
func (d *Driver) submit(g *scheduler.NodeGroup, results chan<- result, rep *Report) error {
	input := d.alloc.Alloc(d.in.NumPlanes(), uint64(d.in.Planes[0].SizeImage))
	if err := g.Queue(types.MainInput, input); err != nil {
		return err
	}
	rep.BytesIn += input.Size() * uint64(input.NumPlanes())

	for _, n := range d.outputs() {
		out := d.alloc.Alloc(d.out.NumPlanes(), uint64(d.out.Planes[0].SizeImage))
		if err := g.Queue(n, out); err != nil {
			return err
		}
		rep.BytesOut += out.Size() * uint64(out.NumPlanes())
	}

	cfg := d.alloc.Config(d.config())
	id := g.ID()
	cfg.OnDone(func(b *sim.Buffer) {
		results <- result{group: id, state: b.State()}
	})
	if err := g.Queue(types.Config, cfg); err != nil {
		return err
	}
	rep.Submitted++
	return nil
}

// Run sets the groups up, keeps Depth frames queued per group until
// Frames have been submitted, waits for them and tears down. A cancelled
// context ends the run early; the partial report is returned with the
// context error.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	rep := Report{Groups: d.opts.Groups}
	total := d.opts.Frames * d.opts.Groups
	results := make(chan result, total)

	if err := d.Setup(); err != nil {
		return rep, err
	}
	start := time.Now()

	submitted := make([]int, d.opts.Groups)
	for i := 0; i < d.opts.Groups; i++ {
		for submitted[i] < d.opts.Depth && submitted[i] < d.opts.Frames {
			if err := d.submit(d.s.Group(i), results, &rep); err != nil {
				return rep, err
			}
			submitted[i]++
		}
	}

	var runErr error
	for finished := 0; finished < total && runErr == nil; {
		select {
		case r := <-results:
			finished++
			d.record(&rep, r)
			if submitted[r.group] < d.opts.Frames {
				runErr = d.submit(d.s.Group(r.group), results, &rep)
				submitted[r.group]++
			}
		case <-ctx.Done():
			runErr = ctx.Err()
		}
	}
	rep.Elapsed = time.Since(start)

	stopCtx, cancel := context.WithTimeout(context.Background(), d.opts.StopTimeout)
	defer cancel()
	if err := d.Teardown(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	// Frames cancelled by the teardown report back synchronously.
	for len(results) > 0 {
		d.record(&rep, <-results)
	}

	d.log.Info("workload finished", "report", rep.String())
	return rep, runErr
}

func (d *Driver) record(rep *Report, r result) {
	switch r.state {
	case types.StateDone:
		rep.Completed++
	case types.StateError:
		rep.Failed++
	case types.StateCancelled:
		rep.Cancelled++
	}
}
