package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/isp-scheduler/internal/config"
	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/server"
	"github.com/ChuLiYu/isp-scheduler/internal/workload"
)

func buildSimulateCommand() *cobra.Command {
	flagOpts := workload.DefaultOptions()
	var jobTime time.Duration
	var scenario string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic frames through the software model",
		Long: `Drive every node group with synthetic frames on simulated hardware and print a throughput report.
A --scenario file sets the workload; flags given on the command line override it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Device.Simulate = true
			if jobTime > 0 {
				cfg.Sim.JobTime = jobTime
			}

			opts := flagOpts
			if scenario != "" {
				if opts, err = workload.LoadOptions(scenario); err != nil {
					return err
				}
				overrideOptions(cmd.Flags(), &opts, flagOpts)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rep, err := simulate(ctx, cfg, opts)
			fmt.Fprintln(cmd.OutOrStdout(), rep.String())
			return err
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "YAML workload scenario file")
	cmd.Flags().IntVarP(&flagOpts.Frames, "frames", "n", flagOpts.Frames, "frames per node group")
	cmd.Flags().IntVar(&flagOpts.Depth, "depth", flagOpts.Depth, "frames kept queued per group")
	cmd.Flags().IntVar(&flagOpts.Groups, "groups", 0, "node groups to drive (0 = all)")
	cmd.Flags().Uint32Var(&flagOpts.Width, "width", flagOpts.Width, "image width")
	cmd.Flags().Uint32Var(&flagOpts.Height, "height", flagOpts.Height, "image height")
	cmd.Flags().StringVar(&flagOpts.InputFormat, "input-format", flagOpts.InputFormat, "main input FourCC")
	cmd.Flags().StringVar(&flagOpts.OutputFormat, "output-format", flagOpts.OutputFormat, "main output FourCC")
	cmd.Flags().BoolVar(&flagOpts.DualOutput, "dual-output", false, "also write output1")
	cmd.Flags().DurationVar(&jobTime, "job-time", 0, "simulated time per job (overrides sim.job_time)")

	return cmd
}

// overrideOptions copies the explicitly set flags from flagOpts into opts.
func overrideOptions(flags *pflag.FlagSet, opts *workload.Options, flagOpts workload.Options) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "frames":
			opts.Frames = flagOpts.Frames
		case "depth":
			opts.Depth = flagOpts.Depth
		case "groups":
			opts.Groups = flagOpts.Groups
		case "width":
			opts.Width = flagOpts.Width
		case "height":
			opts.Height = flagOpts.Height
		case "input-format":
			opts.InputFormat = flagOpts.InputFormat
		case "output-format":
			opts.OutputFormat = flagOpts.OutputFormat
		case "dual-output":
			opts.DualOutput = flagOpts.DualOutput
		}
	})
}

func simulate(ctx context.Context, cfg *config.Config, opts workload.Options) (workload.Report, error) {
	logger := newLogger(cfg)
	dev, err := openDevice(cfg, logger)
	if err != nil {
		return workload.Report{}, err
	}
	defer dev.close()

	s, err := newScheduler(cfg, dev, nil, logger)
	if err != nil {
		return workload.Report{}, err
	}
	d, err := workload.New(s, sim.NewAllocator(0), opts, logger)
	if err != nil {
		return workload.Report{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.Serve(runCtx, dev.irq) }()
	go dev.engine.Run(runCtx, cfg.Sim.JobTime)

	rep, err := d.Run(ctx)
	cancel()
	if serr := <-served; serr != nil && err == nil {
		err = serr
	}
	s.Teardown()
	return rep, err
}

func buildProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the hardware version and counters",
		Long:  "Open the device, run the initialisation checks and print what was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger(cfg)
			dev, err := openDevice(cfg, logger)
			if err != nil {
				return err
			}
			defer dev.close()

			info, err := hw.Init(dev.regs, logging.For(logger, logging.ComponentHardware))
			printProbe(cmd.OutOrStdout(), cfg.Device.Path, cfg.Device.Simulate, info, err)
			return err
		},
	}
	return cmd
}

func printProbe(w io.Writer, path string, simulated bool, info hw.Info, err error) {
	if simulated {
		path = "(simulated)"
	}
	fmt.Fprintf(w, "Device:   %s\n", path)
	fmt.Fprintf(w, "Version:  0x%08x\n", info.Version)
	fmt.Fprintf(w, "Started:  %d\n", info.Started)
	fmt.Fprintf(w, "Done:     %d\n", info.Done)
	if err != nil {
		fmt.Fprintf(w, "State:    not usable (%v)\n", err)
		return
	}
	fmt.Fprintln(w, "State:    idle, ready")
}

func buildStatusCommand() *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  "Query a running daemon over gRPC and print its scheduler state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				addr = dialAddr(cfg.GRPC.Addr)
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := server.NewStatusClient(conn).GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("status request failed: %w", err)
			}
			printStatus(cmd.OutOrStdout(), addr, st)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "daemon gRPC address (defaults to grpc.addr from the config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// dialAddr turns a listen address such as ":50051" into one a client can
// dial.
func dialAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

func printStatus(w io.Writer, addr string, st *structpb.Struct) {
	m := st.AsMap()

	fmt.Fprintln(w, "Scheduler Status")
	fmt.Fprintf(w, "  ├─ Daemon:    %s\n", addr)
	fmt.Fprintf(w, "  ├─ Policy:    %v\n", m["policy"])
	fmt.Fprintf(w, "  ├─ Busy:      %v\n", m["busy"])
	fmt.Fprintf(w, "  ├─ Counters:  started=%v done=%v\n", m["started"], m["done"])
	fmt.Fprintf(w, "  ├─ Running:   %s\n", describeJob(m["running"]))
	fmt.Fprintf(w, "  └─ Queued:    %s\n", describeJob(m["queued"]))

	groups, _ := m["groups"].([]any)
	for i, raw := range groups {
		g, _ := raw.(map[string]any)
		branch := "├─"
		if i == len(groups)-1 {
			branch = "└─"
		}
		fmt.Fprintf(w, "  %s Group %v: sequence=%v streaming=%v\n", branch, g["id"], g["sequence"], g["streaming"])

		ready, _ := g["ready"].(map[string]any)
		names := make([]string, 0, len(ready))
		for n := range ready {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(w, "       %-14s %v ready\n", n, ready[n])
		}
	}
}

func describeJob(v any) string {
	j, ok := v.(map[string]any)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%v (group %v, %v tiles, %.1fms)", j["id"], j["group"], j["tiles"], j["age_ms"])
}

func buildFormatsCommand() *cobra.Command {
	var width, height uint32

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List supported pixel formats",
		Long:  "Print every pixel format with its plane layout and frame size at the given resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFormats(cmd.OutOrStdout(), width, height)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&width, "width", 1920, "frame width")
	cmd.Flags().Uint32Var(&height, "height", 1080, "frame height")
	return cmd
}

func printFormats(w io.Writer, width, height uint32) {
	fmt.Fprintf(w, "%-16s %-6s %-7s %-7s %s\n", "NAME", "FOURCC", "BUFFERS", "PLANES", fmt.Sprintf("SIZE@%dx%d", width, height))
	for _, f := range format.All() {
		nf := format.NewNodeFormat(f, width, height, format.DefaultStride(f, width))
		var size uint64
		for _, p := range nf.Planes {
			size += uint64(p.SizeImage)
		}
		fmt.Fprintf(w, "%-16s %-6s %-7d %-7d %s\n", f.Name, f.FourCC, f.MemPlanes, f.ImagePlanes(), humanize.IBytes(size))
	}
}
