// ============================================================================
// pispbe CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra 命令列介面，串接設定、硬體、排程器與監控服務
//
// Command Structure:
//   pispbe                         # Root command
//   ├── run                        # 啟動排程 daemon
//   │   ├── --simulate             # 使用軟體模型取代 UIO 裝置
//   │   └── --frames               # 模擬時同時送入合成工作
//   ├── simulate                   # 以軟體模型跑一批合成畫面並輸出報告
//   ├── probe                      # 檢查硬體版本與計數器
//   ├── status                     # 透過 gRPC 查詢執行中的 daemon
//   ├── formats                    # 列出支援的像素格式
//   ├── --config, -c               # 設定檔 (預設: configs/default.yaml)
//   └── --version
//
// run Command:
//   1. 載入設定檔
//   2. 開啟 UIO 裝置 (或建立軟體模型) 並初始化硬體
//   3. 以硬體計數器建立排程器
//   4. 啟動中斷迴圈、HTTP (/metrics /healthz /status) 與 gRPC 服務
//   5. 等待 SIGINT / SIGTERM
//   6. 拆除：停止中斷迴圈、歸還所有緩衝區、關閉服務
//
//   Examples:
//     ./pispbe run
//     ./pispbe run --simulate --frames 1000
//
// Error Handling:
//   - 設定載入失敗：回傳詳細錯誤
//   - 硬體初始化失敗：不建立排程器，直接回傳
//   - 服務執行期錯誤：記錄後觸發關閉流程
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/isp-scheduler/internal/config"
	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/metrics"
	"github.com/ChuLiYu/isp-scheduler/internal/reconciler"
	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
	"github.com/ChuLiYu/isp-scheduler/internal/server"
	"github.com/ChuLiYu/isp-scheduler/internal/workload"
)

// Version is set at build time.
var Version = "0.1.0"

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pispbe",
		Short: "pispbe: job scheduler for the PiSP image signal processor back end",
		Long: `pispbe schedules image processing jobs onto the PiSP back end:
- per-context node groups feeding one two-deep hardware pipeline
- interrupt-driven completion with wrapping counter reconciliation
- Prometheus metrics, HTTP and gRPC status
- a software model of the hardware for testing without a device`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildProbeCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildFormatsCommand())

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)
	return logger
}

// device is the register block plus its interrupt line.
type device struct {
	regs   hw.RegisterIO
	irq    hw.InterruptSource
	engine *sim.Engine // nil for real hardware
	close  func() error
}

func openDevice(cfg *config.Config, logger *slog.Logger) (*device, error) {
	if cfg.Device.Simulate {
		eng := sim.New(sim.Options{Logger: logger})
		logger.Info("using simulated hardware", "job_time", cfg.Sim.JobTime)
		return &device{regs: eng, irq: eng, engine: eng, close: func() error { return nil }}, nil
	}

	uio, err := hw.OpenUIO(cfg.Device.Path, cfg.Device.MapSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Device.Path, err)
	}
	logger.Info("device opened", "path", cfg.Device.Path, "map_size", cfg.Device.MapSize)
	return &device{regs: uio, irq: uio, close: uio.Close}, nil
}

// newScheduler initialises the hardware and builds a scheduler seeded
// with its counters.
func newScheduler(cfg *config.Config, dev *device, obs scheduler.Observer, logger *slog.Logger) (*scheduler.Scheduler, error) {
	info, err := hw.Init(dev.regs, logging.For(logger, logging.ComponentHardware))
	if err != nil {
		return nil, fmt.Errorf("hardware init failed: %w", err)
	}

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	schedCfg.Initial = reconciler.Counters{
		Started: reconciler.Counter(info.Started),
		Done:    reconciler.Counter(info.Done),
	}

	opts := []scheduler.Option{scheduler.WithLogger(logger)}
	if obs != nil {
		opts = append(opts, scheduler.WithObserver(obs))
	}
	return scheduler.New(schedCfg, dev.regs, opts...), nil
}

func buildRunCommand() *cobra.Command {
	var simulate bool
	var frames int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler daemon",
		Long:  "Open the device, start the interrupt loop and serve metrics and status until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if simulate {
				cfg.Device.Simulate = true
			}
			if frames > 0 && !cfg.Device.Simulate {
				return errors.New("--frames needs simulated hardware")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, frames)
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "use the software model instead of the UIO device")
	cmd.Flags().IntVar(&frames, "frames", 0, "with --simulate, feed this many synthetic frames per group")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config, frames int) error {
	logger := newLogger(cfg)

	dev, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coll := metrics.NewCollector(reg, nil)

	s, err := newScheduler(cfg, dev, coll, logger)
	if err != nil {
		return err
	}
	if err := metrics.RegisterStatus(reg, s); err != nil {
		return fmt.Errorf("failed to register status metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("component failed", "component", name, "error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	goRun("interrupts", func() error { return s.Serve(ctx, dev.irq) })
	if dev.engine != nil {
		goRun("engine", func() error {
			dev.engine.Run(ctx, cfg.Sim.JobTime)
			return nil
		})
	}

	var httpSrv *http.Server
	var h *server.HTTP
	if cfg.Metrics.Enabled {
		h = server.NewHTTP(s, reg, logger)
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		goRun("http", func() error {
			logger.Info("http server starting", "addr", cfg.Metrics.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var grpcSrv *grpc.Server
	var statusSrv *server.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
		}
		grpcSrv = grpc.NewServer()
		statusSrv = server.NewServer(s, logger)
		statusSrv.Register(grpcSrv)
		statusSrv.SetServing(true)
		goRun("grpc", func() error {
			logger.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	if h != nil {
		h.SetReady(true)
	}

	if frames > 0 {
		opts := workload.DefaultOptions()
		opts.Frames = frames
		d, err := workload.New(s, sim.NewAllocator(0), opts, logger)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		goRun("workload", func() error {
			rep, err := d.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("synthetic workload done", "completed", rep.Completed, "fps", rep.FPS())
			return nil
		})
	}

	logger.Info("scheduler started",
		"node_groups", s.NumGroups(),
		"scan_policy", cfg.Scheduler.ScanPolicy,
		"simulate", cfg.Device.Simulate)

	<-ctx.Done()
	logger.Info("received shutdown signal, stopping gracefully")

	if h != nil {
		h.SetReady(false)
	}
	if statusSrv != nil {
		statusSrv.Shutdown()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Scheduler.TeardownTimeout)
	defer cancelShutdown()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	wg.Wait()
	s.Teardown()
	logger.Info("scheduler stopped", "status", s.Status().String())

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
