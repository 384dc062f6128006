package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/alert"
	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/monitor"
	"github.com/andresmejia3/vigil/internal/status"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:         "watch",
	Short:       "Monitor a camera or video file for drowsiness",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), watchOpts)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOpts.InputPath, "input", "i", "", "Path to a video file (default: read from the camera)")
	watchCmd.Flags().IntVar(&watchOpts.Device, "device", 0, "Camera device ID")
	watchCmd.Flags().IntVarP(&watchOpts.NthFrame, "nth-frame", "n", 1, "Analyse every n-th frame")
	watchCmd.Flags().IntVarP(&watchOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	watchCmd.Flags().Float64VarP(&watchOpts.EARThreshold, "threshold", "t", 0, "EAR below which the eyes count as closed (default: VIGIL_EAR_THRESHOLD or 0.25)")
	watchCmd.Flags().StringVar(&watchOpts.DrowsyAfter, "drowsy-after", "", "Closure duration before Drowsy (default: VIGIL_DROWSY_AFTER or 200ms)")
	watchCmd.Flags().StringVar(&watchOpts.SleepAfter, "sleep-after", "", "Closure duration before Sleeping (default: VIGIL_SLEEP_AFTER or 1s)")
	watchCmd.Flags().StringVar(&watchOpts.OnFaceLost, "on-face-lost", "hold", "What a lost face does to a running closure: hold or abandon")
	watchCmd.Flags().IntVar(&watchOpts.FaceLostGrace, "face-lost-grace", 15, "Face-less analysed frames tolerated before abandon applies")
	watchCmd.Flags().StringVar(&watchOpts.WorkerTimeout, "worker-timeout", "10s", "Timeout for a worker to process a single frame")
	watchCmd.Flags().IntVar(&watchOpts.Upsample, "upsample", 0, "Face detector upsampling (finds smaller faces, slower)")
	watchCmd.Flags().StringVar(&watchOpts.HTTPAddr, "http", "", "Serve live status on this address (e.g. :8080)")
	watchCmd.Flags().BoolVarP(&watchOpts.Display, "display", "d", false, "Show annotated frames in a window")
	watchCmd.Flags().StringVar(&watchOpts.DebugFrames, "debug-frames", "", "Save an annotated frame on every label change to this directory")
	watchCmd.Flags().StringVarP(&watchOpts.Subject, "subject", "s", "", "Name of the monitored person")
	watchCmd.Flags().BoolVar(&watchOpts.NoStore, "no-store", false, "Do not persist the session")

	rootCmd.AddCommand(watchCmd)
}

// resolveThresholds applies flag overrides on top of the configured thresholds.
func resolveThresholds(base eyestate.Thresholds, opts Options) (eyestate.Thresholds, error) {
	t := base
	if opts.EARThreshold != 0 {
		t.Openness = opts.EARThreshold
	}
	if opts.DrowsyAfter != "" {
		d, err := time.ParseDuration(opts.DrowsyAfter)
		if err != nil {
			return t, fmt.Errorf("invalid drowsy-after %q: %w", opts.DrowsyAfter, err)
		}
		t.DrowsyAfter = d
	}
	if opts.SleepAfter != "" {
		d, err := time.ParseDuration(opts.SleepAfter)
		if err != nil {
			return t, fmt.Errorf("invalid sleep-after %q: %w", opts.SleepAfter, err)
		}
		t.SleepAfter = d
	}
	return t, t.Validate()
}

// runWatch orchestrates a monitoring session: source, engine pool, ordered
// classification and the sinks.
func runWatch(ctx context.Context, opts Options) error {
	// Create a cancellable context to ensure all child processes (FFmpeg, Python)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateWatchFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err, nil)
		return err
	}
	thresholds, err := resolveThresholds(Cfg.Thresholds, opts)
	if err != nil {
		utils.ShowError("Invalid thresholds", err, nil)
		return err
	}
	policy, _ := monitor.ParseFaceLostPolicy(opts.OnFaceLost)
	workerTimeout, _ := time.ParseDuration(opts.WorkerTimeout)

	mon, err := monitor.New(monitor.Options{
		Thresholds:    thresholds,
		OnFaceLost:    policy,
		FaceLostGrace: opts.FaceLostGrace,
	}, Logger)
	if err != nil {
		return err
	}

	// 1. Open the frame source
	started := time.Now()
	var (
		src         capture.Source
		sourceName  string
		totalFrames = -1
	)
	if opts.InputPath != "" {
		sourceName = opts.InputPath
		fps, err := utils.GetVideoFPS(ctx, opts.InputPath)
		if err != nil {
			utils.ShowError("Failed to determine video FPS", err, nil)
			return err
		}
		if n := utils.GetTotalFrames(ctx, opts.InputPath); n > 0 {
			totalFrames = n
		}
		fsrc, err := capture.NewFFmpegSource(ctx, opts.InputPath, fps, started)
		if err != nil {
			utils.ShowError("Failed to start FFmpeg", err, nil)
			return err
		}
		src = fsrc
	} else {
		sourceName = "device:" + strconv.Itoa(opts.Device)
		csrc, err := capture.NewCameraSource(opts.Device)
		if err != nil {
			utils.ShowError("Failed to open camera", err, nil)
			return err
		}
		src = csrc
	}

	// 2. Register the session
	// Files are keyed by path, size and modification time
	sessionKey := sourceName
	if opts.InputPath != "" {
		if videoID, err := utils.GenerateVideoID(opts.InputPath); err == nil {
			sessionKey = videoID
		}
	}
	sessionID := utils.GenerateSessionID(sessionKey, started)
	fmt.Fprintf(os.Stderr, "👁️  Session %s watching %s\n", sessionID, sourceName)
	if DB != nil {
		sess := store.Session{ID: sessionID, Source: sourceName, Subject: opts.Subject, StartedAt: started}
		if err := DB.CreateSession(ctx, sess); err != nil {
			src.Close()
			utils.ShowError("Failed to register session", err, nil)
			return err
		}
		// Every exit from here on closes the session, warm-up failures included
		defer func() { finishSession(DB, sessionID, mon.Stats(), Logger) }()
	}

	// 3. Sinks
	out, err := openSinks(ctx, sessionID, opts)
	if err != nil {
		src.Close()
		return err
	}
	defer out.close()

	// 4. Spawn the Engine Pool
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)
	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan frameResult, opts.NumEngines*2)
	errChan := make(chan error, opts.NumEngines+2)
	readyChan := make(chan bool, opts.NumEngines)
	var wg sync.WaitGroup

	engineCfg := worker.Config{
		Script:         Cfg.Engine.Script,
		PredictorPath:  Cfg.Engine.Predictor,
		UpsampleFactor: opts.Upsample,
		ReadTimeout:    workerTimeout,
	}
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runEngine(ctx, id, engineCfg, taskChan, resultsChan, errChan, readyChan)
		}(i)
	}

	// Wait for workers to be ready
	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")
	for i := 0; i < opts.NumEngines; i++ {
		select {
		case <-readyChan:
		case err := <-errChan:
			cancel()
			close(taskChan)
			src.Close()
			return err
		case <-ctx.Done():
			close(taskChan)
			src.Close()
			return ctx.Err()
		}
	}

	bar := progressbar.NewOptions(totalFrames,
		progressbar.OptionSetDescription("👁️  Vigil Watching"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	// 5. Frame reader & Nth-Frame Logic
	// Source failures come back through readDone, not errChan: the engines
	// drain and close resultsChan first, so the loop below cannot see them.
	readDone := make(chan readResult, 1)
	go func() {
		readDone <- readFrames(ctx, src, opts.NthFrame, taskChan, func() { bar.Add(1) })
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// 6. Ordered classification
	reorder := newReorderBuffer(opts.NthFrame, opts.NthFrame)
	runErr := func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-errChan:
				return err
			case res, ok := <-resultsChan:
				if !ok {
					return nil
				}
				for _, frame := range reorder.Push(res) {
					err := observe(ctx, mon, out, frame)
					capture.Release(frame.Data)
					if err != nil {
						return err
					}
				}
			}
		}
	}()

	// The reader must be gone before the source is closed. On a clean end of
	// stream ffmpeg is reaped before the context kills it.
	if runErr != nil {
		cancel()
	}
	reader := <-readDone
	closeErr := src.Close()
	cancel()
	bar.Finish()

	printWatchSummary(sessionID, reader.read, mon, out.persisted)

	if errors.Is(runErr, capture.ErrQuit) || errors.Is(runErr, context.Canceled) {
		return nil
	}
	if runErr != nil {
		utils.ShowError("Watch aborted", runErr, nil)
		return runErr
	}
	if reader.err != nil {
		utils.ShowError("Frame source failed", reader.err, nil)
		return fmt.Errorf("frame source failed: %w", reader.err)
	}
	if closeErr != nil {
		utils.ShowError("Frame source failed", closeErr, nil)
		return closeErr
	}
	if n := reorder.Len(); n > 0 {
		Logger.Warn("frames left unclassified", zap.Int("pending", n))
	}
	return nil
}

// readResult is how the frame reader stops: frames read and the source
// error, if any. End of stream and cancellation are not errors.
type readResult struct {
	read int
	err  error
}

// readFrames feeds every nth frame of src into tasks until the source ends or
// ctx is done, then closes tasks. onRead is called for every frame read.
func readFrames(ctx context.Context, src capture.Source, nth int, tasks chan<- types.FrameTask, onRead func()) readResult {
	defer close(tasks)
	read := 0
	for {
		task, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				err = nil
			}
			return readResult{read: read, err: err}
		}
		read++
		onRead()

		if task.Index%nth != 0 {
			capture.Release(task.Data)
			continue
		}
		select {
		case tasks <- task:
		case <-ctx.Done():
			capture.Release(task.Data)
			return readResult{read: read}
		}
	}
}

// sessionFinisher is the part of the store that closes a session.
type sessionFinisher interface {
	FinishSession(ctx context.Context, id string, ended time.Time, frames, faceFrames, blinks int) error
}

// finishSession records the final totals. The run context may already be
// cancelled, so the write gets its own.
func finishSession(st sessionFinisher, sessionID string, stats monitor.Stats, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.FinishSession(ctx, sessionID, time.Now(), stats.Frames, stats.FaceFrames, stats.Blinks); err != nil {
		logger.Error("failed to finish session", zap.String("session", sessionID), zap.Error(err))
	}
}

// runEngine manages the lifecycle of a single Python worker process.
// Engine-side frame errors are logged and the frame counts as face-less;
// a crash stops the run.
func runEngine(ctx context.Context, id int, cfg worker.Config, tasks <-chan types.FrameTask, results chan<- frameResult, errs chan<- error, ready chan<- bool) {
	w, err := worker.NewLandmarkWorker(ctx, id, cfg)
	if err != nil {
		utils.ShowError("Worker startup failed", err, nil)
		select {
		case errs <- err:
		default:
		}
		return
	}
	defer w.Close()
	ready <- true

	for task := range tasks {
		faces, err := w.ProcessFrame(task.Data)
		if err != nil {
			var engineErr *worker.EngineError
			if !errors.As(err, &engineErr) {
				if ctx.Err() != nil {
					capture.Release(task.Data)
					return
				}
				// DRAIN: Wait for process to exit and capture final stderr logs
				w.Close()
				utils.ShowError("Python crashed", err, w.Cmd)
				capture.Release(task.Data)
				select {
				case errs <- err:
				default:
				}
				return
			}
			Logger.Warn("engine could not process frame", zap.Int("worker", id), zap.Int("frame", task.Index), zap.Error(err))
			faces = nil
		}

		// Send empty results too, or the aggregator would wait for this frame forever
		select {
		case results <- frameResult{Index: task.Index, Timestamp: task.Timestamp, Data: task.Data, Faces: faces}:
		case <-ctx.Done():
			capture.Release(task.Data)
			return
		}
	}
}

// observe classifies one in-order frame and hands the update to the sinks.
func observe(ctx context.Context, mon *monitor.Monitor, out *sinks, frame frameResult) error {
	u, err := mon.Observe(monitor.Observation{Index: frame.Index, Timestamp: frame.Timestamp, Faces: frame.Faces})
	if err != nil {
		if errors.Is(err, eyestate.ErrInvalidLandmarks) {
			// Already logged by the monitor. The state is unchanged but the
			// frame is still shown.
			return out.show(frame.Data, u)
		}
		return err
	}
	return out.handle(ctx, frame.Data, u)
}

// openSinks builds the alert publishers, status server and displays.
func openSinks(ctx context.Context, sessionID string, opts Options) (*sinks, error) {
	out := &sinks{sessionID: sessionID, logger: Logger}
	if DB != nil {
		out.store = DB
	}

	var pubs alert.Multi
	if Cfg.MQTT.Broker != "" {
		p, err := alert.NewMQTTPublisher(Cfg.MQTT)
		if err != nil {
			Logger.Warn("MQTT alerts disabled", zap.Error(err))
		} else {
			pubs = append(pubs, p)
		}
	}
	if Cfg.Redis.Addr != "" {
		p, err := alert.NewStreamPublisher(ctx, Cfg.Redis)
		if err != nil {
			Logger.Warn("Redis stream alerts disabled", zap.Error(err))
		} else {
			pubs = append(pubs, p)
		}
	}
	if len(pubs) > 0 {
		out.alerts = pubs
	}

	if opts.HTTPAddr != "" {
		srv := status.NewServer(sessionID, Logger)
		go func() {
			if err := srv.Listen(opts.HTTPAddr); err != nil {
				Logger.Error("status server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown()
		}()
		out.status = srv
	}

	if opts.Display {
		out.displays = append(out.displays, capture.NewWindowDisplay("vigil"))
	}
	if opts.DebugFrames != "" {
		d, err := capture.NewDebugFrameWriter(opts.DebugFrames)
		if err != nil {
			out.close()
			utils.ShowError("Failed to create debug frame directory", err, nil)
			return nil, err
		}
		out.displays = append(out.displays, d)
	}
	return out, nil
}

func printWatchSummary(sessionID string, read int, mon *monitor.Monitor, persisted int) {
	stats := mon.Stats()
	t := mon.Thresholds()
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SESSION SUMMARY (%s)\n", sessionID)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📏 Policy:                  EAR < %.2f, drowsy after %s, asleep after %s\n", t.Openness, t.DrowsyAfter, t.SleepAfter)
	fmt.Fprintf(os.Stderr, "🎞️  Frames read:             %d\n", read)
	fmt.Fprintf(os.Stderr, "🔍 Frames analysed:         %d (face in %d)\n", stats.Frames, stats.FaceFrames)
	if stats.Invalid > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Frames with bad landmarks: %d\n", stats.Invalid)
	}
	fmt.Fprintf(os.Stderr, "😌 Blinks:                  %d\n", stats.Blinks)
	fmt.Fprintf(os.Stderr, "😴 Drowsy/sleep episodes:   %d\n", persisted)
	fmt.Fprintf(os.Stderr, "🏷️  Final state:             %s\n", mon.State().Label)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// validateWatchFlags ensures all CLI arguments are valid before starting heavy processes.
func validateWatchFlags(opts *Options) error {
	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file does not exist: %w", err)
			}
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path is a directory, expected a video file")
		}
	} else if opts.Device < 0 {
		return fmt.Errorf("invalid camera device %d", opts.Device)
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.EARThreshold < 0 {
		return fmt.Errorf("threshold must be positive, got %f", opts.EARThreshold)
	}
	if _, err := monitor.ParseFaceLostPolicy(opts.OnFaceLost); err != nil {
		return err
	}
	if opts.FaceLostGrace < 1 {
		return fmt.Errorf("face-lost-grace must be >= 1, got %d", opts.FaceLostGrace)
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker-timeout format (use '10s', '500ms'): %w", err)
	}
	if opts.Upsample < 0 {
		return fmt.Errorf("upsample must be >= 0, got %d", opts.Upsample)
	}
	return nil
}
