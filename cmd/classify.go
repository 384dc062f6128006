package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/monitor"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/spf13/cobra"
)

var (
	classifyOpts Options
	classifyJSON bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [landmarks.jsonl]",
	Short: "Classify recorded landmark frames (JSON lines, '-' or no argument for stdin)",
	Long: `Replays recorded landmarks through the eye-state classifier.

Each input line is one frame:
  {"frame": 1, "t": 0.033, "landmarks": [[x, y], ... 68 points]}
"t" is seconds since the start of the recording. A frame without landmarks
counts as a frame where no face was found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		in := io.Reader(os.Stdin)
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		thresholds, err := resolveThresholds(Cfg.Thresholds, classifyOpts)
		if err != nil {
			return err
		}
		policy, err := monitor.ParseFaceLostPolicy(classifyOpts.OnFaceLost)
		if err != nil {
			return err
		}
		mon, err := monitor.New(monitor.Options{
			Thresholds:    thresholds,
			OnFaceLost:    policy,
			FaceLostGrace: classifyOpts.FaceLostGrace,
		}, Logger)
		if err != nil {
			return err
		}
		return runClassify(in, os.Stdout, mon, classifyJSON)
	},
}

func init() {
	classifyCmd.Flags().Float64VarP(&classifyOpts.EARThreshold, "threshold", "t", 0, "EAR below which the eyes count as closed (default: VIGIL_EAR_THRESHOLD or 0.25)")
	classifyCmd.Flags().StringVar(&classifyOpts.DrowsyAfter, "drowsy-after", "", "Closure duration before Drowsy (default: VIGIL_DROWSY_AFTER or 200ms)")
	classifyCmd.Flags().StringVar(&classifyOpts.SleepAfter, "sleep-after", "", "Closure duration before Sleeping (default: VIGIL_SLEEP_AFTER or 1s)")
	classifyCmd.Flags().StringVar(&classifyOpts.OnFaceLost, "on-face-lost", "hold", "What a lost face does to a running closure: hold or abandon")
	classifyCmd.Flags().IntVar(&classifyOpts.FaceLostGrace, "face-lost-grace", 15, "Face-less frames tolerated before abandon applies")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Emit one JSON object per frame instead of a table")
	rootCmd.AddCommand(classifyCmd)
}

// landmarkFrame is one input line.
type landmarkFrame struct {
	Frame     *int         `json:"frame"` // Line number when absent
	T         float64      `json:"t"`
	Landmarks [][2]float64 `json:"landmarks"`
}

// classifiedFrame is one output line in --json mode.
type classifiedFrame struct {
	Frame     int     `json:"frame"`
	T         float64 `json:"t"`
	Face      bool    `json:"face"`
	EAR       float64 `json:"ear"`
	Label     string  `json:"label"`
	Blinks    int     `json:"blinks"`
	ClosureMS int64   `json:"closure_ms"`
	Error     string  `json:"error,omitempty"`
}

const megabyte = 1024 * 1024

// recordingEpoch anchors relative recording times; only differences matter.
var recordingEpoch = time.Unix(0, 0).UTC()

func runClassify(in io.Reader, out io.Writer, mon *monitor.Monitor, asJSON bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), megabyte)

	var (
		enc *json.Encoder
		tw  *tabwriter.Writer
	)
	if asJSON {
		enc = json.NewEncoder(out)
	} else {
		tw = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "FRAME\tTIME\tEAR\tLABEL\tBLINKS\tCLOSED")
		fmt.Fprintln(tw, "-----\t----\t---\t-----\t------\t------")
	}

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var f landmarkFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		frame := line
		if f.Frame != nil {
			frame = *f.Frame
		}

		obs := monitor.Observation{
			Index:     frame,
			Timestamp: recordingEpoch.Add(time.Duration(f.T * float64(time.Second))),
		}
		if len(f.Landmarks) > 0 {
			face := types.FaceResult{Landmarks: make([]eyestate.Point, len(f.Landmarks))}
			for i, p := range f.Landmarks {
				face.Landmarks[i] = eyestate.Point{X: p[0], Y: p[1]}
			}
			obs.Faces = []types.FaceResult{face}
		}

		u, err := mon.Observe(obs)
		if err != nil && !errors.Is(err, eyestate.ErrInvalidLandmarks) {
			return fmt.Errorf("line %d: %w", line, err)
		}

		if asJSON {
			rec := classifiedFrame{
				Frame:     frame,
				T:         f.T,
				Face:      u.Face != nil,
				EAR:       u.EAR,
				Label:     u.State.Label.String(),
				Blinks:    u.State.Blinks,
				ClosureMS: u.State.ClosureDuration.Milliseconds(),
			}
			if err != nil {
				rec.Error = err.Error()
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
			continue
		}

		ear := "-"
		if u.Face != nil && err == nil {
			ear = fmt.Sprintf("%.3f", u.EAR)
		}
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%d\t%.2fs\n",
			frame, f.T, ear, u.State.Label, u.State.Blinks, u.State.ClosureDuration.Seconds())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Flush()
	}
	return nil
}
