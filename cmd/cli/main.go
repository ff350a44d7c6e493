// Command sdhx-cli drives a finger controller from the bench without a robot
// server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"

	hand "sdhx_hand"
)

type globalFlags struct {
	port       string
	driver     string
	jointNames []string
	debug      bool
	connectFor time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "sdhx-cli",
		Short:         "Bench tool for SDHx finger controllers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.port, "port", "p", hand.DefaultPort, "serial port, optionally path@baud")
	pf.StringVar(&flags.driver, "driver", hand.DriverSDHx, "motor link driver (sdhx or feetech)")
	pf.StringSliceVar(&flags.jointNames, "joint-names", []string{"finger_joint_1", "finger_joint_2"}, "joint names in controller order")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.DurationVar(&flags.connectFor, "connect-timeout", 2*time.Second, "time to wait for the first status")

	root.AddCommand(
		newInitCmd(flags),
		newMoveCmd(flags),
		newHaltCmd(flags),
		newRecoverCmd(flags),
		newWatchCmd(flags),
		newProbeCmd(flags),
	)
	return root
}

func (f *globalFlags) logger() logging.Logger {
	logger := logging.NewLogger("sdhx-cli")
	if f.debug {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// session is a started bridge that has seen at least one status cycle.
type session struct {
	bridge *hand.Bridge
	logger logging.Logger
}

func (f *globalFlags) connect(ctx context.Context, initialize bool) (*session, error) {
	logger := f.logger()
	cfg := &hand.HandConfig{
		Port:       f.port,
		Driver:     f.driver,
		JointNames: f.jointNames,
	}
	bridge, err := hand.NewBridge(cfg, logger)
	if err != nil {
		return nil, err
	}
	bridge.Start()
	s := &session{bridge: bridge, logger: logger}

	deadline := time.Now().Add(f.connectFor)
	for bridge.Lifecycle() == hand.StateDisconnected {
		if time.Now().After(deadline) {
			s.close()
			return nil, hand.ErrNotConnected
		}
		time.Sleep(10 * time.Millisecond)
	}

	if initialize {
		res := bridge.InitRequest(ctx)
		if !res.Success {
			s.close()
			return nil, errors.Errorf("init failed: %s", res.Message)
		}
		logger.Infof("init: %s", orOK(res.Message))
		// let one status cycle mark the finger ready
		for !bridge.IsReady() {
			if time.Now().After(deadline.Add(f.connectFor)) {
				s.close()
				return nil, errors.New("finger did not become ready")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return s, nil
}

func (s *session) close() {
	if err := s.bridge.Close(context.Background()); err != nil {
		s.logger.Warnf("closing bridge: %v", err)
	}
}

func orOK(msg string) string {
	if msg == "" {
		return "ok"
	}
	return msg
}

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the controller and report its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()
			printSnapshot(cmd, s.bridge.Snapshot())
			return nil
		},
	}
}

func newMoveCmd(flags *globalFlags) *cobra.Command {
	var (
		duration  time.Duration
		tolerance time.Duration
		effort    []float64
	)
	cmd := &cobra.Command{
		Use:   "move <joint1-rad> <joint2-rad>",
		Short: "Move both joints and wait for the goal result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions := make([]float64, len(args))
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return errors.Wrapf(err, "invalid position %q", a)
				}
				positions[i] = v
			}

			s, err := flags.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()

			goal := hand.TrajectoryGoal{
				JointNames: flags.jointNames,
				Points: []hand.TrajectoryPoint{{
					Positions:     positions,
					Effort:        effort,
					TimeFromStart: duration,
				}},
				GoalTimeTolerance: tolerance,
			}
			res, err := s.bridge.RunGoal(cmd.Context(), goal)
			if err != nil {
				return err
			}
			cmd.Printf("goal %s: %s %s\n", res.State, res.Code, res.Message)
			if res.State != hand.GoalSucceeded {
				return errors.Errorf("goal %s", res.State)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "time allowed to reach the target")
	cmd.Flags().DurationVar(&tolerance, "time-tolerance", 500*time.Millisecond, "extra time before the goal aborts")
	cmd.Flags().Float64SliceVar(&effort, "effort", nil, "current limits in amps, one per joint")
	return cmd
}

func newHaltCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "halt",
		Short: "Stop the controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.connect(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()
			return printRequest(cmd, "halt", s.bridge.HaltRequest())
		},
	}
}

func newRecoverCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restart the controller after a hardware error",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()
			if res := s.bridge.InitRequest(cmd.Context()); !res.Success {
				return errors.Errorf("init failed: %s", res.Message)
			}
			return printRequest(cmd, "recover", s.bridge.RecoverRequest(cmd.Context()))
		},
	}
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var forDuration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print joint states until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if forDuration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, forDuration)
				defer cancel()
			}

			s, err := flags.connect(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			states, cancel := s.bridge.SubscribeJointStates(16)
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return nil
				case js, ok := <-states:
					if !ok {
						return nil
					}
					cmd.Printf("%s pos=%.4f vel=%.4f\n", js.Stamp.Format(time.StampMilli), js.Position, js.Velocity)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&forDuration, "for", 0, "stop after this long, 0 runs until interrupted")
	return cmd
}

func newProbeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the controller answers without initializing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()
			printSnapshot(cmd, s.bridge.Snapshot())
			for _, d := range s.bridge.Diagnostics() {
				cmd.Printf("%-10s %-5s %s\n", d.Name, d.Level, d.Message)
			}
			return nil
		},
	}
}

func printRequest(cmd *cobra.Command, name string, res hand.RequestResult) error {
	if !res.Success {
		return errors.Errorf("%s failed: %s", name, res.Message)
	}
	cmd.Printf("%s: %s\n", name, orOK(res.Message))
	return nil
}

func printSnapshot(cmd *cobra.Command, snap hand.Snapshot) {
	cmd.Printf("lifecycle: %s, link: %s\n", snap.Lifecycle, snap.Link)
	if snap.Status != nil {
		cmd.Printf("flag: %s, rc: %d, position: %v cdeg\n", snap.Status.Flag, snap.Status.RC, snap.Status.Joints.PositionCdeg)
	}
}
