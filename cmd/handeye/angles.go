package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/servobus"
	"github.com/banshee-data/handeye/internal/units"
)

func (a *app) anglesCmd() *cobra.Command {
	var (
		sim       bool
		count     int
		interval  time.Duration
		torqueOff bool
	)
	cmd := &cobra.Command{
		Use:   "angles",
		Short: "Print the joint angles of the teleoperation arm",
		Long: `Read the present position of each servo on the teleoperation arm's
Dynamixel bus (devices.servo_port) and print the joint angles in degrees,
one line per reading.

--torque-off releases the servos so the arm can be moved by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			ids := a.cfg.ServoIDs()

			var port servobus.Porter
			if sim {
				sp := servobus.NewSimulatedPort(ids...)
				for i, id := range ids {
					sp.SetPosition(id, int32(i)*servobus.CountsCenter/4)
				}
				port = sp
			} else {
				var err error
				if port, err = servobus.OpenPort(a.cfg.Devices.GetServoPort(), a.cfg.PortOptions()); err != nil {
					return err
				}
			}
			bus, err := servobus.NewBus(port, servobus.DefaultTimeout)
			if err != nil {
				port.Close()
				return err
			}
			defer bus.Close()

			reader := servobus.NewAngleReader(bus, ids...)
			if torqueOff {
				if err := reader.SetTorque(false); err != nil {
					return err
				}
			}

			ticker := a.clock.NewTicker(interval)
			defer ticker.Stop()
			for n := 0; count <= 0 || n < count; n++ {
				if n > 0 {
					select {
					case <-ticker.C():
					case <-ctx.Done():
						return nil
					}
				}
				angles, err := reader.ReadAngles(ctx)
				if err != nil {
					return err
				}
				fields := make([]string, len(angles))
				for i, rad := range angles {
					fields[i] = fmt.Sprintf("%8.2f", units.RadToDeg(rad))
				}
				fmt.Fprintln(out, strings.Join(fields, " "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sim, "sim", false, "Read from a simulated servo bus")
	cmd.Flags().IntVar(&count, "count", 0, "Number of readings (0 to read until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Time between readings")
	cmd.Flags().BoolVar(&torqueOff, "torque-off", false, "Disable servo torque before reading")
	return cmd
}
