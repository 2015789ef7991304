package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetglide/dispatchd/app"
	"github.com/fleetglide/dispatchd/config"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/infra/logger"
)

var (
	simVehicles int
	simInterval time.Duration
	simFaultPct float64
	simPanicPct float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the service against a synthetic fleet, no broker required",
	RunE:  simulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simVehicles, "vehicles", 25, "number of synthetic vehicles")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 2*time.Second, "telemetry reporting interval")
	simulateCmd.Flags().Float64Var(&simFaultPct, "fault-rate", 0.02, "probability of a fault code per report")
	simulateCmd.Flags().Float64Var(&simPanicPct, "panic-rate", 0.002, "probability of a panic signal per report")
	rootCmd.AddCommand(simulateCmd)
}

type simVehicle struct {
	id       string
	lat, lon float64
	speed    float64
}

func simulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Telemetry is injected directly; the broker stays out of the loop.
	cfg.MQTT.Broker = ""

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	log := logger.New("simulate")
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	fleet := make([]simVehicle, simVehicles)
	for i := range fleet {
		id := fmt.Sprintf("veh%04d", i+1)
		fleet[i] = simVehicle{
			id:  id,
			lat: 40.7 + rng.Float64()*0.5,
			lon: -74.2 + rng.Float64()*0.5,
		}
		if _, err := svc.Store.PutVehicle(model.Vehicle{
			ID:       id,
			Status:   model.VehicleIdle,
			Capacity: model.Capacity{WeightLb: 12000, VolumeCuFt: 1600, Pallets: 16},
		}); err != nil {
			return err
		}
		if _, err := svc.Store.PutDriver(model.Driver{
			ID:            fmt.Sprintf("drv%04d", i+1),
			DutyRemaining: 10 * time.Hour,
			IdleSince:     time.Now(),
		}); err != nil {
			return err
		}
	}
	log.Infof("simulating %d vehicles every %s", simVehicles, simInterval)

	go func() {
		ticker := time.NewTicker(simInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for i := range fleet {
					svc.Telemetry() <- nextReport(rng, &fleet[i])
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return svc.Run(ctx)
}

// nextReport advances the vehicle's random walk and emits its report.
func nextReport(rng *rand.Rand, v *simVehicle) model.TelemetryEvent {
	v.lat += (rng.Float64() - 0.5) * 0.002
	v.lon += (rng.Float64() - 0.5) * 0.002
	v.speed = 25 + rng.Float64()*45

	ev := model.TelemetryEvent{
		VehicleID: v.id,
		Timestamp: time.Now(),
		Lat:       v.lat,
		Lon:       v.lon,
		AccuracyM: 5 + rng.Float64()*10,
		SpeedMPH:  v.speed,
	}
	switch r := rng.Float64(); {
	case r < simPanicPct:
		ev.StatusCode = model.StatusPanic
	case r < simPanicPct+simFaultPct:
		ev.StatusCode = model.StatusFault
		ev.FaultCodes = []string{"P0420"}
	case v.speed > 5:
		ev.StatusCode = model.StatusMoving
	default:
		ev.StatusCode = model.StatusStopped
	}
	return ev
}
