package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/config"
	"github.com/cjeanneret/PanTilt/internal/debug"
	"github.com/cjeanneret/PanTilt/internal/hw/gpio"
	"github.com/cjeanneret/PanTilt/internal/hw/stepper"
	"github.com/cjeanneret/PanTilt/internal/link"
	"github.com/cjeanneret/PanTilt/internal/logic/dispatch"
	"github.com/cjeanneret/PanTilt/internal/logic/geometry"
	"github.com/cjeanneret/PanTilt/internal/logic/motion"
	"github.com/cjeanneret/PanTilt/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	serialPort := flag.String("serial", "", "read commands from this serial device (overrides link.serial_port)")
	baudRate := flag.Int("baud", 0, "serial baud rate (overrides link.baud_rate)")
	useStdin := flag.Bool("stdin", false, "read commands from standard input")
	homeOnBoot := flag.Bool("home", false, "home both axes before accepting commands")
	backend := flag.String("gpio", "", "GPIO backend: mock, rpio, periph or gpiocdev (overrides defaults.gpio_backend)")
	help := flag.Bool("commands", false, "print the command reference and exit")
	flag.Parse()

	if *help {
		fmt.Print(dispatch.Help())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{
		SerialPort: *serialPort,
		BaudRate:   *baudRate,
		Stdin:      *useStdin,
		Home:       *homeOnBoot,
		Backend:    *backend,
	}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("GPIO backend", cfg.Defaults.GPIOBackend)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.GPIOBackend, cfg.Defaults.GPIOChip)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stepper motors")
	panMotor := stepper.NewStepper(gpioDriver, stepperConfig("pan", cfg.PanStepper))
	debug.PrintStruct("Pan stepper config", cfg.PanStepper)
	tiltMotor := stepper.NewStepper(gpioDriver, stepperConfig("tilt", cfg.TiltStepper))
	debug.PrintStruct("Tilt stepper config", cfg.TiltStepper)

	debug.Step(3, "Creating motion coordinator")
	coord, err := motion.NewCoordinator([]motion.AxisConfig{
		axisConfig("pan", cfg.PanStepper, panMotor),
		axisConfig("tilt", cfg.TiltStepper, tiltMotor),
	}, motion.NewTickerSource(), motion.HomingConfig{
		Speed:    cfg.Homing.SpeedDPS,
		MaxSteps: cfg.Homing.MaxSteps,
	})
	if err != nil {
		log.Fatalf("init motion failed: %v", err)
	}
	defer func() {
		if err := coord.DisableMotors(); err != nil {
			log.Printf("disabling motors failed: %v", err)
		}
	}()

	debug.Step(4, "Creating command channel")
	queue := command.NewChannel(cfg.Command.BufferSize)
	broadcaster := web.NewStatusBroadcaster()
	runner := dispatch.NewRunner(queue, coord, broadcaster)
	if cfg.Homing.OnBoot {
		for _, m := range []*stepper.Stepper{panMotor, tiltMotor} {
			if !m.HasEndstop() {
				log.Fatalf("homing on boot needs an endstop on %s", m.Name())
			}
		}
		queue.PutString(dispatch.HomeCommand.Verb)
	}

	var wg sync.WaitGroup
	feeder := &link.Feeder{Channel: queue, Notify: runner.Wake}

	if cfg.Link.SerialPort != "" {
		port, err := link.OpenSerial(cfg.Link.SerialPort, cfg.Link.BaudRate)
		if err != nil {
			log.Fatalf("serial link: %v", err)
		}
		debug.Info("Listening on %s at %d baud", cfg.Link.SerialPort, cfg.Link.BaudRate)
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				port.Close()
			}()
			if err := feeder.Feed(ctx, port, port); err != nil && ctx.Err() == nil {
				log.Printf("serial link: %v", err)
			}
		}()
	}

	httpPort := webPort.port()
	if cfg.Link.Stdin || (cfg.Link.SerialPort == "" && httpPort == 0) {
		debug.Info("Reading commands from stdin")
		go func() {
			// stdin cannot be interrupted; it is not waited for.
			if err := feeder.Feed(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("stdin link: %v", err)
			}
		}()
	}

	if httpPort > 0 {
		webAddr := fmt.Sprintf(":%d", httpPort)
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		srv := web.NewServer(webAddr, broadcaster, queue, runner.Wake, coord)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
				cancel()
			}
		}()
	}

	debug.Section("Ready")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("dispatcher: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := coord.Wait(waitCtx); err != nil {
		log.Printf("last move: %v", err)
	}
	wg.Wait()
}

// cliOverrides holds flag values that take precedence over the config file.
type cliOverrides struct {
	SerialPort string
	BaudRate   int
	Stdin      bool
	Home       bool
	Backend    string
}

// validateCLIOverrides checks flag values. Zero values mean "use config".
func validateCLIOverrides(o cliOverrides) error {
	if o.BaudRate < 0 || o.BaudRate > 4000000 {
		return fmt.Errorf("baud must be between 1 and 4000000, got %d", o.BaudRate)
	}
	switch o.Backend {
	case "", gpio.BackendMock, gpio.BackendRPi, gpio.BackendPeriph, gpio.BackendGPIOCdev:
	default:
		return fmt.Errorf("gpio must be mock, rpio, periph or gpiocdev, got %q", o.Backend)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.SerialPort != "" {
		cfg.Link.SerialPort = o.SerialPort
	}
	if o.BaudRate > 0 {
		cfg.Link.BaudRate = o.BaudRate
	}
	if o.Stdin {
		cfg.Link.Stdin = true
	}
	if o.Home {
		cfg.Homing.OnBoot = true
	}
	if o.Backend != "" {
		cfg.Defaults.GPIOBackend = o.Backend
	}
}

// stepperConfig maps one axis section of the config file to driver settings.
func stepperConfig(name string, sc config.StepperConfig) stepper.Config {
	return stepper.Config{
		Name:              name,
		StepPin:           sc.StepPin,
		DirPin:            sc.DirPin,
		EnablePin:         sc.EnablePin,
		EnabledLevel:      gpio.Level(sc.EnableActiveHigh()),
		EndstopPin:        sc.EndstopPin,
		EndstopPullUp:     sc.EndstopPullUp(),
		EndstopActiveHigh: sc.EndstopActiveHigh,
		InvertDir:         sc.InvertDir,
	}
}

// axisConfig maps one axis section to the coordinator's view of it.
func axisConfig(name string, sc config.StepperConfig, drv motion.Driver) motion.AxisConfig {
	return motion.AxisConfig{
		Name:   name,
		Driver: drv,
		Scale: geometry.AxisScale{
			StepsPerRev:   sc.StepsPerRev,
			Microstepping: sc.Microstepping,
			GearRatio:     sc.GearRatio,
		},
		MinSpeed:     sc.MinSpeedDPS,
		MaxSpeed:     sc.MaxSpeedDPS,
		DefaultSpeed: sc.DefaultSpeedDPS,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
