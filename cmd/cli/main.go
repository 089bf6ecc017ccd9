// Bench tool: calibrates the arm described by the default wiring, then
// drives it through the points given on the command line and prints the
// commanded position after each arrival.
//
// Usage:
//
//	planar-arm-cli [-timeout 30s] x,y [x,y ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	planararm "planar_arm"
)

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "per-move timeout; without it the wait for arrival is unbounded")
	flag.Parse()

	logger := logging.NewLogger("planar-arm-cli")

	targets, err := parseTargets(flag.Args())
	if err != nil {
		logger.Fatal(err)
	}
	if len(targets) == 0 {
		logger.Fatal("no target points given, expected x,y pairs in meters")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := planararm.DefaultConfig()
	if _, _, err := conf.Validate(""); err != nil {
		logger.Fatal(err)
	}

	logger.Info("calibrating, keep clear of the arm")
	arm, err := planararm.NewArm(ctx, conf, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer func() {
		goutils.UncheckedError(arm.Close(context.Background()))
	}()

	for _, target := range targets {
		moveCtx, cancel := context.WithTimeout(ctx, timeout)
		err := arm.SetPositionSync(moveCtx, target)
		cancel()
		if err != nil {
			logger.Errorf("move to (%.4f, %.4f) failed: %v", target.X, target.Y, err)
			continue
		}
		pos, err := arm.GetPosition()
		if err != nil {
			logger.Fatal(err)
		}
		fmt.Printf("x= %+8.9f | y= %+8.9f | z= %+8.9f\n", pos.X, pos.Y, pos.Z)
	}
}

func parseTargets(args []string) ([]r3.Vector, error) {
	targets := make([]r3.Vector, 0, len(args))
	for _, arg := range args {
		parts := strings.Split(arg, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad target %q, expected x,y in meters", arg)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad x in %q: %w", arg, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad y in %q: %w", arg, err)
		}
		targets = append(targets, r3.Vector{X: x, Y: y})
	}
	return targets, nil
}
