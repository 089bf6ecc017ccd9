package main

import (
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	planararm "planar_arm"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: planararm.Model},
		resource.APIModel{API: sensor.API, Model: planararm.DiagnosticsModel},
	)
}
