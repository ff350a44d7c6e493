package main

import (
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	hand "sdhx_hand"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: gripper.API, Model: hand.HandModel},
		resource.APIModel{API: sensor.API, Model: hand.DiagnosticsSensorModel},
		resource.APIModel{API: discovery.API, Model: hand.HandDiscoveryModel},
	)
}
