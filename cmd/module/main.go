package main

import (
	"armarkertracker"
	"armarkertracker/models"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/posetracker"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: armarkertracker.Session},
		resource.APIModel{API: camera.API, Model: models.ArCamera},
		resource.APIModel{API: posetracker.API, Model: models.MarkerPoses},
	)
}
