package services

import "fmt"

func AppUsage() {
	fmt.Println(`Usage:
  sceneflow --mode api-service [--config config.yaml] [--port 4004]
      Serve the production API consumed by the compute fleet.

  sceneflow --mode production-runner [--config config.yaml] [--submitter NAME]
      Run one pass of the order/scene lifecycle orchestrator (cron-driven).`)
}
