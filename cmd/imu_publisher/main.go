// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"

	"github.com/relabs-tech/imu_pipeline/internal/app"
)

func main() {
	if err := app.NewPublisherCLI().Run(os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
