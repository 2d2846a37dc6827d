// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("checkin-sync - Offline-First Check-In Synchronization Engine")
	fmt.Println("=============================================================")
	fmt.Println()
	fmt.Println("checkin-sync keeps event check-in working without connectivity:")
	fmt.Println("actions are applied optimistically to a durable local cache, queued")
	fmt.Println("in an outbox, and drained exactly once against the check-in API when")
	fmt.Println("the network returns.")
	fmt.Println()

	fmt.Println("Available Examples:")
	fmt.Println()
	fmt.Println("1. Offline/Online Flow (examples/checkin_flow/)")
	fmt.Println("   Full engine wired against an in-process check-in API: offline QR")
	fmt.Println("   scan, connectivity restore, drain, reconciling refetch.")
	fmt.Println("   Run: go run ./examples/checkin_flow")
	fmt.Println()
}
