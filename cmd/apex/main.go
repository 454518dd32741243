// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/apexrules/apex/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
