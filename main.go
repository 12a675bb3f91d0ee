// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/speakeasy-voice/speakeasy/cmd"
	"github.com/speakeasy-voice/speakeasy/internal/sdk"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := cmd.NewCommand(sdk.Version, sdk.GitCommit)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
