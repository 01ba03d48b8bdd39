// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/version"
)

func versionCommand(stdout io.Writer) *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print build version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if asJSON {
				return cli.WriteJSON(stdout, version.Current())
			}
			_, err := fmt.Fprintln(stdout, version.Full())
			return err
		},
	}
}
