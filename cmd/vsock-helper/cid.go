// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	"github.com/urfave/cli"
)

var cidCommand = cli.Command{
	Name:  "cid",
	Usage: "print the context ID of this machine",
	Action: func(c *cli.Context) error {
		cid, err := vsock.ContextID()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, cid)
		return err
	},
}
