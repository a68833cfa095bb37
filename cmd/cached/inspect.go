/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/yatool/localcache/internal/dbkit"
)

// inspectCommand lists cached blobs in rowid order, paging through
// CAS.NextChunk the way the original's maintenance tool streamed the
// database for export rather than loading it whole into memory.
var inspectCommand = cli.Command{
	Name:  "inspect",
	Usage: "list cached blobs in rowid order",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "store-dir", Usage: "blob store root directory", Required: true},
		cli.StringFlag{Name: "db-path", Usage: "database file path (default: <store-dir>/acdb.bunt)"},
	},
	Action: runInspect,
}

func runInspect(c *cli.Context) error {
	cfg := configFromFlags(c)
	d, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer d.Close()

	var startRow int64
	for {
		var (
			uids    []string
			nextRow int64
		)
		if err := d.Store().DB().WithTx(dbkit.Deferred, 0, func(tx *dbkit.Tx) error {
			var terr error
			uids, nextRow, terr = d.Store().CAS().NextChunk(tx, startRow)
			return terr
		}); err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		for _, uid := range uids {
			fmt.Println(uid)
		}
		if nextRow == 0 {
			return nil
		}
		startRow = nextRow
	}
}
