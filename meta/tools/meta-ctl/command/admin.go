// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.


package command

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/spf13/cobra"
)

var gcLimit int

// NewTenantCommand returns the tenant subcommands.
func NewTenantCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "tenant <subcommand>",
		Short: "tenant commands",
	}
	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list the tenants with database history",
		Args:  cobra.NoArgs,
		Run:   listTenantCommandFunc,
	})
	return m
}

func listTenantCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	tenants, err := a.ListTenants(context.Background())
	if err != nil {
		printError(cmd, "list tenants", err)
		return
	}
	if tenants == nil {
		tenants = []string{}
	}
	printResult(cmd, tenants)
}

// NewGCCommand returns the gc subcommands.
func NewGCCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "gc <subcommand>",
		Short: "gc of dropped objects past retention",
	}
	list := &cobra.Command{
		Use:   "list <tenant>",
		Short: "list the dropped objects past retention",
		Args:  cobra.ExactArgs(1),
		Run:   listDroppedCommandFunc,
	}
	list.Flags().IntVar(&gcLimit, "limit", 0, "max objects to list, 0 means no limit")
	run := &cobra.Command{
		Use:   "run <tenant>",
		Short: "remove the dropped objects past retention",
		Args:  cobra.ExactArgs(1),
		Run:   runGCCommandFunc,
	}
	run.Flags().IntVar(&gcLimit, "limit", 0, "max databases and tables to remove, 0 means no limit")
	m.AddCommand(list, run)
	return m
}

func listDroppedCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	reply, err := a.ListDroppedTables(context.Background(), &catalog.ListDroppedTableReq{Tenant: args[0], Limit: gcLimit})
	if err != nil {
		printError(cmd, "list dropped objects", err)
		return
	}
	if reply.DroppedIDs == nil {
		reply.DroppedIDs = []catalog.DroppedID{}
	}
	printResult(cmd, reply.DroppedIDs)
}

func runGCCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	start := time.Now()
	reply, err := a.Vacuum(context.Background(), args[0], gcLimit)
	if err != nil {
		printError(cmd, "gc", err)
		return
	}
	cmd.Printf("Removed %d databases, %d tables and %d indexes in %s\n",
		reply.Databases, reply.Tables, reply.Indexes, units.HumanDuration(time.Since(start)))
}

type lockRow struct {
	Revision uint64 `json:"revision"`
	User     string `json:"user"`
	Node     string `json:"node"`
	QueryID  string `json:"query_id"`
	Created  string `json:"created"`
	Expires  string `json:"expires,omitempty"`
}

// NewLockCommand returns the table lock subcommands.
func NewLockCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "lock <subcommand>",
		Short: "table lock commands",
	}
	m.AddCommand(&cobra.Command{
		Use:   "list <table-id>",
		Short: "list the live lock revisions of a table",
		Args:  cobra.ExactArgs(1),
		Run:   listLockCommandFunc,
	})
	return m
}

func listLockCommandFunc(cmd *cobra.Command, args []string) {
	tableID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		cmd.Printf("Invalid table id %s\n", args[0])
		return
	}
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	locks, err := a.ListLockRevisions(context.Background(), tableID)
	if err != nil {
		printError(cmd, "list locks", err)
		return
	}
	rows := make([]*lockRow, 0, len(locks))
	for _, l := range locks {
		row := &lockRow{
			Revision: l.Revision,
			User:     l.Meta.User,
			Node:     l.Meta.Node,
			QueryID:  l.Meta.QueryID,
			Created:  age(l.Meta.CreatedOn),
		}
		if l.ExpireAt != nil {
			row.Expires = "in " + units.HumanDuration(time.Until(*l.ExpireAt))
		}
		rows = append(rows, row)
	}
	printResult(cmd, rows)
}

// NewVersionCommand returns the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the ctl version and the storage version it writes",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Release Version:", server.MetaReleaseVersion)
			cmd.Println("Storage Version:", server.StorageVersion)
		},
	}
}
