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
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/spf13/cobra"
)

var tableIfExists bool

type tableRow struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Engine  string `json:"engine"`
	Columns int    `json:"columns"`
	Rows    uint64 `json:"rows"`
	Size    string `json:"size"`
	Created string `json:"created"`
}

// NewTableCommand returns the table subcommands.
func NewTableCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "table <subcommand>",
		Short: "table commands",
	}
	drop := &cobra.Command{
		Use:   "drop <tenant> <db> <table>",
		Short: "soft-drop a table",
		Args:  cobra.ExactArgs(3),
		Run:   dropTableCommandFunc,
	}
	drop.Flags().BoolVar(&tableIfExists, "if-exists", false, "succeed when the table does not exist")
	rename := &cobra.Command{
		Use:   "rename <tenant> <db> <table> <new-db> <new-table>",
		Short: "rename a table, possibly into another database",
		Args:  cobra.ExactArgs(5),
		Run:   renameTableCommandFunc,
	}
	rename.Flags().BoolVar(&tableIfExists, "if-exists", false, "succeed when the table does not exist")
	m.AddCommand(
		drop,
		rename,
		&cobra.Command{
			Use:   "list <tenant> <db>",
			Short: "list the live tables of a database",
			Args:  cobra.ExactArgs(2),
			Run:   listTableCommandFunc,
		},
		&cobra.Command{
			Use:   "show <table-id>",
			Short: "show a table by id, dropped or not",
			Args:  cobra.ExactArgs(1),
			Run:   showTableCommandFunc,
		},
		&cobra.Command{
			Use:   "undrop <tenant> <db> <table>",
			Short: "restore the last dropped table of a name",
			Args:  cobra.ExactArgs(3),
			Run:   undropTableCommandFunc,
		},
	)
	return m
}

func tableIdent(args []string) catalog.TableNameIdent {
	return catalog.TableNameIdent{Tenant: args[0], DBName: args[1], TableName: args[2]}
}

func listTableCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	tables, err := a.ListTables(context.Background(), catalog.DatabaseNameIdent{Tenant: args[0], DBName: args[1]})
	if err != nil {
		printError(cmd, "list tables", err)
		return
	}
	rows := make([]*tableRow, 0, len(tables))
	for _, t := range tables {
		row := &tableRow{
			ID:      t.TableID,
			Name:    t.Name,
			Engine:  t.Meta.Engine,
			Rows:    t.Meta.Statistics.NumberOfRows,
			Size:    units.BytesSize(float64(t.Meta.Statistics.DataBytes)),
			Created: age(t.Meta.CreatedOn),
		}
		if t.Meta.Schema != nil {
			row.Columns = len(t.Meta.Schema.Fields)
		}
		rows = append(rows, row)
	}
	printResult(cmd, rows)
}

func showTableCommandFunc(cmd *cobra.Command, args []string) {
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
	info, err := a.GetTableByID(context.Background(), tableID)
	if err != nil {
		printError(cmd, "get table", err)
		return
	}
	printResult(cmd, info)
	if dropOn := info.Meta.DropOn; dropOn != nil {
		cmd.Printf("Dropped %s ago\n", units.HumanDuration(time.Since(*dropOn)))
	}
}

func dropTableCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	ctx := context.Background()
	info, err := a.GetTable(ctx, tableIdent(args))
	if err != nil {
		if tableIfExists && catalog.ErrorCode(err) == catalog.CodeUnknownTable {
			cmd.Printf("Table %s does not exist\n", args[2])
			return
		}
		printError(cmd, "drop table", err)
		return
	}
	reply, err := a.DropTableByID(ctx, &catalog.DropTableByIDReq{
		IfExists: tableIfExists,
		Tenant:   args[0],
		TableID:  info.TableID,
	})
	if err != nil {
		printError(cmd, "drop table", err)
		return
	}
	if !reply.Dropped {
		cmd.Printf("Table %s does not exist\n", args[2])
		return
	}
	cmd.Printf("Dropped table %s\n", args[2])
}

func undropTableCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	if err := a.UndropTable(context.Background(), &catalog.UndropTableReq{NameIdent: tableIdent(args)}); err != nil {
		printError(cmd, "undrop table", err)
		return
	}
	cmd.Printf("Undropped table %s\n", args[2])
}

func renameTableCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	err = a.RenameTable(context.Background(), &catalog.RenameTableReq{
		IfExists:     tableIfExists,
		NameIdent:    tableIdent(args),
		NewDBName:    args[3],
		NewTableName: args[4],
	})
	if err != nil {
		printError(cmd, "rename table", err)
		return
	}
	cmd.Printf("Renamed table %s to %s.%s\n", args[2], args[3], args[4])
}
