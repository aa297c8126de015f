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
	"time"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/spf13/cobra"
)

var (
	databaseIfExists bool
	databaseEngine   string
	databaseComment  string
)

type databaseRow struct {
	ID      uint64            `json:"id"`
	Name    string            `json:"name"`
	Engine  string            `json:"engine"`
	Options map[string]string `json:"options,omitempty"`
	Comment string            `json:"comment,omitempty"`
	Created string            `json:"created"`
}

// age renders how long ago t was, for humans.
func age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return units.HumanDuration(time.Since(t)) + " ago"
}

// NewDatabaseCommand returns the database subcommands.
func NewDatabaseCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "database <subcommand>",
		Short: "database commands",
	}
	create := &cobra.Command{
		Use:   "create <tenant> <name>",
		Short: "create a database",
		Args:  cobra.ExactArgs(2),
		Run:   createDatabaseCommandFunc,
	}
	create.Flags().StringVar(&databaseEngine, "engine", "default", "database engine")
	create.Flags().StringVar(&databaseComment, "comment", "", "database comment")
	drop := &cobra.Command{
		Use:   "drop <tenant> <name>",
		Short: "soft-drop a database",
		Args:  cobra.ExactArgs(2),
		Run:   dropDatabaseCommandFunc,
	}
	drop.Flags().BoolVar(&databaseIfExists, "if-exists", false, "succeed when the database does not exist")
	rename := &cobra.Command{
		Use:   "rename <tenant> <name> <new-name>",
		Short: "rename a database",
		Args:  cobra.ExactArgs(3),
		Run:   renameDatabaseCommandFunc,
	}
	rename.Flags().BoolVar(&databaseIfExists, "if-exists", false, "succeed when the database does not exist")
	m.AddCommand(
		create,
		drop,
		rename,
		&cobra.Command{
			Use:   "undrop <tenant> <name>",
			Short: "restore the last dropped database of a name",
			Args:  cobra.ExactArgs(2),
			Run:   undropDatabaseCommandFunc,
		},
		&cobra.Command{
			Use:   "list <tenant>",
			Short: "list the live databases of a tenant",
			Args:  cobra.ExactArgs(1),
			Run:   listDatabaseCommandFunc,
		},
	)
	return m
}

func createDatabaseCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	reply, err := a.CreateDatabase(context.Background(), &catalog.CreateDatabaseReq{
		NameIdent: catalog.DatabaseNameIdent{Tenant: args[0], DBName: args[1]},
		Meta:      catalog.DatabaseMeta{Engine: databaseEngine, Comment: databaseComment},
	})
	if err != nil {
		printError(cmd, "create database", err)
		return
	}
	cmd.Printf("Created database %s with id %d\n", args[1], reply.DBID)
}

func dropDatabaseCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	reply, err := a.DropDatabase(context.Background(), &catalog.DropDatabaseReq{
		IfExists:  databaseIfExists,
		NameIdent: catalog.DatabaseNameIdent{Tenant: args[0], DBName: args[1]},
	})
	if err != nil {
		printError(cmd, "drop database", err)
		return
	}
	if reply.DBID == 0 {
		cmd.Printf("Database %s does not exist\n", args[1])
		return
	}
	cmd.Printf("Dropped database %s\n", args[1])
}

func undropDatabaseCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	err = a.UndropDatabase(context.Background(), &catalog.UndropDatabaseReq{
		NameIdent: catalog.DatabaseNameIdent{Tenant: args[0], DBName: args[1]},
	})
	if err != nil {
		printError(cmd, "undrop database", err)
		return
	}
	cmd.Printf("Undropped database %s\n", args[1])
}

func renameDatabaseCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	err = a.RenameDatabase(context.Background(), &catalog.RenameDatabaseReq{
		IfExists:  databaseIfExists,
		NameIdent: catalog.DatabaseNameIdent{Tenant: args[0], DBName: args[1]},
		NewDBName: args[2],
	})
	if err != nil {
		printError(cmd, "rename database", err)
		return
	}
	cmd.Printf("Renamed database %s to %s\n", args[1], args[2])
}

func listDatabaseCommandFunc(cmd *cobra.Command, args []string) {
	a, err := getAPI()
	if err != nil {
		printError(cmd, "open store", err)
		return
	}
	dbs, err := a.ListDatabases(context.Background(), args[0])
	if err != nil {
		printError(cmd, "list databases", err)
		return
	}
	rows := make([]*databaseRow, 0, len(dbs))
	for _, db := range dbs {
		rows = append(rows, &databaseRow{
			ID:      db.DBID,
			Name:    db.Name.DBName,
			Engine:  db.Meta.Engine,
			Options: db.Meta.Options,
			Comment: db.Meta.Comment,
			Created: age(db.Meta.CreatedOn),
		})
	}
	printResult(cmd, rows)
}
