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


package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/tinymeta/meta/tools/meta-ctl/command"
	"github.com/spf13/cobra"
)

var interact bool

func addSubcommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		command.NewDatabaseCommand(),
		command.NewTableCommand(),
		command.NewTenantCommand(),
		command.NewGCCommand(),
		command.NewLockCommand(),
		command.NewVersionCommand(),
	)
}

// GetRootCmd returns the root command with the store flags. Flags parsed by
// it configure every later command of the process.
func GetRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meta-ctl",
		Short: "Meta catalog control tool",
	}
	command.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().BoolVarP(&interact, "interact", "i", false, "run the interactive mode")
	addSubcommands(rootCmd)
	return rootCmd
}

func getInteractCmd(args []string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "meta-ctl",
		SilenceUsage: true,
	}
	addSubcommands(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOutput(os.Stdout)
	return rootCmd
}

// Start runs the command line once, or the interactive loop with -i.
func Start(args []string) {
	defer command.Close()

	rootCmd := GetRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOutput(os.Stdout)
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		if !interact {
			cmd.Println(cmd.UsageString())
			return
		}
		loop()
	}
	if err := rootCmd.Execute(); err != nil {
		rootCmd.Println(err)
	}
}

func loop() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       "/tmp/meta-ctl-readline.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "exit" {
			return
		}
		if line == "" {
			continue
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse command err:", err)
			continue
		}
		if err := getInteractCmd(args).Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
