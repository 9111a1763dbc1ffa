package main

import (
	"fmt"
	"os"

	"github.com/mwantia/goassets/cmd/goassets/cli"
	"github.com/mwantia/goassets/cmd/goassets/cli/client"
	"github.com/mwantia/goassets/cmd/goassets/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())

	root.AddCommand(server.NewAgentCommand())
	root.AddCommand(server.NewConfigCommand())

	root.AddCommand(client.NewAssetsCommand())
	root.AddCommand(client.NewScanCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
