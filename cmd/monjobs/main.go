// Command monjobs runs the job API server, the worker runner and the job lifecycle commands.
package main

import "github.com/nimburion/monjobs/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{}))
}
