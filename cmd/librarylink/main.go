// cmd/librarylink/main.go
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	return execute(&app{}, args, stdout, stderr)
}

func execute(a *app, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	a.close()
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("command failed", "error", err)
		}
		io.WriteString(stderr, "Error: "+userMessage(err)+"\n")
		return 1
	}
	return 0
}
