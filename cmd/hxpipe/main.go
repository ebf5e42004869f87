// Command hxpipe is the CLI entrypoint: it delegates straight to
// internal/cli, which owns both the original crawl command and the
// extract command that runs the reliable extraction pipeline directly.
package main

import (
	cmd "github.com/kestrelsoft/hxpipe/internal/cli"
)

func main() {
	cmd.Execute()
}
