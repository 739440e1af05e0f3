// Command nzbqueued runs the headless Job Coordinator: it loads a queue
// directory and configuration file, scans for new NZBs, downloads their
// articles from configured NNTP providers, and post-processes finished
// jobs, with no HTTP surface of its own.
package main

import "github.com/javi11/nzbqueued/cmd/nzbqueued/cmd"

func main() {
	cmd.Execute()
}
