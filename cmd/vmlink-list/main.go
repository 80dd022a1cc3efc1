// Command vmlink-list connects to a VM link endpoint and prints the
// peripheral endpoints it currently exposes, one per line.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/strandlabs/vmlink"
	"github.com/strandlabs/vmlink/internal/logging"
)

func main() {
	var (
		target  = flag.String("target", "", "VM target host[:port] (defaults to $COREMODEL_VM)")
		verbose = flag.Bool("v", false, "Verbose output")
		timeout = flag.Duration("timeout", 2*time.Second, "List query timeout")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	client, err := vmlink.Connect(*target, &vmlink.Options{Logger: logger})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	entries, err := client.List(*timeout)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\n", e.Type, e.Name)
	}
}
