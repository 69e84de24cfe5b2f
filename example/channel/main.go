package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisCDSS"
)

func main() {
	flow, err := aegiscdss.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, warnings, closeWarnings := aegiscdss.NewChannelSink("fanout", 32)
	defer closeWarnings()

	go fanoutWorker("ward", warnings)

	// Leaf outputs are the warnings nothing else in the network consumes.
	if err := flow.Run(ctx, aegiscdss.StreamOutLeafs(sink)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, warnings <-chan aegiscdss.Warning) {
	for w := range warnings {
		fmt.Printf("[%s] %s -> %v at %s\n", name, w.Channel, w.Payload.Value, time.Now().Format(time.RFC3339))
	}
}
