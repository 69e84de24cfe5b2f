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

	callback := func(w aegiscdss.Warning) error {
		fmt.Printf("%s channel=%s source=%s value=%v\n",
			w.Payload.Timestamp.Format(time.RFC3339Nano),
			w.Channel,
			w.Payload.Source,
			w.Payload.Value,
		)
		return nil
	}

	err = flow.Run(ctx, aegiscdss.StreamOutCallback("stdout", callback, "sf.limit", "resp.warn", "fio2.mismatch"))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
