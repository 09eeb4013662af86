package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"
)

type receiveCommand struct{}

func (cmd *receiveCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := openClient()
	defer c.Close()

	fmt.Println("Listening for envelopes (Ctrl-C to stop)...")
	for env, err := range c.Receive(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "receive error: %v\n", err)
			continue
		}
		ts := time.UnixMilli(int64(env.TimestampMs)).Format(time.RFC3339)
		switch {
		case env.Data != nil && env.Data.Body != "":
			fmt.Printf("[%s] %s: %s\n", ts, env.Source, env.Data.Body)
		case env.Config != nil:
			fmt.Printf("[%s] configuration update from %s\n", ts, env.Source)
		default:
			fmt.Printf("[%s] %s envelope from %s\n", ts, env.Type, env.Source)
		}
	}
	return nil
}
