package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	client "github.com/sesh-im/sesh-go"
)

type sendCommand struct {
	Durable    bool     `long:"durable" description:"Persist the send so it survives restarts"`
	Attachment []string `long:"attachment" description:"Local file to attach (repeatable)"`
	Args       struct {
		Recipient string `positional-arg-name:"recipient" required:"true" description:"Session ID of the recipient"`
		Message   string `positional-arg-name:"message" required:"true" description:"Text message to send"`
	} `positional-args:"true" required:"true"`
}

func (cmd *sendCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := openClient()
	defer c.Close()

	if len(cmd.Attachment) > 0 {
		if cmd.Durable {
			return fmt.Errorf("attachments are only supported on non-durable sends")
		}
		id, err := c.SendAttachments(ctx, cmd.Args.Recipient, cmd.Args.Message, cmd.Attachment)
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s with %d attachment(s)\n", id, len(cmd.Attachment))
		return nil
	}

	id, err := c.SendMessage(ctx, cmd.Args.Recipient, cmd.Args.Message, cmd.Durable)
	if err != nil {
		return err
	}
	if cmd.Durable {
		fmt.Printf("Queued %s for delivery\n", id)
	} else {
		fmt.Printf("Sent %s\n", id)
	}
	return nil
}

type syncConfigCommand struct {
	Force bool `long:"force" description:"Send immediately instead of queueing"`
}

func (cmd *syncConfigCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := openClient()
	defer c.Close()

	res, err := c.SyncConfiguration(ctx, cmd.Force)
	if err != nil {
		return err
	}
	switch res {
	case client.SyncDelivered:
		fmt.Println("Configuration delivered")
	case client.SyncBestEffortFailed:
		fmt.Println("Configuration push failed; will refresh on the next sync")
	case client.SyncQueued:
		fmt.Println("Configuration sync queued")
	}
	return nil
}
