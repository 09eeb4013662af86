// Command sesh is a CLI for a Session-style messenger account.
//
// Usage:
//
//	sesh new                  Create a new account
//	sesh restore <phrase...>  Restore an account from its recovery phrase
//	sesh id                   Show the account's session ID
//	sesh send <to> <msg>      Send a text message
//	sesh receive              Receive and print incoming envelopes
package main

import (
	"fmt"
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"

	client "github.com/sesh-im/sesh-go"
)

type globalOpts struct {
	DataDir    string `long:"data-dir" description:"Data directory (database and attachment streams)"`
	SwarmURL   string `long:"swarm-url" description:"Swarm endpoint override"`
	FileServer string `long:"file-server" description:"File server endpoint override"`
	Verbose    bool   `short:"v" long:"verbose" description:"Enable verbose logging"`

	New        newCommand        `command:"new" description:"Create a new account from a random seed"`
	Restore    restoreCommand    `command:"restore" description:"Restore an account from a recovery phrase"`
	ID         idCommand         `command:"id" description:"Show the account's session ID"`
	Mnemonic   mnemonicCommand   `command:"mnemonic" description:"Show the account's recovery phrase"`
	Send       sendCommand       `command:"send" description:"Send a text message"`
	SyncConfig syncConfigCommand `command:"sync-config" description:"Push the account configuration to its own swarm"`
	Receive    receiveCommand    `command:"receive" description:"Receive and print incoming envelopes"`
}

var opts globalOpts

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func clientOpts() []client.Option {
	var copts []client.Option
	if opts.DataDir != "" {
		copts = append(copts, client.WithDataDir(opts.DataDir))
	}
	if opts.SwarmURL != "" {
		copts = append(copts, client.WithSwarmURL(opts.SwarmURL))
	}
	if opts.FileServer != "" {
		copts = append(copts, client.WithFileServerURL(opts.FileServer))
	}
	if opts.Verbose {
		copts = append(copts, client.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	return copts
}

// openClient opens the account database and exits on failure.
func openClient() *client.Client {
	c, err := client.Open(clientOpts()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return c
}
