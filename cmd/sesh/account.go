package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	qrterminal "github.com/mdp/qrterminal/v3"

	"github.com/sesh-im/sesh-go/internal/mnemonic"
)

type newCommand struct{}

func (cmd *newCommand) Execute(args []string) error {
	c := openClient()
	defer c.Close()

	if sid, err := c.SessionID(); err == nil {
		return fmt.Errorf("account already exists: %s", sid)
	}

	sid, err := c.NewAccount()
	if err != nil {
		return err
	}
	phrase, err := c.RecoveryPhrase()
	if err != nil {
		return err
	}

	fmt.Printf("Session ID: %s\n", sid)
	fmt.Println()
	fmt.Println("Recovery phrase (write it down, it is the only backup):")
	fmt.Printf("  %s\n", phrase)
	return nil
}

type restoreCommand struct {
	Args struct {
		Phrase []string `positional-arg-name:"word" required:"true" description:"Recovery phrase words"`
	} `positional-args:"true" required:"true"`
}

func (cmd *restoreCommand) Execute(args []string) error {
	phrase := strings.Join(cmd.Args.Phrase, " ")
	if !mnemonic.Valid(phrase) {
		return fmt.Errorf("not a valid recovery phrase")
	}
	seedHex, err := mnemonic.ToHex(phrase)
	if err != nil {
		return err
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return err
	}

	c := openClient()
	defer c.Close()

	sid, err := c.RestoreAccount(seed)
	if err != nil {
		return err
	}
	fmt.Printf("Restored account %s\n", sid)
	return nil
}

type idCommand struct {
	QR bool `long:"qr" description:"Also print the session ID as a QR code"`
}

func (cmd *idCommand) Execute(args []string) error {
	c := openClient()
	defer c.Close()

	sid, err := c.SessionID()
	if err != nil {
		return err
	}
	fmt.Println(sid)

	if cmd.QR {
		qrterminal.GenerateWithConfig(sid, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
		})
	}
	return nil
}

type mnemonicCommand struct{}

func (cmd *mnemonicCommand) Execute(args []string) error {
	c := openClient()
	defer c.Close()

	phrase, err := c.RecoveryPhrase()
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	return nil
}
