package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/handset/host/internal/auth"
	"github.com/handset/host/internal/client"
	apperrors "github.com/handset/host/internal/errors"
)

// keyFlags are shared by send and keygen.
type keyFlags struct {
	code string
	kdf  string
	salt string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.code, "code", "", "Pairing code shown by the host (required)")
	fs.StringVar(&k.kdf, "kdf", "", "Key derivation used by the host (default: sha256)")
	fs.StringVar(&k.salt, "kdf-salt", "", "Salt used by the host")
}

func (k *keyFlags) deriveKey() ([]byte, error) {
	if k.code == "" {
		return nil, fmt.Errorf("--code is required")
	}
	if err := auth.ValidateCode(k.code); err != nil {
		return nil, err
	}
	d, err := auth.NewDeriver(k.kdf, k.salt)
	if err != nil {
		return nil, err
	}
	if auth.Salted(d.Name()) && k.salt == "" {
		return nil, fmt.Errorf("--kdf-salt is required for kdf %s", d.Name())
	}
	return d.DeriveKey(k.code)
}

func runSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var keys keyFlags
	keys.register(fs)
	addr := fs.String("addr", "127.0.0.1:5000", "Host address")
	fast := fs.Bool("udp", false, "Send over UDP without waiting for a result")
	timeout := fs.Duration("timeout", 10*time.Second, "Overall timeout including retries")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: handset send [options] <command> [key=value ...]

Send one authenticated command. Integer values are sent as numbers.

Examples:
  handset send --code 482913 click button=left
  handset send --code 482913 mouse_move_relative dx=10 dy=-4
  handset send --code 482913 type_text "text=hello world"

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fs.Usage()
		return 1
	}
	data, err := parseCommandData(rest[1:])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	key, err := keys.deriveKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c, err := client.New(client.Config{Key: key, HTTPAddr: *addr, UDPAddr: *addr})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *fast {
		if err := c.SendFast(rest[0], data); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "sent")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := c.Send(ctx, rest[0], data)
	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		fmt.Fprintf(stderr, "Error: %s (%s)\n", msg, code)
		if hint := apperrors.GetNextAction(code); hint != "" {
			fmt.Fprintf(stderr, "Hint: %s\n", hint)
		}
		return 1
	}
	fmt.Fprintln(stdout, resp.Status)
	return 0
}

// parseCommandData turns key=value arguments into a data object.
// Values that parse as integers become numbers.
func parseCommandData(args []string) (map[string]any, error) {
	data := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		if n, err := strconv.Atoi(v); err == nil {
			data[k] = n
		} else {
			data[k] = v
		}
	}
	return data, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var keys keyFlags
	keys.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: handset keygen --code <code> [options]\n\nPrint the hex command key for a pairing code, for debugging companion apps.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	key, err := keys.deriveKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hex.EncodeToString(key))
	return 0
}
