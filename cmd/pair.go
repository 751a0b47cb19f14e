package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// PairingInfo is what the phone needs to talk to this host.
type PairingInfo struct {
	Code string
	Addr string // host:port reachable from the phone
	KDF  string
	Salt string
}

// URL renders the info as handset://pair?host=..&code=..&kdf=..[&salt=..].
func (p PairingInfo) URL() string {
	q := url.Values{}
	q.Set("host", p.Addr)
	q.Set("code", p.Code)
	q.Set("kdf", p.KDF)
	if p.Salt != "" {
		q.Set("salt", p.Salt)
	}
	return "handset://pair?" + q.Encode()
}

// DisplayPairingCode prints the pairing banner.
func DisplayPairingCode(w io.Writer, info PairingInfo) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(info.Code))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Host:    %s\n", info.Addr)
	fmt.Fprintf(w, "  KDF:     %s\n", info.KDF)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the phone app.")
	fmt.Fprintln(w, "  It stays valid until the host restarts.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRCode shows the pairing URL as a QR code with a plain-text fallback.
func DisplayQRCode(w io.Writer, info PairingInfo) {
	qr, err := qrcode.New(info.URL(), qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayPairingCode(w, info)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code:  %s\n", FormatCodeWithSpaces(info.Code))
	fmt.Fprintf(w, "  Host:  %s\n", info.Addr)
	fmt.Fprintf(w, "  KDF:   %s\n", info.KDF)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces adds spaces between digits for readability.
// "123456" -> "1 2 3 4 5 6"
func FormatCodeWithSpaces(code string) string {
	var b strings.Builder
	for i, c := range code {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	return b.String()
}
