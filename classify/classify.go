// Package classify labels captured payloads for the diagnostic log.
//
// The honeypot never answers past its banner, so classification is purely
// informational: it tells an operator reading the log whether a peer on the
// https port sent a TLS ClientHello, whether port 80 got a real HTTP request,
// and so on.
package classify

import (
	"bytes"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Kind is a coarse payload category.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindTLS    Kind = "tls"
	KindHTTP   Kind = "http"
	KindSSH    Kind = "ssh"
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

// Result is the outcome of Payload.
type Result struct {
	Kind   Kind
	Detail string // e.g. "ClientHello TLS 1.0", "GET /", "SSH-2.0-Go"
}

func (r Result) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("HEAD "), []byte("PUT "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("CONNECT "), []byte("PATCH "),
	[]byte("PRI * HTTP/2"),
}

// Payload classifies the bytes a peer sent.
func Payload(b []byte) Result {
	if len(b) == 0 {
		return Result{Kind: KindEmpty}
	}
	if r, ok := tlsRecord(b); ok {
		return r
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(b, m) {
			return Result{Kind: KindHTTP, Detail: firstLine(b, 80)}
		}
	}
	if bytes.HasPrefix(b, []byte("SSH-")) {
		return Result{Kind: KindSSH, Detail: firstLine(b, 80)}
	}
	if isText(b) {
		return Result{Kind: KindText}
	}
	return Result{Kind: KindBinary, Detail: fmt.Sprintf("%d bytes", len(b))}
}

// tlsRecord decodes b as TLS records. Record types are 20-23 and every
// version in use starts with major byte 3.
func tlsRecord(b []byte) (Result, bool) {
	if len(b) < 5 || b[0] < 20 || b[0] > 23 || b[1] != 3 {
		return Result{}, false
	}

	var tls layers.TLS
	if err := tls.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return Result{Kind: KindTLS, Detail: "malformed record"}, true
	}

	if len(tls.Handshake) > 0 {
		hs := tls.Handshake[0]
		msg := "Handshake"
		if len(b) > 5 {
			switch b[5] {
			case 1:
				msg = "ClientHello"
			case 2:
				msg = "ServerHello"
			}
		}
		return Result{Kind: KindTLS, Detail: fmt.Sprintf("%s %s", msg, hs.Version)}, true
	}
	if len(tls.Alert) > 0 {
		return Result{Kind: KindTLS, Detail: "Alert"}, true
	}
	if len(tls.AppData) > 0 {
		return Result{Kind: KindTLS, Detail: "ApplicationData"}, true
	}
	return Result{Kind: KindTLS}, true
}

func firstLine(b []byte, max int) string {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		b = b[:i]
	}
	if len(b) > max {
		b = b[:max]
	}
	return string(bytes.ToValidUTF8(b, []byte("?")))
}

// isText reports whether b is valid UTF-8 made of printable runes and
// whitespace.
func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
