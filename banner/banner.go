// Package banner holds the fake greetings the honeypot sends to every new connection.
package banner

import (
	"fmt"
	"sort"
)

// DefaultResponse is sent on ports without a dedicated banner.
const DefaultResponse = "\r\n"

// Opening bytes of each emulated service. Only the first message of each
// protocol is imitated; nothing past it is implemented.
var responses = map[int]string{
	21: "220 FTP server ready\r\n",
	22: "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.1\r\n",
	23: "\r\nLogin: ",
	80: "HTTP/1.1 200 OK\r\n" +
		"Server: Apache/2.4.41 (Ubuntu)\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body><h1>It works!</h1></body></html>\r\n",
	// No TLS: scanners get a plaintext 400 on the https port.
	443: "HTTP/1.1 400 Bad Request\r\n\r\n",
	// Shaped like the server-version part of a MySQL greeting packet.
	3306: "5.7.34-log\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",
	// Postgres ErrorResponse framing: 'E' + int32 length + message.
	5432: "E\x00\x00\x00\x24Too many connections\x00",
}

// Well-known port names
var portNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	443:   "https",
	445:   "microsoft-ds",
	1433:  "ms-sql-s",
	1521:  "oracle",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	5432:  "postgresql",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	27017: "mongodb",
}

// For returns the banner for port. It never fails: ports without an entry
// get DefaultResponse. The returned slice is owned by the caller.
func For(port int) []byte {
	if r, ok := responses[port]; ok {
		return []byte(r)
	}
	return []byte(DefaultResponse)
}

// Has reports whether port has a dedicated banner.
func Has(port int) bool {
	_, ok := responses[port]
	return ok
}

// DefaultPorts returns the ports monitored when none are configured, in
// ascending order.
func DefaultPorts() []int {
	ports := make([]int, 0, len(responses))
	for p := range responses {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// Service returns a human-readable service name for port, or "" if unknown.
func Service(port int) string {
	return portNames[port]
}

// FormatPort returns port with optional name
func FormatPort(port int) string {
	if name := Service(port); name != "" {
		return fmt.Sprintf("%d(%s)", port, name)
	}
	return fmt.Sprintf("%d", port)
}
