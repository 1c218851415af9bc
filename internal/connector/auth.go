package connector

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrAuthenticationFailed = errors.New("authentication failed")

// Authentication is the handshake a passive connector requires before it
// exchanges application data. Active connectors send the response.
type Authentication interface {
	MaximumResponseLength() int
	ResponseIsComplete(response []byte) bool
	ResponseIsValid(response []byte) bool
	SendResponse(w io.Writer) error
}

// PassphraseAuthentication expects a single newline terminated passphrase
type PassphraseAuthentication struct {
	Passphrase string
}

func (p PassphraseAuthentication) MaximumResponseLength() int {
	return len(p.Passphrase) + 2
}

func (p PassphraseAuthentication) ResponseIsComplete(response []byte) bool {
	return len(response) > 0 && response[len(response)-1] == '\n'
}

func (p PassphraseAuthentication) ResponseIsValid(response []byte) bool {
	return strings.TrimRight(string(response), "\r\n") == p.Passphrase
}

func (p PassphraseAuthentication) SendResponse(w io.Writer) error {
	_, err := io.WriteString(w, p.Passphrase+"\n")
	return err
}

// authenticate reads the response one byte at a time so that no application
// data following it is consumed
func authenticate(stream io.ReadWriter, auth Authentication) error {
	if conn, ok := stream.(net.Conn); ok {
		if err := conn.SetReadDeadline(time.Now().Add(authenticationTimeout)); err == nil {
			defer conn.SetReadDeadline(time.Time{})
		}
	}

	limit := auth.MaximumResponseLength()
	response := make([]byte, 0, limit)
	one := make([]byte, 1)
	for {
		n, err := stream.Read(one)
		if n > 0 {
			response = append(response, one[0])
			if auth.ResponseIsComplete(response) {
				break
			}
			if len(response) >= limit {
				return fmt.Errorf("%w: response longer than %d bytes", ErrAuthenticationFailed, limit)
			}
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
	}

	if !auth.ResponseIsValid(response) {
		return fmt.Errorf("%w: invalid response", ErrAuthenticationFailed)
	}
	return nil
}
