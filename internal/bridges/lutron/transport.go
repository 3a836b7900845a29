package lutron

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"
)

const (
	// defaultWriteTimeout bounds a single line write.
	defaultWriteTimeout = 5 * time.Second

	// maxPromptScan is how many trailing bytes WaitFor keeps while scanning.
	maxPromptScan = 512

	// readBufferSize fits the largest LEAP discovery responses in one buffer fill.
	readBufferSize = 64 * 1024
)

// lineTerminator ends every outbound line for both protocols.
const lineTerminator = "\r\n"

// Transport is a line-framed byte stream to the hub.
//
// ReadLine and WaitFor are called from one goroutine at a time; WriteLine
// may be called concurrently with them. Close unblocks pending reads.
type Transport interface {
	// ReadLine blocks until a full line arrives and returns it without
	// the line terminator. End of stream is reported as ErrConnectionLost.
	ReadLine() (string, error)

	// WaitFor reads until the stream ends with one of tokens and returns the
	// token seen. The wait is bounded by ctx.
	WaitFor(ctx context.Context, tokens ...string) (string, error)

	// WriteLine writes line followed by CRLF.
	WriteLine(line string) error

	Close() error
}

// Dialer opens transports. Tests substitute an in-memory implementation.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// NetDialer dials TCP for LIP and TLS for LEAP.
type NetDialer struct{}

// Dial opens a connection to cfg.Address(). Key material errors, certificate
// rejections and unresolvable hosts are configuration errors; everything else
// is a communication error.
func (NetDialer) Dial(ctx context.Context, cfg Config) (Transport, error) {
	addr := cfg.Address()

	var d net.Dialer
	if cfg.Protocol != ProtocolLEAP {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, classifyDialError(addr, err)
		}
		return NewConnTransport(conn), nil
	}

	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	td := tls.Dialer{NetDialer: &d, Config: tlsCfg}
	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}
	return NewConnTransport(conn), nil
}

func classifyDialError(addr string, err error) error {
	var (
		dnsErr      *net.DNSError
		addrErr     *net.AddrError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
	)
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound,
		errors.As(err, &addrErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr):
		return fmt.Errorf("%w: dial %s: %w", ErrConfiguration, addr, err)
	default:
		return fmt.Errorf("%w: dial %s: %w", ErrCommunication, addr, err)
	}
}

// buildTLSConfig loads the client identity and trust anchors for LEAP.
// A PKCS#12 keystore takes precedence over PEM files.
func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.Host,
	}

	var roots *x509.CertPool
	switch {
	case cfg.Keystore != "":
		cert, extra, err := loadKeystore(cfg.Keystore, cfg.KeystorePassword)
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
		if len(extra) > 0 {
			roots = x509.NewCertPool()
			for _, c := range extra {
				roots.AddCert(c)
			}
		}
	case cfg.CertFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrConfiguration, err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrConfiguration, err)
		}
		if roots == nil {
			roots = x509.NewCertPool()
		}
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrConfiguration, cfg.CAFile)
		}
	}
	tc.RootCAs = roots

	if !cfg.CertValidate {
		// Hubs present self-signed certificates issued by the pairing CA.
		tc.InsecureSkipVerify = true //nolint:gosec // opt-in via cert_validate: false
	}
	return tc, nil
}

// loadKeystore reads a PKCS#12 keystore. The certificate matching the
// private key becomes the client identity; the remaining certificates are
// returned as trust anchors (the hub's CA is stored alongside the key).
func loadKeystore(path, password string) (tls.Certificate, []*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("%w: reading keystore: %w", ErrConfiguration, err)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("%w: decoding keystore: %w", ErrConfiguration, err)
	}

	var keyPEM []byte
	var certs []*pem.Block
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			keyPEM = pem.EncodeToMemory(b)
		case "CERTIFICATE":
			certs = append(certs, b)
		}
	}
	if keyPEM == nil {
		return tls.Certificate{}, nil, fmt.Errorf("%w: keystore has no private key", ErrConfiguration)
	}

	var identity tls.Certificate
	var extra []*x509.Certificate
	found := false
	for _, b := range certs {
		if !found {
			if pair, err := tls.X509KeyPair(pem.EncodeToMemory(b), keyPEM); err == nil {
				identity, found = pair, true
				continue
			}
		}
		if c, err := x509.ParseCertificate(b.Bytes); err == nil {
			extra = append(extra, c)
		}
	}
	if !found {
		return tls.Certificate{}, nil, fmt.Errorf("%w: keystore has no certificate for its key", ErrConfiguration)
	}
	return identity, extra, nil
}

// connTransport adapts a net.Conn (plain or TLS) to Transport.
type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConnTransport wraps conn. The transport owns conn from here on.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, readBufferSize),
		writeTimeout: defaultWriteTimeout,
	}
}

func (t *connTransport) ReadLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *connTransport) WaitFor(ctx context.Context, tokens ...string) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("%w: setting read deadline: %w", ErrCommunication, err)
		}
	}
	defer t.conn.SetReadDeadline(time.Time{}) //nolint:errcheck // best effort reset
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now()) //nolint:errcheck // wakes the blocked read
	})
	defer stop()

	want := make([][]byte, len(tokens))
	for i, tok := range tokens {
		want[i] = []byte(tok)
	}

	buf := make([]byte, 0, maxPromptScan)
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("%w: waiting for %v: %w", ErrCommunication, tokens, ctxErr)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", fmt.Errorf("%w: waiting for %v: %w", ErrCommunication, tokens, err)
			}
			return "", fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		if len(buf) == maxPromptScan {
			buf = append(buf[:0], buf[maxPromptScan/2:]...)
		}
		buf = append(buf, b)
		for i, tok := range want {
			if bytes.HasSuffix(buf, tok) {
				return tokens[i], nil
			}
		}
	}
}

func (t *connTransport) WriteLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("%w: setting write deadline: %w", ErrCommunication, err)
	}
	if _, err := t.conn.Write([]byte(line + lineTerminator)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrCommunication, err)
	}
	return nil
}

func (t *connTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
