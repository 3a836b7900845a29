package lutron

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func newPipeTransport(t *testing.T) (Transport, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	tr := NewConnTransport(client)
	t.Cleanup(func() {
		tr.Close()
		server.Close()
	})
	return tr, server
}

// hubWrite writes from the hub side without blocking the test.
func hubWrite(conn net.Conn, data string) {
	go conn.Write([]byte(data)) //nolint:errcheck
}

func TestConnTransportWaitFor(t *testing.T) {
	tr, hub := newPipeTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	hubWrite(hub, "\r\nlogin: ")
	got, err := tr.WaitFor(ctx, promptLogin)
	if err != nil || got != promptLogin {
		t.Fatalf("WaitFor() = %q, %v", got, err)
	}

	hubWrite(hub, " \r\nQNET> ")
	got, err = tr.WaitFor(ctx, promptLogin, promptGNET, promptQNET)
	if err != nil || got != promptQNET {
		t.Fatalf("WaitFor() = %q, %v; want QNET>", got, err)
	}
}

func TestConnTransportWaitForTimeout(t *testing.T) {
	tr, _ := newPipeTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.WaitFor(ctx, promptLogin)
	if !errors.Is(err, ErrCommunication) {
		t.Errorf("WaitFor() error = %v, want ErrCommunication", err)
	}
}

func TestConnTransportReadLine(t *testing.T) {
	tr, hub := newPipeTransport(t)

	hubWrite(hub, "~OUTPUT,12,1,75.00\r\n~DEVICE,5,3,3\n")
	for _, want := range []string{"~OUTPUT,12,1,75.00", "~DEVICE,5,3,3"} {
		got, err := tr.ReadLine()
		if err != nil || got != want {
			t.Errorf("ReadLine() = %q, %v; want %q", got, err, want)
		}
	}

	hub.Close()
	if _, err := tr.ReadLine(); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("ReadLine() after hub close error = %v, want ErrConnectionLost", err)
	}
}

func TestConnTransportWriteLine(t *testing.T) {
	tr, hub := newPipeTransport(t)

	errc := make(chan error, 1)
	go func() { errc <- tr.WriteLine("?SYSTEM,1") }()

	line, err := bufio.NewReader(hub).ReadString('\n')
	if err != nil {
		t.Fatalf("hub read error: %v", err)
	}
	if line != "?SYSTEM,1\r\n" {
		t.Errorf("hub read %q, want CRLF-terminated line", line)
	}
	if err := <-errc; err != nil {
		t.Errorf("WriteLine() error: %v", err)
	}
}

func TestConnTransportClose(t *testing.T) {
	tr, _ := newPipeTransport(t)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	tr.Close() //nolint:errcheck // second close is a no-op

	if _, err := tr.ReadLine(); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("ReadLine() error = %v, want ErrConnectionLost", err)
	}
	if err := tr.WriteLine("x"); !errors.Is(err, ErrCommunication) {
		t.Errorf("WriteLine() error = %v, want ErrCommunication", err)
	}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown host", &net.DNSError{Err: "no such host", Name: "nohub.invalid", IsNotFound: true}, ErrConfiguration},
		{"bad address", &net.AddrError{Err: "missing port", Addr: "hub"}, ErrConfiguration},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ErrCommunication},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "hub.lan", IsTimeout: true}, ErrCommunication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := classifyDialError("hub:23", tt.err); !errors.Is(err, tt.want) {
				t.Errorf("classifyDialError() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNetDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NetDialer{}.Dial(ctx, Config{Protocol: ProtocolLIP, Host: "127.0.0.1", Port: addr.Port})
	if !errors.Is(err, ErrCommunication) {
		t.Errorf("Dial() error = %v, want ErrCommunication", err)
	}
}

func TestNetDialerLIP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("login: ")) //nolint:errcheck
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	addr := ln.Addr().(*net.TCPAddr)
	tr, err := NetDialer{}.Dial(ctx, Config{Protocol: ProtocolLIP, Host: "127.0.0.1", Port: addr.Port})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	if got, err := tr.WaitFor(ctx, promptLogin); err != nil || got != promptLogin {
		t.Errorf("WaitFor() = %q, %v", got, err)
	}
}

func TestBuildTLSConfig(t *testing.T) {
	tc, err := buildTLSConfig(Config{Host: "hub.lan"})
	if err != nil {
		t.Fatalf("buildTLSConfig() error: %v", err)
	}
	if !tc.InsecureSkipVerify || tc.ServerName != "hub.lan" {
		t.Errorf("tls config = %+v", tc)
	}

	tc, err = buildTLSConfig(Config{Host: "hub.lan", CertValidate: true})
	if err != nil || tc.InsecureSkipVerify {
		t.Errorf("CertValidate should verify the hub certificate: %v", err)
	}
}

func TestBuildTLSConfigKeyMaterialErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"keystore", Config{Keystore: missing}},
		{"cert pair", Config{CertFile: missing, KeyFile: missing}},
		{"ca file", Config{CAFile: missing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildTLSConfig(tt.cfg); !errors.Is(err, ErrConfiguration) {
				t.Errorf("buildTLSConfig() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNetDialerLEAPKeyMaterialError(t *testing.T) {
	cfg := Config{Protocol: ProtocolLEAP, Host: "127.0.0.1", Port: 8081, Keystore: filepath.Join(t.TempDir(), "hub.p12")}
	if _, err := (NetDialer{}).Dial(context.Background(), cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Dial() error = %v, want ErrConfiguration", err)
	}
}
