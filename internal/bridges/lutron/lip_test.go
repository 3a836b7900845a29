package lutron

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{"output level", "~OUTPUT,12,1,75.00", Message{Type: TypeOutput, IntegrationID: 12, Params: []string{"1", "75.00"}}},
		{"device press", "~DEVICE,5,3,3", Message{Type: TypeDevice, IntegrationID: 5, Params: []string{"3", "3"}}},
		{"sub id", "~DEVICE,5.2,3,3", Message{Type: TypeDevice, IntegrationID: 5, Sub: 2, Params: []string{"3", "3"}}},
		{"system time", "~SYSTEM,1,12:00:00", Message{Type: TypeSystem, IntegrationID: 1, Params: []string{"12:00:00"}}},
		{"occupancy", "~GROUP,3,3,4", Message{Type: TypeGroup, IntegrationID: 3, Params: []string{"3", "4"}}},
		{"sysvar", "~SYSVAR,40,1,2", Message{Type: TypeSysvar, IntegrationID: 40, Params: []string{"1", "2"}}},
		{"trailing CR and space", "~OUTPUT,12,1,0.00\r ", Message{Type: TypeOutput, IntegrationID: 12, Params: []string{"1", "0.00"}}},
		{"leading prompt", "GNET> ~OUTPUT,12,1,75.00", Message{Type: TypeOutput, IntegrationID: 12, Params: []string{"1", "75.00"}}},
		{"trailing prompt", "~OUTPUT,12,1,75.00 QNET> ", Message{Type: TypeOutput, IntegrationID: 12, Params: []string{"1", "75.00"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame(tt.line)
			if err != nil {
				t.Fatalf("ParseFrame(%q) error: %v", tt.line, err)
			}
			if got.Type != tt.want.Type || got.IntegrationID != tt.want.IntegrationID || got.Sub != tt.want.Sub ||
				!slices.Equal(got.Params, tt.want.Params) {
				t.Errorf("ParseFrame(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	unrecognised := []string{
		"",
		"garbage",
		"~OUTPUT",
		"~OUTPUT,12",
		"~OUTPUT,abc,1,0",
		"~ERROR,6",
		"#OUTPUT,12,1,50",
		"GNET> GNET> ~OUTPUT,12,1,75.00",
	}
	for _, line := range unrecognised {
		if _, err := ParseFrame(line); !errors.Is(err, ErrUnrecognisedFrame) {
			t.Errorf("ParseFrame(%q) error = %v, want ErrUnrecognisedFrame", line, err)
		}
	}

	_, err := ParseFrame("~OUTPUT,99999999999999999999,1,0")
	if !errors.Is(err, ErrProtocol) || errors.Is(err, ErrUnrecognisedFrame) {
		t.Errorf("overflowing id error = %v, want a protocol error", err)
	}
}

func TestFormatFrame(t *testing.T) {
	for _, line := range []string{"~OUTPUT,12,1,75.00", "~DEVICE,5.2,3,3", "~GROUP,3,3,4"} {
		msg, err := ParseFrame(line)
		if err != nil {
			t.Fatalf("ParseFrame(%q) error: %v", line, err)
		}
		if got := FormatFrame(msg); got != line {
			t.Errorf("FormatFrame() = %q, want %q", got, line)
		}
	}
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"level", SetLevel(12, 75, 0, 0), "#OUTPUT,12,1,75.00"},
		{"level with fade", SetLevel(12, 75, 2*time.Second, 0), "#OUTPUT,12,1,75.00,2.00"},
		{"level with delay only", SetLevel(12, 75, 0, 5*time.Second), "#OUTPUT,12,1,75.00,0.00,5.00"},
		{"long fade", SetLevel(12, 100, 90*time.Second, 0), "#OUTPUT,12,1,100.00,00:01:30"},
		{"fade and delay", SetLevel(3, 0, 1500*time.Millisecond, time.Hour), "#OUTPUT,3,1,0.00,1.50,01:00:00"},
		{"raise", Execute(TypeOutput, 12, ActionOutputRaise), "#OUTPUT,12,2"},
		{"query level", Query(TypeOutput, 12, ActionOutputLevel), "?OUTPUT,12,1"},
		{"press", Press(5, 3), "#DEVICE,5,3,3"},
		{"release", Release(5, 3), "#DEVICE,5,3,4"},
		{"system time", Query(TypeSystem, 0, ActionSystemTime), "?SYSTEM,1"},
		{"monitoring", Execute(TypeMonitoring, 0, MonitorPrompt, "2"), "#MONITORING,12,2"},
		{"occupancy query", Query(TypeGroup, 3, ActionGroupState), "?GROUP,3,3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatCommand(tt.cmd)
			if err != nil {
				t.Fatalf("FormatCommand() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatCommand() = %q, want %q", got, tt.want)
			}
			if tt.cmd.String() != tt.want {
				t.Errorf("String() = %q, want %q", tt.cmd.String(), tt.want)
			}
		})
	}
}

func TestFormatCommandErrors(t *testing.T) {
	if _, err := FormatCommand(Command{Target: "BOGUS"}); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("unknown target error = %v, want ErrUnsupportedCommand", err)
	}
	if _, err := FormatCommand(leapRead(urlDevices)); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("LEAP request error = %v, want ErrUnsupportedCommand", err)
	}
}

func TestParseCommandRoundTrip(t *testing.T) {
	lines := []string{
		"#OUTPUT,12,1,75.00",
		"#OUTPUT,12,1,75.00,2.00",
		"#OUTPUT,12,1,75.00,0.00,5.00",
		"#OUTPUT,12,1,100.00,00:01:30",
		"?OUTPUT,12,1",
		"#DEVICE,5,3,3",
		"?SYSTEM,1",
		"#MONITORING,5,1",
	}
	for _, line := range lines {
		cmd, err := ParseCommand(line)
		if err != nil {
			t.Fatalf("ParseCommand(%q) error: %v", line, err)
		}
		got, err := FormatCommand(cmd)
		if err != nil {
			t.Fatalf("FormatCommand(%q) error: %v", line, err)
		}
		if got != line {
			t.Errorf("round trip %q -> %q", line, got)
		}
	}

	cmd, err := ParseCommand("#OUTPUT,12,1,75.00,2.00")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Fade != 2*time.Second || !slices.Equal(cmd.Params, []string{"75.00"}) {
		t.Errorf("ParseCommand() = %+v, want fade 2s and a single level param", cmd)
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"OUTPUT,12,1", ErrUnrecognisedFrame},
		{"#BOGUS,1,1", ErrUnrecognisedFrame},
		{"#OUTPUT,12", ErrProtocol},
		{"#OUTPUT,x,1", ErrProtocol},
		{"#OUTPUT,12,x", ErrProtocol},
		{"#OUTPUT,12,1,50,soon", ErrProtocol},
	}
	for _, tt := range tests {
		if _, err := ParseCommand(tt.line); !errors.Is(err, tt.want) {
			t.Errorf("ParseCommand(%q) error = %v, want %v", tt.line, err, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.00"},
		{1500 * time.Millisecond, "1.50"},
		{59990 * time.Millisecond, "59.99"},
		{time.Minute, "00:01:00"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	valid := map[string]time.Duration{
		"2.00":     2 * time.Second,
		"0.25":     250 * time.Millisecond,
		"1:30":     90 * time.Second,
		"00:01:30": 90 * time.Second,
		"01:00:00": time.Hour,
	}
	for s, want := range valid {
		got, err := parseDuration(s)
		if err != nil || got != want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", s, got, err, want)
		}
	}

	for _, s := range []string{"-1", "abc", "1:x", "1:2:3:4", "-1:00"} {
		if _, err := parseDuration(s); !errors.Is(err, ErrProtocol) {
			t.Errorf("parseDuration(%q) error = %v, want ErrProtocol", s, err)
		}
	}
}

func TestLIPCodec(t *testing.T) {
	c := lipProtocol{}.newCodec(nil, Config{Monitoring: []int{MonitorZone, MonitorOccupancy}}, nil)

	var init []string
	for _, cmd := range c.initCommands() {
		line, err := c.encode(cmd)
		if err != nil {
			t.Fatalf("encode(%v) error: %v", cmd, err)
		}
		init = append(init, line)
	}
	if want := []string{"#MONITORING,12,2", "#MONITORING,5,1", "#MONITORING,6,1"}; !slices.Equal(init, want) {
		t.Errorf("init = %q, want %q", init, want)
	}

	probe, err := c.encode(c.probe())
	if err != nil || probe != "?SYSTEM,1" {
		t.Errorf("probe = %q, %v", probe, err)
	}
	if c.awaitsDiscovery() {
		t.Error("LIP should not await discovery")
	}

	res, err := c.decode("~ERROR,6")
	if err != nil || len(res.messages) != 0 {
		t.Errorf("decode(~ERROR) = %+v, %v; want no messages and no error", res, err)
	}

	res, err = c.decode("~OUTPUT,12,1,75.00")
	if err != nil || len(res.messages) != 1 || res.messages[0].IntegrationID != 12 {
		t.Errorf("decode() = %+v, %v", res, err)
	}
}

func TestLIPHandshake(t *testing.T) {
	tests := []struct {
		name        string
		prompts     []string
		wantErr     error
		wantWritten int
	}{
		{"GNET accepted", lipLogin, nil, 2},
		{"QNET accepted", []string{promptLogin, promptPassword, promptQNET}, nil, 2},
		{"safe mode", []string{promptLogin, promptPassword, promptSafe}, ErrSafeMode, 2},
		{
			"one re-prompt",
			[]string{promptLogin, promptPassword, promptLogin, promptPassword, promptGNET},
			nil, 4,
		},
		{
			"rejected",
			[]string{promptLogin, promptPassword, promptLogin, promptPassword, promptLogin, promptPassword, promptLogin},
			ErrLoginRejected, 6,
		},
	}

	cfg := Config{Username: "lutron", Password: "integration"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(tt.prompts...)
			err := lipProtocol{}.handshake(context.Background(), tr, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handshake() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(tr.lines()); n != tt.wantWritten {
				t.Errorf("wrote %d lines, want %d", n, tt.wantWritten)
			}
		})
	}
}

func TestLIPHandshakeErrorClasses(t *testing.T) {
	if !errors.Is(ErrLoginRejected, ErrConfiguration) {
		t.Error("ErrLoginRejected should be a configuration error")
	}
	if !errors.Is(ErrSafeMode, ErrCommunication) {
		t.Error("ErrSafeMode should be a communication error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lipProtocol{}.handshake(ctx, newFakeTransport(), Config{})
	if !errors.Is(err, ErrCommunication) {
		t.Errorf("silent hub error = %v, want ErrCommunication", err)
	}
}
