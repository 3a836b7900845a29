package lutron

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LIP connection defaults.
const (
	// DefaultLIPPort is the Telnet integration port.
	DefaultLIPPort = 23

	// DefaultUsername and DefaultPassword are the factory integration credentials.
	DefaultUsername = "lutron"
	DefaultPassword = "integration"

	// maxLoginAttempts bounds how often a re-prompt for login is retried
	// before the credentials are treated as wrong.
	maxLoginAttempts = 3
)

// LIP prompts.
const (
	promptLogin    = "login:"
	promptPassword = "password:"
	promptGNET     = "GNET>"
	promptQNET     = "QNET>"
	promptSafe     = "SAFE>"
)

var (
	framePattern   = regexp.MustCompile(`^~(OUTPUT|DEVICE|SYSTEM|TIMECLOCK|MODE|SYSVAR|GROUP),(\d+)(?:\.(\d+))?,([0-9.:/,]+)$`)
	promptFragment = regexp.MustCompile(`(?:GNET|QNET)>\s*`)
	commandPattern = regexp.MustCompile(`^([#?])(OUTPUT|DEVICE|SYSTEM|TIMECLOCK|MODE|SYSVAR|GROUP|MONITORING),(.*)$`)
	errorPattern   = regexp.MustCompile(`^~ERROR,(\d+)$`)
)

// ParseFrame parses one inbound LIP line such as "~OUTPUT,12,1,75.00".
//
// A line that does not match is scanned once for an embedded GNET>/QNET>
// prompt, which the hub sometimes interleaves with a frame, and re-matched
// with the prompt removed. Failures wrap ErrProtocol; lines matching no
// frame shape wrap ErrUnrecognisedFrame.
func ParseFrame(line string) (Message, error) {
	line = strings.TrimSpace(line)

	m := framePattern.FindStringSubmatch(line)
	if m == nil {
		if loc := promptFragment.FindStringIndex(line); loc != nil {
			m = framePattern.FindStringSubmatch(strings.TrimSpace(line[:loc[0]] + line[loc[1]:]))
		}
	}
	if m == nil {
		return Message{}, fmt.Errorf("%w: %q", ErrUnrecognisedFrame, line)
	}

	id, err := strconv.Atoi(m[2])
	if err != nil {
		return Message{}, fmt.Errorf("%w: integration id %q: %w", ErrProtocol, m[2], err)
	}
	msg := Message{
		Type:          MessageType(m[1]),
		IntegrationID: id,
		Params:        strings.Split(m[4], ","),
	}
	if m[3] != "" {
		if msg.Sub, err = strconv.Atoi(m[3]); err != nil {
			return Message{}, fmt.Errorf("%w: sub id %q: %w", ErrProtocol, m[3], err)
		}
	}
	return msg, nil
}

// FormatFrame renders a message in the hub's monitoring form.
func FormatFrame(msg Message) string {
	var sb strings.Builder
	sb.WriteByte('~')
	sb.WriteString(string(msg.Type))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(msg.IntegrationID))
	if msg.Sub != 0 {
		sb.WriteByte('.')
		sb.WriteString(strconv.Itoa(msg.Sub))
	}
	sb.WriteByte(',')
	sb.WriteString(strings.Join(msg.Params, ","))
	return sb.String()
}

// FormatCommand renders a command as a LIP line without the terminator,
// e.g. "#OUTPUT,12,1,75.00,2.00".
//
// For OUTPUT level commands a non-zero fade is appended, and a non-zero
// delay is appended after the fade (the fade is written even when zero).
func FormatCommand(cmd Command) (string, error) {
	if !cmd.Target.valid() {
		return "", fmt.Errorf("%w: target %q", ErrUnsupportedCommand, cmd.Target)
	}
	if cmd.leap != nil {
		return "", fmt.Errorf("%w: LEAP request on LIP", ErrUnsupportedCommand)
	}

	fields := make([]string, 0, 4+len(cmd.Params))
	if cmd.Target.hasIntegrationID() {
		fields = append(fields, strconv.Itoa(cmd.IntegrationID))
	}
	fields = append(fields, strconv.Itoa(cmd.Action))
	fields = append(fields, cmd.Params...)

	if cmd.isLevelSet() {
		if cmd.Fade > 0 || cmd.Delay > 0 {
			fields = append(fields, formatDuration(cmd.Fade))
		}
		if cmd.Delay > 0 {
			fields = append(fields, formatDuration(cmd.Delay))
		}
	}

	return cmd.Operation.prefix() + string(cmd.Target) + "," + strings.Join(fields, ","), nil
}

// ParseCommand parses a LIP command line. It is the inverse of FormatCommand
// and is used for commands arriving as raw text over MQTT.
func ParseCommand(line string) (Command, error) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Command{}, fmt.Errorf("%w: %q", ErrUnrecognisedFrame, line)
	}

	cmd := Command{Target: MessageType(m[2]), Operation: OpExecute}
	if m[1] == "?" {
		cmd.Operation = OpQuery
	}

	fields := strings.Split(m[3], ",")
	if cmd.Target.hasIntegrationID() {
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("%w: %q: missing action", ErrProtocol, line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return Command{}, fmt.Errorf("%w: integration id %q: %w", ErrProtocol, fields[0], err)
		}
		cmd.IntegrationID = id
		fields = fields[1:]
	}

	action, err := strconv.Atoi(fields[0])
	if err != nil {
		return Command{}, fmt.Errorf("%w: action %q: %w", ErrProtocol, fields[0], err)
	}
	cmd.Action = action
	if len(fields) > 1 {
		cmd.Params = fields[1:]
	}

	if cmd.isLevelSet() && len(cmd.Params) > 1 {
		if cmd.Fade, err = parseDuration(cmd.Params[1]); err != nil {
			return Command{}, err
		}
		if len(cmd.Params) > 2 {
			if cmd.Delay, err = parseDuration(cmd.Params[2]); err != nil {
				return Command{}, err
			}
		}
		cmd.Params = cmd.Params[:1]
	}
	return cmd, nil
}

// formatDuration renders a fade or delay: "SS.ss" under a minute,
// "HH:MM:SS" from a minute up.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

func parseDuration(s string) (time.Duration, error) {
	if !strings.Contains(s, ":") {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs < 0 {
			return 0, fmt.Errorf("%w: duration %q", ErrProtocol, s)
		}
		return time.Duration(secs * float64(time.Second)).Round(10 * time.Millisecond), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: duration %q", ErrProtocol, s)
	}
	var d time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: duration %q", ErrProtocol, s)
		}
		d = d*60 + time.Duration(n)
	}
	return d * time.Second, nil
}

// lipProtocol is the Telnet integration protocol.
type lipProtocol struct{}

func (lipProtocol) name() string { return string(ProtocolLIP) }

// handshake runs the Telnet login. The hub prompts "login:", then
// "password:", and answers with GNET>/QNET> on success, "login:" again on
// bad credentials, or SAFE> when it is in safe mode.
func (lipProtocol) handshake(ctx context.Context, t Transport, cfg Config) error {
	if _, err := t.WaitFor(ctx, promptLogin); err != nil {
		return fmt.Errorf("waiting for login prompt: %w", err)
	}

	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		if err := t.WriteLine(cfg.Username); err != nil {
			return err
		}
		if _, err := t.WaitFor(ctx, promptPassword); err != nil {
			return fmt.Errorf("waiting for password prompt: %w", err)
		}
		if err := t.WriteLine(cfg.Password); err != nil {
			return err
		}

		prompt, err := t.WaitFor(ctx, promptLogin, promptGNET, promptQNET, promptSafe)
		if err != nil {
			return fmt.Errorf("waiting for login result: %w", err)
		}
		switch prompt {
		case promptGNET, promptQNET:
			return nil
		case promptSafe:
			return ErrSafeMode
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrLoginRejected, maxLoginAttempts)
}

func (lipProtocol) newCodec(_ *Registry, cfg Config, logger Logger) codec {
	return &lipCodec{monitoring: cfg.Monitoring, logger: logger}
}

// lipCodec frames LIP lines. It holds no per-session state beyond config.
type lipCodec struct {
	monitoring []int
	logger     Logger
}

func (c *lipCodec) encode(cmd Command) (string, error) {
	return FormatCommand(cmd)
}

func (c *lipCodec) decode(line string) (decoded, error) {
	if m := errorPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		logWarn(c.logger, "hub rejected command", "error_code", m[1])
		return decoded{}, nil
	}
	msg, err := ParseFrame(line)
	if err != nil {
		return decoded{}, err
	}
	return decoded{messages: []Message{msg}}, nil
}

// initCommands disables prompts and enables the configured monitoring classes.
func (c *lipCodec) initCommands() []Command {
	cmds := make([]Command, 0, len(c.monitoring)+1)
	cmds = append(cmds, Execute(TypeMonitoring, 0, MonitorPrompt, strconv.Itoa(monitorDisable)))
	for _, class := range c.monitoring {
		cmds = append(cmds, Execute(TypeMonitoring, 0, class, strconv.Itoa(monitorEnable)))
	}
	return cmds
}

func (c *lipCodec) probe() Command {
	return Query(TypeSystem, 0, ActionSystemTime)
}

func (c *lipCodec) awaitsDiscovery() bool { return false }
