package lutron

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

// sentRequest is the decoded form of an encoded LEAP request.
type sentRequest struct {
	CommuniqueType string     `json:"CommuniqueType"`
	Header         leapHeader `json:"Header"`
	Body           struct {
		Command leapCommand `json:"Command"`
	} `json:"Body"`
}

func newDiscoveredCodec(t *testing.T) (*leapCodec, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	c := &leapCodec{reg: reg}
	for _, line := range []string{leapDevicesResponse, leapButtonsResponse} {
		if _, err := c.decode(line); err != nil {
			t.Fatalf("decode() error: %v", err)
		}
	}
	return c, reg
}

func encodeRequest(t *testing.T, c *leapCodec, cmd Command) sentRequest {
	t.Helper()
	line, err := c.encode(cmd)
	if err != nil {
		t.Fatalf("encode(%v) error: %v", cmd, err)
	}
	var req sentRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		t.Fatalf("encoded request is not JSON: %v\n%s", err, line)
	}
	if req.Header.ClientTag == "" {
		t.Error("request has no ClientTag")
	}
	return req
}

func TestLeapDiscovery(t *testing.T) {
	reg := NewRegistry(nil)
	c := &leapCodec{reg: reg}

	res, err := c.decode(leapDevicesResponse)
	if err != nil {
		t.Fatalf("decode(devices) error: %v", err)
	}
	if res.discovered {
		t.Error("discovery is not complete until buttons are known")
	}

	res, err = c.decode(leapButtonsResponse)
	if err != nil {
		t.Fatalf("decode(buttons) error: %v", err)
	}
	if !res.discovered {
		t.Error("discovery should complete once devices and buttons are known")
	}
	if len(res.followUp) != 1 || !strings.HasSuffix(res.followUp[0].String(), "/button/101/status/event") {
		t.Errorf("followUp = %v, want one button subscription", res.followUp)
	}

	res, _ = c.decode(leapZoneResponse)
	if res.discovered {
		t.Error("discovery is announced once")
	}

	if zone, ok := reg.ZoneForDevice(5); !ok || zone != 2 {
		t.Errorf("ZoneForDevice(5) = %d, %v", zone, ok)
	}
	if dev, ok := reg.DeviceForZone(2); !ok || dev != 5 {
		t.Errorf("DeviceForZone(2) = %d, %v", dev, ok)
	}
	if id, ok := reg.ButtonFor(9, 1); !ok || id != 101 {
		t.Errorf("ButtonFor(9, 1) = %d, %v", id, ok)
	}

	d := reg.Discovery()
	if len(d.Devices) != 2 {
		t.Fatalf("Devices = %+v", d.Devices)
	}
	dimmer, keypad := d.Devices[0], d.Devices[1]
	if dimmer.Name != "Kitchen Dimmer" || dimmer.ZoneID != 2 || dimmer.AreaID != 3 || dimmer.Serial != 1234 || dimmer.HasButtons {
		t.Errorf("dimmer = %+v", dimmer)
	}
	if !keypad.HasButtons || !slices.Equal(keypad.ButtonIDs, []int{101}) {
		t.Errorf("keypad = %+v", keypad)
	}
}

func TestLeapDeviceReadRefused(t *testing.T) {
	c := &leapCodec{reg: NewRegistry(nil)}

	res, err := c.decode(`{"CommuniqueType":"ExceptionResponse","Header":{"StatusCode":"401 Unauthorized","Url":"/device"},"Body":{"Message":"not paired"}}`)
	if err != nil {
		t.Fatalf("decode() error: %v", err)
	}
	if !errors.Is(res.failed, ErrDiscoveryFailed) || !errors.Is(res.failed, ErrCommunication) {
		t.Errorf("failed = %v, want ErrDiscoveryFailed", res.failed)
	}
	if res.discovered {
		t.Error("a refused device read must not complete discovery")
	}

	empty := &leapCodec{reg: NewRegistry(nil)}
	res, err = empty.decode(`{"CommuniqueType":"ReadResponse","Header":{"StatusCode":"204 NoContent","Url":"/device"}}`)
	if err != nil || res.failed != nil {
		t.Errorf("decode(204 devices) = %+v, %v; want an empty device list", res, err)
	}
	if !empty.devicesLoaded {
		t.Error("a hub with no devices should still load")
	}
}

func TestLeapDiscoveryWithoutKeypads(t *testing.T) {
	responses := map[string]string{
		"not found":  `{"CommuniqueType":"ExceptionResponse","Header":{"StatusCode":"404 NotFound","Url":"/buttongroup/expanded"},"Body":{"Message":"no button groups"}}`,
		"no content": `{"CommuniqueType":"ReadResponse","Header":{"StatusCode":"204 NoContent","Url":"/buttongroup/expanded"}}`,
	}
	for name, resp := range responses {
		t.Run(name, func(t *testing.T) {
			c := &leapCodec{reg: NewRegistry(nil)}
			if _, err := c.decode(leapDevicesResponse); err != nil {
				t.Fatal(err)
			}
			res, err := c.decode(resp)
			if err != nil {
				t.Fatalf("decode() error: %v", err)
			}
			if !res.discovered {
				t.Error("a hub without keypads should still complete discovery")
			}
		})
	}
}

func TestLeapDecodeTranslations(t *testing.T) {
	c, _ := newDiscoveredCodec(t)

	tests := []struct {
		name string
		line string
		want []Message
	}{
		{
			name: "zone level",
			line: leapZoneResponse,
			want: []Message{{Type: TypeOutput, IntegrationID: 5, Params: []string{"1", "50.00"}}},
		},
		{
			name: "zone of unknown device",
			line: `{"CommuniqueType":"ReadResponse","Header":{"MessageBodyType":"OneZoneStatus","StatusCode":"200 OK","Url":"/zone/77/status"},"Body":{"ZoneStatus":{"Level":10,"Zone":{"href":"/zone/77"}}}}`,
		},
		{
			name: "multiple zones",
			line: `{"CommuniqueType":"ReadResponse","Header":{"MessageBodyType":"MultipleZoneStatus","StatusCode":"200 OK","Url":"/zone/status"},"Body":{"ZoneStatuses":[{"Level":0,"Zone":{"href":"/zone/2"}},{"Zone":{"href":"/zone/2"}}]}}`,
			want: []Message{{Type: TypeOutput, IntegrationID: 5, Params: []string{"1", "0.00"}}},
		},
		{
			name: "occupancy",
			line: `{"CommuniqueType":"ReadResponse","Header":{"MessageBodyType":"MultipleOccupancyGroupStatus","StatusCode":"200 OK","Url":"/occupancygroup/status"},"Body":{"OccupancyGroupStatuses":[` +
				`{"OccupancyGroup":{"href":"/occupancygroup/3"},"OccupancyStatus":"Occupied"},` +
				`{"OccupancyGroup":{"href":"/occupancygroup/4"},"OccupancyStatus":"Unoccupied"},` +
				`{"OccupancyGroup":{"href":"/occupancygroup/6"},"OccupancyStatus":"Unknown"}]}}`,
			want: []Message{
				{Type: TypeGroup, IntegrationID: 3, Params: []string{"3", "3"}},
				{Type: TypeGroup, IntegrationID: 4, Params: []string{"3", "4"}},
				{Type: TypeGroup, IntegrationID: 6, Params: []string{"3", "255"}},
			},
		},
		{
			name: "button press",
			line: leapPressEvent,
			want: []Message{{Type: TypeDevice, IntegrationID: 9, Params: []string{"1", "3"}}},
		},
		{
			name: "button release",
			line: strings.Replace(leapPressEvent, `"Press"`, `"Release"`, 1),
			want: []Message{{Type: TypeDevice, IntegrationID: 9, Params: []string{"1", "4"}}},
		},
		{
			name: "button hold is ignored",
			line: strings.Replace(leapPressEvent, `"Press"`, `"LongHold"`, 1),
		},
		{
			name: "ping",
			line: `{"CommuniqueType":"ReadResponse","Header":{"MessageBodyType":"OnePingResponse","StatusCode":"200 OK","Url":"/server/1/status/ping"},"Body":{"PingResponse":{"LEAPVersion":1.115}}}`,
		},
		{
			name: "exception",
			line: `{"CommuniqueType":"ExceptionResponse","Header":{"MessageBodyType":"ExceptionDetail","StatusCode":"400 BadRequest","Url":"/zone/2/commandprocessor"},"Body":{"Message":"bad level"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.decode(tt.line)
			if err != nil {
				t.Fatalf("decode() error: %v", err)
			}
			if len(res.messages) != len(tt.want) {
				t.Fatalf("messages = %+v, want %+v", res.messages, tt.want)
			}
			for i, want := range tt.want {
				got := res.messages[i]
				if got.Type != want.Type || got.IntegrationID != want.IntegrationID || !slices.Equal(got.Params, want.Params) {
					t.Errorf("message %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestLeapDecodeMalformed(t *testing.T) {
	c := &leapCodec{reg: NewRegistry(nil)}

	lines := []string{
		"not json",
		`{"CommuniqueType":"ReadResponse","Header":{"MessageBodyType":"OneZoneStatus","Url":"/zone/2/status"},"Body":{"ZoneStatus":"oops"}}`,
	}
	for _, line := range lines {
		if _, err := c.decode(line); !errors.Is(err, ErrProtocol) {
			t.Errorf("decode(%q) error = %v, want ErrProtocol", line, err)
		}
	}
}

func TestLeapEncode(t *testing.T) {
	c, _ := newDiscoveredCodec(t)

	tests := []struct {
		name        string
		cmd         Command
		communique  string
		url         string
		commandType string
	}{
		{"level", SetLevel(5, 75, 0, 0), leapCreateRequest, "/zone/2/commandprocessor", "GoToLevel"},
		{"level with fade", SetLevel(5, 75, 2*time.Second, 0), leapCreateRequest, "/zone/2/commandprocessor", "GoToDimmedLevel"},
		{"raise", Execute(TypeOutput, 5, ActionOutputRaise), leapCreateRequest, "/zone/2/commandprocessor", "Raise"},
		{"lower", Execute(TypeOutput, 5, ActionOutputLower), leapCreateRequest, "/zone/2/commandprocessor", "Lower"},
		{"stop", Execute(TypeOutput, 5, ActionOutputStop), leapCreateRequest, "/zone/2/commandprocessor", "Stop"},
		{"query level", Query(TypeOutput, 5, ActionOutputLevel), leapReadRequest, "/zone/2/status", ""},
		{"press", Press(9, 1), leapCreateRequest, "/button/101/commandprocessor", "PressAndHold"},
		{"release", Release(9, 1), leapCreateRequest, "/button/101/commandprocessor", "Release"},
		{"occupancy query", Query(TypeGroup, 3, ActionGroupState), leapReadRequest, "/occupancygroup/3/status", ""},
		{"ping", leapRead(urlPing), leapReadRequest, urlPing, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := encodeRequest(t, c, tt.cmd)
			if req.CommuniqueType != tt.communique {
				t.Errorf("CommuniqueType = %q, want %q", req.CommuniqueType, tt.communique)
			}
			if req.Header.URL != tt.url {
				t.Errorf("Url = %q, want %q", req.Header.URL, tt.url)
			}
			if req.Body.Command.CommandType != tt.commandType {
				t.Errorf("CommandType = %q, want %q", req.Body.Command.CommandType, tt.commandType)
			}
		})
	}
}

func TestLeapEncodeLevelParameters(t *testing.T) {
	c, _ := newDiscoveredCodec(t)

	req := encodeRequest(t, c, SetLevel(5, 75, 0, 0))
	if p := req.Body.Command.Parameter; len(p) != 1 || p[0].Type != "Level" || p[0].Value != 75 {
		t.Errorf("Parameter = %+v", p)
	}

	req = encodeRequest(t, c, SetLevel(5, 40, 90*time.Second, 3*time.Second))
	dl := req.Body.Command.DimmedLevelParameters
	if dl == nil || dl.Level != 40 || dl.FadeTime != "00:01:30" || dl.DelayTime != "00:00:03" {
		t.Errorf("DimmedLevelParameters = %+v", dl)
	}
}

func TestLeapEncodeErrors(t *testing.T) {
	c, _ := newDiscoveredCodec(t)

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown device", SetLevel(77, 10, 0, 0), ErrNotFound},
		{"unknown button", Press(9, 5), ErrNotFound},
		{"bad device action", Execute(TypeDevice, 9, 1, "7"), ErrUnsupportedCommand},
		{"sysvar", Execute(TypeSysvar, 1, 1, "2"), ErrUnsupportedCommand},
		{"level without value", Execute(TypeOutput, 5, ActionOutputLevel), ErrUnsupportedCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.encode(tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("encode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLeapInitAndProbe(t *testing.T) {
	c := leapProtocol{}.newCodec(NewRegistry(nil), Config{}, nil)

	var urls []string
	for _, cmd := range c.initCommands() {
		urls = append(urls, cmd.leap.Header.URL)
	}
	want := []string{urlDevices, urlAreas, urlOccupancyGroups, urlOccupancyGroupStatus, urlButtonGroups}
	if !slices.Equal(urls, want) {
		t.Errorf("init URLs = %q, want %q", urls, want)
	}

	// Zone levels are read once devices map zones back to integration ids.
	res, err := c.decode(leapDevicesResponse)
	if err != nil {
		t.Fatalf("decode(devices) error: %v", err)
	}
	if len(res.followUp) != 1 || res.followUp[0].leap.Header.URL != urlZoneStatus || res.followUp[0].leap.CommuniqueType != "ReadRequest" {
		t.Errorf("followUp after devices = %v, want a zone status read", res.followUp)
	}
	res, err = c.decode(leapZoneStatusesResponse)
	if err != nil {
		t.Fatalf("decode(zone statuses) error: %v", err)
	}
	if len(res.messages) != 1 || res.messages[0].IntegrationID != 5 || !slices.Equal(res.messages[0].Params, []string{"1", "75.00"}) {
		t.Errorf("zone statuses = %+v", res.messages)
	}
	if got := c.probe().leap.Header.URL; got != urlPing {
		t.Errorf("probe URL = %q", got)
	}
	if !c.awaitsDiscovery() {
		t.Error("LEAP should await discovery")
	}
}

func TestLeapHelpers(t *testing.T) {
	if got := leapDuration(1500 * time.Millisecond); got != "00:00:02" {
		t.Errorf("leapDuration(1.5s) = %q", got)
	}
	if got := leapDuration(2*time.Hour + 5*time.Second); got != "02:00:05" {
		t.Errorf("leapDuration(2h5s) = %q", got)
	}

	codes := map[string]int{"200 OK": 200, "204 NoContent": 204, "404": 404, "": 0, "OK": 0}
	for s, want := range codes {
		if got := (leapHeader{StatusCode: s}).status(); got != want {
			t.Errorf("status(%q) = %d, want %d", s, got, want)
		}
	}

	if _, err := (leapHref{Href: "/zone/abc"}).id(); !errors.Is(err, ErrProtocol) {
		t.Errorf("id() error = %v, want ErrProtocol", err)
	}
}
