package lutron

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultLEAPPort is the LEAP TLS port.
const DefaultLEAPPort = 8081

// leapProtocol is the TLS/JSON protocol. Authentication is the client
// certificate presented during the TLS handshake, which the dialer has
// already completed.
type leapProtocol struct{}

func (leapProtocol) name() string { return string(ProtocolLEAP) }

func (leapProtocol) handshake(ctx context.Context, _ Transport, _ Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	return nil
}

func (leapProtocol) newCodec(reg *Registry, _ Config, logger Logger) codec {
	return &leapCodec{reg: reg, logger: logger}
}

// leapCodec translates between LIP-shaped commands/messages and LEAP
// communiques. Its discovery flags are touched only by the reader goroutine.
type leapCodec struct {
	reg    *Registry
	logger Logger

	devicesLoaded bool
	buttonsLoaded bool
	announced     bool
}

func (c *leapCodec) encode(cmd Command) (string, error) {
	req := cmd.leap
	if req == nil {
		translated, err := c.translate(cmd)
		if err != nil {
			return "", err
		}
		req = translated.leap
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %w", ErrProtocol, err)
	}
	return string(data), nil
}

// translate maps a LIP-shaped command onto a LEAP request.
func (c *leapCodec) translate(cmd Command) (Command, error) {
	switch cmd.Target {
	case TypeOutput:
		zone, ok := c.reg.ZoneForDevice(cmd.IntegrationID)
		if !ok {
			return Command{}, fmt.Errorf("%w: no zone for device %d", ErrNotFound, cmd.IntegrationID)
		}
		if cmd.Operation == OpQuery {
			return leapRead(fmt.Sprintf("/zone/%d/status", zone)), nil
		}
		switch cmd.Action {
		case ActionOutputLevel:
			if len(cmd.Params) == 0 {
				return Command{}, fmt.Errorf("%w: level command without level", ErrUnsupportedCommand)
			}
			level, err := strconv.ParseFloat(cmd.Params[0], 64)
			if err != nil {
				return Command{}, fmt.Errorf("%w: level %q", ErrUnsupportedCommand, cmd.Params[0])
			}
			if cmd.Fade > 0 || cmd.Delay > 0 {
				dimmed := &leapDimmedLevel{Level: level, FadeTime: leapDuration(cmd.Fade)}
				if cmd.Delay > 0 {
					dimmed.DelayTime = leapDuration(cmd.Delay)
				}
				return leapZoneCommand(zone, leapCommand{CommandType: "GoToDimmedLevel", DimmedLevelParameters: dimmed}), nil
			}
			return leapZoneCommand(zone, leapCommand{
				CommandType: "GoToLevel",
				Parameter:   []leapParameter{{Type: "Level", Value: level}},
			}), nil
		case ActionOutputRaise:
			return leapZoneCommand(zone, leapCommand{CommandType: "Raise"}), nil
		case ActionOutputLower:
			return leapZoneCommand(zone, leapCommand{CommandType: "Lower"}), nil
		case ActionOutputStop:
			return leapZoneCommand(zone, leapCommand{CommandType: "Stop"}), nil
		}

	case TypeDevice:
		if cmd.Operation != OpExecute || len(cmd.Params) == 0 {
			break
		}
		var commandType string
		switch cmd.Params[0] {
		case strconv.Itoa(DeviceActionPress):
			commandType = "PressAndHold"
		case strconv.Itoa(DeviceActionRelease):
			commandType = "Release"
		default:
			return Command{}, fmt.Errorf("%w: device action %s", ErrUnsupportedCommand, cmd.Params[0])
		}
		button, ok := c.reg.ButtonFor(cmd.IntegrationID, cmd.Action)
		if !ok {
			return Command{}, fmt.Errorf("%w: no button %d on device %d", ErrNotFound, cmd.Action, cmd.IntegrationID)
		}
		return leapButtonCommand(button, commandType), nil

	case TypeGroup:
		if cmd.Operation == OpQuery {
			return leapRead(fmt.Sprintf("/occupancygroup/%d/status", cmd.IntegrationID)), nil
		}
	}
	return Command{}, fmt.Errorf("%w: %s action %d on LEAP", ErrUnsupportedCommand, cmd.Target, cmd.Action)
}

func (c *leapCodec) decode(line string) (decoded, error) {
	var resp leapResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return decoded{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	var body leapBody
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return decoded{}, fmt.Errorf("%w: %s body: %w", ErrProtocol, resp.Header.MessageBodyType, err)
		}
	}

	var out decoded
	code := resp.Header.status()
	if resp.CommuniqueType == leapExceptionResponse || code >= 300 || code == 204 {
		out.failed = c.handleNonSuccess(resp, body)
	} else {
		c.handleBody(&out, resp.Header.MessageBodyType, body)
	}

	if !c.announced && c.devicesLoaded && c.buttonsLoaded {
		c.announced = true
		out.discovered = true
	}
	return out, nil
}

// handleNonSuccess logs failed requests. A hub without keypads answers the
// button group read with no content or not-found; that completes discovery.
// A refused device read is returned as an error: without it no zone can be
// addressed.
func (c *leapCodec) handleNonSuccess(resp leapResponse, body leapBody) error {
	switch {
	case resp.Header.URL == urlButtonGroups:
		c.reg.setButtons(nil)
		c.buttonsLoaded = true
		logDebug(c.logger, "hub reported no button groups", "status", resp.Header.StatusCode)
		return nil
	case resp.Header.URL == urlDevices && !c.devicesLoaded:
		if resp.Header.status() == 204 {
			c.devices(&decoded{}, nil)
			return nil
		}
		return fmt.Errorf("%w: %s returned %q: %s", ErrDiscoveryFailed, urlDevices, resp.Header.StatusCode, body.Message)
	case resp.Header.status() == 204:
		return nil
	}
	logWarn(c.logger, "hub returned exception",
		"url", resp.Header.URL, "status", resp.Header.StatusCode, "message", body.Message)
	return nil
}

func (c *leapCodec) handleBody(out *decoded, bodyType string, body leapBody) {
	switch bodyType {
	case bodyOneZoneStatus:
		if body.ZoneStatus != nil {
			c.zoneStatus(out, *body.ZoneStatus)
		}
	case bodyMultipleZoneStatus:
		for _, zs := range body.ZoneStatuses {
			c.zoneStatus(out, zs)
		}
	case bodyMultipleDeviceDefinition:
		c.devices(out, body.Devices)
	case bodyMultipleAreaDefinition:
		c.areas(body.Areas)
	case bodyMultipleOccupancyGroupDef:
		c.occupancyGroups(body.OccupancyGroups)
	case bodyOneOccupancyGroupStatus:
		if body.OccupancyGroupStatus != nil {
			c.occupancyStatus(out, *body.OccupancyGroupStatus)
		}
	case bodyMultipleOccupancyGroupState:
		for _, st := range body.OccupancyGroupStatuses {
			c.occupancyStatus(out, st)
		}
	case bodyButtonGroupsExpanded:
		c.buttonGroups(out, body.ButtonGroupsExpanded)
	case bodyOneButtonStatusEvent:
		if body.ButtonStatus != nil {
			c.buttonEvent(out, *body.ButtonStatus)
		}
	case bodyOnePingResponse, "":
	default:
		logDebug(c.logger, "ignoring LEAP message", "body_type", bodyType)
	}
}

func (c *leapCodec) zoneStatus(out *decoded, zs leapZoneStatus) {
	if zs.Level == nil {
		return
	}
	zone, err := zs.Zone.id()
	if err != nil {
		logWarn(c.logger, "dropping zone status", "error", err)
		return
	}
	device, ok := c.reg.DeviceForZone(zone)
	if !ok {
		logDebug(c.logger, "zone status for unknown zone", "zone_id", zone)
		return
	}
	out.messages = append(out.messages, Message{
		Type:          TypeOutput,
		IntegrationID: device,
		Params:        []string{strconv.Itoa(ActionOutputLevel), formatLevel(*zs.Level)},
	})
}

// devices loads the device list and asks for the current level of every
// zone, which can only be mapped back to a device once the list is known.
func (c *leapCodec) devices(out *decoded, raw []leapDevice) {
	devices := make([]Device, 0, len(raw))
	for _, d := range raw {
		id, err := leapHref{Href: d.Href}.id()
		if err != nil {
			logWarn(c.logger, "skipping device", "error", err)
			continue
		}
		dev := Device{ID: id, Name: d.Name, Type: d.DeviceType, Serial: d.SerialNumber}
		if len(d.LocalZones) > 0 {
			if zone, err := d.LocalZones[0].id(); err == nil {
				dev.ZoneID = zone
			}
		}
		if d.AssociatedArea != nil {
			if area, err := d.AssociatedArea.id(); err == nil {
				dev.AreaID = area
			}
		}
		devices = append(devices, dev)
	}
	c.reg.setDevices(devices)
	c.devicesLoaded = true
	out.followUp = append(out.followUp, leapRead(urlZoneStatus))
	logInfo(c.logger, "LEAP devices discovered", "count", len(devices))
}

func (c *leapCodec) areas(raw []leapArea) {
	areas := make([]Area, 0, len(raw))
	for _, a := range raw {
		id, err := leapHref{Href: a.Href}.id()
		if err != nil {
			continue
		}
		area := Area{ID: id, Name: a.Name}
		if a.Parent != nil {
			area.ParentID, _ = a.Parent.id()
		}
		areas = append(areas, area)
	}
	c.reg.setAreas(areas)
}

func (c *leapCodec) occupancyGroups(raw []leapOccupancyGroup) {
	groups := make([]OccupancyGroup, 0, len(raw))
	for _, g := range raw {
		id, err := leapHref{Href: g.Href}.id()
		if err != nil {
			continue
		}
		group := OccupancyGroup{ID: id}
		for _, aa := range g.AssociatedAreas {
			if area, err := aa.Area.id(); err == nil {
				group.AreaIDs = append(group.AreaIDs, area)
			}
		}
		groups = append(groups, group)
	}
	c.reg.setOccupancyGroups(groups)
}

func (c *leapCodec) occupancyStatus(out *decoded, st leapOccupancyStatus) {
	group, err := st.OccupancyGroup.id()
	if err != nil {
		logWarn(c.logger, "dropping occupancy status", "error", err)
		return
	}
	out.messages = append(out.messages, Message{
		Type:          TypeGroup,
		IntegrationID: group,
		Params:        []string{strconv.Itoa(ActionGroupState), strconv.Itoa(occupancyCode(st.OccupancyStatus))},
	})
}

// buttonGroups learns button ids and subscribes to their events.
func (c *leapCodec) buttonGroups(out *decoded, groups []leapButtonGroup) {
	var entries []buttonEntry
	for _, g := range groups {
		device, err := g.Parent.id()
		if err != nil {
			continue
		}
		for _, b := range g.Buttons {
			id, err := leapHref{Href: b.Href}.id()
			if err != nil {
				continue
			}
			entries = append(entries, buttonEntry{device: device, number: b.ButtonNumber, id: id})
			out.followUp = append(out.followUp, leapSubscribe(fmt.Sprintf("/button/%d/status/event", id)))
		}
	}
	c.reg.setButtons(entries)
	c.buttonsLoaded = true
	logInfo(c.logger, "LEAP buttons discovered", "count", len(entries))
}

func (c *leapCodec) buttonEvent(out *decoded, bs leapButtonStatus) {
	button, err := bs.Button.id()
	if err != nil {
		logWarn(c.logger, "dropping button event", "error", err)
		return
	}
	action, ok := buttonEventCode(bs.ButtonEvent.EventType)
	if !ok {
		logDebug(c.logger, "ignoring button event", "event", bs.ButtonEvent.EventType)
		return
	}
	device, number, ok := c.reg.ButtonOwner(button)
	if !ok {
		logDebug(c.logger, "event for unknown button", "button_id", button)
		return
	}
	out.messages = append(out.messages, Message{
		Type:          TypeDevice,
		IntegrationID: device,
		Params:        []string{strconv.Itoa(number), strconv.Itoa(action)},
	})
}

func (c *leapCodec) initCommands() []Command {
	return []Command{
		leapRead(urlDevices),
		leapRead(urlAreas),
		leapRead(urlOccupancyGroups),
		leapSubscribe(urlOccupancyGroupStatus),
		leapRead(urlButtonGroups),
	}
}

func (c *leapCodec) probe() Command { return leapRead(urlPing) }

func (c *leapCodec) awaitsDiscovery() bool { return true }
