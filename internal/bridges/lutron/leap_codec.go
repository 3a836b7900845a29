package lutron

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LEAP communique types.
const (
	leapReadRequest       = "ReadRequest"
	leapCreateRequest     = "CreateRequest"
	leapSubscribeRequest  = "SubscribeRequest"
	leapExceptionResponse = "ExceptionResponse"
)

// LEAP message body types handled by the codec.
const (
	bodyOneZoneStatus               = "OneZoneStatus"
	bodyMultipleZoneStatus          = "MultipleZoneStatus"
	bodyMultipleDeviceDefinition    = "MultipleDeviceDefinition"
	bodyMultipleAreaDefinition      = "MultipleAreaDefinition"
	bodyMultipleOccupancyGroupDef   = "MultipleOccupancyGroupDefinition"
	bodyOneOccupancyGroupStatus     = "OneOccupancyGroupStatus"
	bodyMultipleOccupancyGroupState = "MultipleOccupancyGroupStatus"
	bodyButtonGroupsExpanded        = "MultipleButtonGroupExpandedDefinition"
	bodyOneButtonStatusEvent        = "OneButtonStatusEvent"
	bodyOnePingResponse             = "OnePingResponse"
	bodyExceptionDetail             = "ExceptionDetail"
)

// LEAP resource paths.
const (
	urlDevices              = "/device"
	urlAreas                = "/area"
	urlOccupancyGroups      = "/occupancygroup"
	urlOccupancyGroupStatus = "/occupancygroup/status"
	urlButtonGroups         = "/buttongroup/expanded"
	urlZoneStatus           = "/zone/status"
	urlPing                 = "/server/1/status/ping"
)

// leapRequest is an outbound LEAP communique.
type leapRequest struct {
	CommuniqueType string     `json:"CommuniqueType"`
	Header         leapHeader `json:"Header"`
	Body           any        `json:"Body,omitempty"`
}

// leapResponse is an inbound LEAP communique with its body left raw until
// the header says what it holds.
type leapResponse struct {
	CommuniqueType string          `json:"CommuniqueType"`
	Header         leapHeader      `json:"Header"`
	Body           json.RawMessage `json:"Body,omitempty"`
}

type leapHeader struct {
	MessageBodyType string `json:"MessageBodyType,omitempty"`
	StatusCode      string `json:"StatusCode,omitempty"`
	URL             string `json:"Url"`
	ClientTag       string `json:"ClientTag,omitempty"`
}

// status returns the numeric part of a status code such as "200 OK".
func (h leapHeader) status() int {
	code, _, _ := strings.Cut(h.StatusCode, " ")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

type leapHref struct {
	Href string `json:"href"`
}

// id returns the numeric id at the end of an object href such as "/zone/12".
func (h leapHref) id() (int, error) {
	n, err := strconv.Atoi(path.Base(h.Href))
	if err != nil {
		return 0, fmt.Errorf("%w: href %q", ErrProtocol, h.Href)
	}
	return n, nil
}

type leapCommandBody struct {
	Command leapCommand `json:"Command"`
}

type leapCommand struct {
	CommandType           string           `json:"CommandType"`
	Parameter             []leapParameter  `json:"Parameter,omitempty"`
	DimmedLevelParameters *leapDimmedLevel `json:"DimmedLevelParameters,omitempty"`
}

type leapParameter struct {
	Type  string  `json:"Type"`
	Value float64 `json:"Value"`
}

type leapDimmedLevel struct {
	Level     float64 `json:"Level"`
	FadeTime  string  `json:"FadeTime,omitempty"`
	DelayTime string  `json:"DelayTime,omitempty"`
}

// leapBody is the union of every response body the codec reads. Only the
// field named by MessageBodyType is populated.
type leapBody struct {
	ZoneStatus             *leapZoneStatus       `json:"ZoneStatus,omitempty"`
	ZoneStatuses           []leapZoneStatus      `json:"ZoneStatuses,omitempty"`
	Devices                []leapDevice          `json:"Devices,omitempty"`
	Areas                  []leapArea            `json:"Areas,omitempty"`
	OccupancyGroups        []leapOccupancyGroup  `json:"OccupancyGroups,omitempty"`
	OccupancyGroupStatus   *leapOccupancyStatus  `json:"OccupancyGroupStatus,omitempty"`
	OccupancyGroupStatuses []leapOccupancyStatus `json:"OccupancyGroupStatuses,omitempty"`
	ButtonGroupsExpanded   []leapButtonGroup     `json:"ButtonGroupsExpanded,omitempty"`
	ButtonStatus           *leapButtonStatus     `json:"ButtonStatus,omitempty"`
	PingResponse           *leapPing             `json:"PingResponse,omitempty"`
	Message                string                `json:"Message,omitempty"`
}

type leapZoneStatus struct {
	Href           string   `json:"href,omitempty"`
	Level          *float64 `json:"Level,omitempty"`
	Zone           leapHref `json:"Zone"`
	StatusAccuracy string   `json:"StatusAccuracy,omitempty"`
}

type leapDevice struct {
	Href           string     `json:"href"`
	Name           string     `json:"Name"`
	DeviceType     string     `json:"DeviceType"`
	SerialNumber   int64      `json:"SerialNumber,omitempty"`
	LocalZones     []leapHref `json:"LocalZones,omitempty"`
	AssociatedArea *leapHref  `json:"AssociatedArea,omitempty"`
}

type leapArea struct {
	Href   string    `json:"href"`
	Name   string    `json:"Name"`
	Parent *leapHref `json:"Parent,omitempty"`
}

type leapOccupancyGroup struct {
	Href            string `json:"href"`
	AssociatedAreas []struct {
		Area leapHref `json:"Area"`
	} `json:"AssociatedAreas,omitempty"`
}

type leapOccupancyStatus struct {
	OccupancyGroup  leapHref `json:"OccupancyGroup"`
	OccupancyStatus string   `json:"OccupancyStatus"`
}

type leapButtonGroup struct {
	Href    string       `json:"href"`
	Parent  leapHref     `json:"Parent"`
	Buttons []leapButton `json:"Buttons"`
}

type leapButton struct {
	Href         string `json:"href"`
	ButtonNumber int    `json:"ButtonNumber"`
	Name         string `json:"Name,omitempty"`
}

type leapButtonStatus struct {
	Button      leapHref `json:"Button"`
	ButtonEvent struct {
		EventType string `json:"EventType"`
	} `json:"ButtonEvent"`
}

type leapPing struct {
	LEAPVersion float64 `json:"LEAPVersion"`
}

func newLeapRequest(communique, url string, body any) Command {
	return Command{leap: &leapRequest{
		CommuniqueType: communique,
		Header:         leapHeader{URL: url, ClientTag: uuid.NewString()},
		Body:           body,
	}}
}

func leapRead(url string) Command      { return newLeapRequest(leapReadRequest, url, nil) }
func leapSubscribe(url string) Command { return newLeapRequest(leapSubscribeRequest, url, nil) }

func leapZoneCommand(zone int, cmd leapCommand) Command {
	return newLeapRequest(leapCreateRequest, fmt.Sprintf("/zone/%d/commandprocessor", zone), leapCommandBody{Command: cmd})
}

func leapButtonCommand(button int, commandType string) Command {
	return newLeapRequest(leapCreateRequest, fmt.Sprintf("/button/%d/commandprocessor", button),
		leapCommandBody{Command: leapCommand{CommandType: commandType}})
}

// leapDuration renders a fade or delay as "hh:mm:ss", LEAP's only form.
func leapDuration(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// occupancyCode maps a LEAP occupancy status to the LIP group state.
func occupancyCode(status string) int {
	switch status {
	case "Occupied":
		return OccupancyOccupied
	case "Unoccupied":
		return OccupancyUnoccupied
	default:
		return OccupancyUnknown
	}
}

// buttonEventCode maps a LEAP button event to the LIP component action.
func buttonEventCode(event string) (int, bool) {
	switch event {
	case "Press":
		return DeviceActionPress, true
	case "Release":
		return DeviceActionRelease, true
	default:
		return 0, false
	}
}
