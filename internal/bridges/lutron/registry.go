package lutron

import (
	"fmt"
	"sort"
	"sync"
)

// Handler owns the state of one integration id (a dimmer, keypad, shade,
// occupancy group and so on).
type Handler interface {
	IntegrationID() int

	// HandleUpdate is called on the bridge's reader goroutine for every
	// message addressed to this id. It must return quickly.
	HandleUpdate(msgType MessageType, params []string)
}

// StatusListener is implemented by handlers that want bridge status pushes.
// Calls are made from the bridge's notifier goroutine, never the reader.
type StatusListener interface {
	BridgeStatusChanged(status Status)
}

// Device is a LEAP device from discovery.
type Device struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Serial     int64  `json:"serial,omitempty"`
	ZoneID     int    `json:"zone_id,omitempty"`
	AreaID     int    `json:"area_id,omitempty"`
	ButtonIDs  []int  `json:"button_ids,omitempty"`
	HasButtons bool   `json:"has_buttons"`
}

// Area is a LEAP area from discovery.
type Area struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID int    `json:"parent_id,omitempty"`
}

// OccupancyGroup is a LEAP occupancy group from discovery.
type OccupancyGroup struct {
	ID      int   `json:"id"`
	AreaIDs []int `json:"area_ids,omitempty"`
}

// Discovery is a snapshot of what the hub reported about itself.
type Discovery struct {
	Devices         []Device         `json:"devices"`
	Areas           []Area           `json:"areas"`
	OccupancyGroups []OccupancyGroup `json:"occupancy_groups"`
}

type buttonKey struct {
	device int
	number int
}

// Registry maps integration ids to handlers and holds the LEAP lookup
// tables needed to translate between zones, buttons and devices.
//
// Lookups never block on discovery; an empty table simply misses.
type Registry struct {
	mu       sync.RWMutex
	handlers map[int]Handler

	zoneToDevice map[int]int
	deviceToZone map[int]int
	buttons      map[buttonKey]int
	buttonOwner  map[int]buttonKey

	devices map[int]Device
	areas   map[int]Area
	groups  map[int]OccupancyGroup

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger Logger) *Registry {
	return &Registry{
		handlers:     make(map[int]Handler),
		zoneToDevice: make(map[int]int),
		deviceToZone: make(map[int]int),
		buttons:      make(map[buttonKey]int),
		buttonOwner:  make(map[int]buttonKey),
		devices:      make(map[int]Device),
		areas:        make(map[int]Area),
		groups:       make(map[int]OccupancyGroup),
		logger:       logger,
	}
}

// Register binds h to id. A second registration for the same id replaces
// the first.
func (r *Registry) Register(id int, h Handler) {
	r.mu.Lock()
	_, exists := r.handlers[id]
	r.handlers[id] = h
	r.mu.Unlock()

	if exists {
		logWarn(r.logger, "replacing handler for integration id", "integration_id", id)
	}
}

// Unregister removes the handler for id. Unknown ids are ignored.
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// Handler returns the handler registered for id.
func (r *Registry) Handler(id int) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// snapshot returns all registered handlers.
func (r *Registry) snapshot() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// Dispatch delivers msg to the handler for its integration id and reports
// whether one was registered. A panicking handler is logged and isolated.
func (r *Registry) Dispatch(msg Message) (handled bool) {
	h, ok := r.Handler(msg.IntegrationID)
	if !ok {
		logDebug(r.logger, "no handler for integration id",
			"integration_id", msg.IntegrationID, "type", string(msg.Type))
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			logError(r.logger, "handler panic recovered",
				"integration_id", msg.IntegrationID, "panic", fmt.Sprint(rec))
		}
	}()
	h.HandleUpdate(msg.Type, msg.Params)
	return true
}

// DeviceForZone returns the device that owns a LEAP zone.
func (r *Registry) DeviceForZone(zone int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.zoneToDevice[zone]
	return d, ok
}

// ZoneForDevice returns the LEAP zone controlled by a device.
func (r *Registry) ZoneForDevice(device int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.deviceToZone[device]
	return z, ok
}

// ButtonFor returns the LEAP button id for a device's button number.
func (r *Registry) ButtonFor(device, number int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buttons[buttonKey{device, number}]
	return b, ok
}

// ButtonOwner returns the device and button number of a LEAP button id.
func (r *Registry) ButtonOwner(button int) (device, number int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.buttonOwner[button]
	return k.device, k.number, ok
}

// Discovery returns a sorted snapshot of discovery data.
func (r *Registry) Discovery() Discovery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := Discovery{
		Devices:         make([]Device, 0, len(r.devices)),
		Areas:           make([]Area, 0, len(r.areas)),
		OccupancyGroups: make([]OccupancyGroup, 0, len(r.groups)),
	}
	for _, dev := range r.devices {
		dev.ButtonIDs = append([]int(nil), dev.ButtonIDs...)
		d.Devices = append(d.Devices, dev)
	}
	for _, a := range r.areas {
		d.Areas = append(d.Areas, a)
	}
	for _, g := range r.groups {
		g.AreaIDs = append([]int(nil), g.AreaIDs...)
		d.OccupancyGroups = append(d.OccupancyGroups, g)
	}
	sort.Slice(d.Devices, func(i, j int) bool { return d.Devices[i].ID < d.Devices[j].ID })
	sort.Slice(d.Areas, func(i, j int) bool { return d.Areas[i].ID < d.Areas[j].ID })
	sort.Slice(d.OccupancyGroups, func(i, j int) bool { return d.OccupancyGroups[i].ID < d.OccupancyGroups[j].ID })
	return d
}

// setDevices replaces the device table and the zone maps derived from it.
// Button ids already learned are carried over.
func (r *Registry) setDevices(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.devices
	r.devices = make(map[int]Device, len(devices))
	r.zoneToDevice = make(map[int]int, len(devices))
	r.deviceToZone = make(map[int]int, len(devices))
	for _, d := range devices {
		if prev, ok := old[d.ID]; ok && len(d.ButtonIDs) == 0 {
			d.ButtonIDs, d.HasButtons = prev.ButtonIDs, prev.HasButtons
		}
		r.devices[d.ID] = d
		if d.ZoneID != 0 {
			r.zoneToDevice[d.ZoneID] = d.ID
			r.deviceToZone[d.ID] = d.ZoneID
		}
	}
}

// buttonEntry is one button learned from a button group.
type buttonEntry struct {
	device int
	number int
	id     int
}

// setButtons replaces the button maps.
func (r *Registry) setButtons(entries []buttonEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buttons = make(map[buttonKey]int, len(entries))
	r.buttonOwner = make(map[int]buttonKey, len(entries))
	perDevice := make(map[int][]int)
	for _, e := range entries {
		k := buttonKey{e.device, e.number}
		r.buttons[k] = e.id
		r.buttonOwner[e.id] = k
		perDevice[e.device] = append(perDevice[e.device], e.id)
	}
	for id, d := range r.devices {
		d.ButtonIDs = perDevice[id]
		d.HasButtons = len(d.ButtonIDs) > 0
		r.devices[id] = d
	}
}

func (r *Registry) setAreas(areas []Area) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.areas = make(map[int]Area, len(areas))
	for _, a := range areas {
		r.areas[a.ID] = a
	}
}

func (r *Registry) setOccupancyGroups(groups []OccupancyGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[int]OccupancyGroup, len(groups))
	for _, g := range groups {
		r.groups[g.ID] = g
	}
}
