package ble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// NotificationHandler is called once per GATT notification with the
// characteristic's decode kind and the raw payload. Handlers run on the
// dispatch goroutine and must process each notification to completion before
// the next one; the pipeline's internal mutex relies on ordered delivery.
type NotificationHandler func(kind CharacteristicKind, data []byte)

// DisconnectHandler is called when the sensor link drops.
type DisconnectHandler func(deviceName string)

// subscription is one notifying characteristic on the connected sensor.
type subscription struct {
	kind   CharacteristicKind
	uuid   string
	char   *gatt.GattCharacteristic1
	propCh chan *bluez.PropertyChanged
}

// sensorLink is the active connection to a cycling sensor.
type sensorLink struct {
	device    *bluetooth.Device
	address   bluetooth.Address
	name      string
	subs      []*subscription
	connected bool
}

// Central manages the BLE connection to a single cycling sensor: scanning,
// GATT discovery, and notification subscriptions for the fitness
// characteristics.
type Central struct {
	adapter *bluetooth.Adapter
	mu      sync.RWMutex

	link *sensorLink

	onPacket     NotificationHandler
	onDisconnect DisconnectHandler
	scanning     bool
	deviceName   string
}

// NewCentral creates a BLE central that connects to devices whose advertised
// name contains deviceName, or to any advertiser of a known fitness service
// when deviceName is empty.
func NewCentral(deviceName string) *Central {
	return &Central{
		adapter:    bluetooth.DefaultAdapter,
		deviceName: deviceName,
	}
}

// Enable initializes the BLE adapter.
func (c *Central) Enable() error {
	log.Println("BLE: Enabling adapter...")
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	log.Println("BLE: Adapter enabled")
	return nil
}

// SetPacketHandler sets the callback for incoming sensor notifications.
func (c *Central) SetPacketHandler(handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = handler
}

// SetDisconnectHandler sets the callback for link drops.
func (c *Central) SetDisconnectHandler(handler DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

// IsConnected reports whether a sensor is connected and streaming.
func (c *Central) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link != nil && c.link.connected
}

// DeviceName returns the connected sensor's advertised name, if any.
func (c *Central) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.link == nil {
		return ""
	}
	return c.link.name
}

// waitForServicesResolved blocks until BlueZ reports ServicesResolved = true
// for the given device address, or until the timeout expires.
//
// BlueZ performs GATT service discovery asynchronously after the ACL
// connection is established; polling for characteristics before the
// ServicesResolved property flips yields an empty list even on success.
func waitForServicesResolved(addr bluetooth.Address, timeout time.Duration) error {
	devPath := devObjectPath(addr)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", devPath)

	// Fast path: already resolved (e.g. reconnect after prior session).
	v, err := obj.GetProperty("org.bluez.Device1.ServicesResolved")
	if err == nil {
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(devPath),
	); err != nil {
		return fmt.Errorf("dbus match: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("dbus signal channel closed")
			}
			if len(sig.Body) < 2 {
				continue
			}
			iface, ok := sig.Body[0].(string)
			if !ok || iface != "org.bluez.Device1" {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if v, ok := changed["ServicesResolved"]; ok {
				if resolved, ok := v.Value().(bool); ok && resolved {
					return nil
				}
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ServicesResolved")
		}
	}
}

// devObjectPath derives the BlueZ D-Bus object path from a MAC address,
// e.g. "D4:E9:F4:E2:B5:8A" → "/org/bluez/hci0/dev_D4_E9_F4_E2_B5_8A".
func devObjectPath(addr bluetooth.Address) dbus.ObjectPath {
	mac := strings.ToUpper(addr.String())
	devID := strings.ReplaceAll(mac, ":", "_")
	return dbus.ObjectPath("/org/bluez/hci0/dev_" + devID)
}

// charInfo is one characteristic found under the connected device.
type charInfo struct {
	path       string
	uuid       string
	notifiable bool
}

// discoverCharacteristics opens a fresh D-Bus connection and calls
// GetManagedObjects directly on org.bluez, bypassing the go-bluetooth
// singleton ObjectManager which can return a stale/incomplete view of the
// GATT object tree. It returns every characteristic under the device.
func discoverCharacteristics(addr bluetooth.Address) ([]charInfo, error) {
	devPath := string(devObjectPath(addr))

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", "/")
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}

	var chars []charInfo
	for path, ifaces := range managed {
		pathStr := string(path)
		if !strings.HasPrefix(pathStr, devPath+"/") {
			continue
		}

		charIface, ok := ifaces["org.bluez.GattCharacteristic1"]
		if !ok {
			continue
		}
		uuidVar, ok := charIface["UUID"]
		if !ok {
			continue
		}
		uuid, ok := uuidVar.Value().(string)
		if !ok {
			continue
		}

		info := charInfo{path: pathStr, uuid: strings.ToLower(uuid)}
		if flagsVar, ok := charIface["Flags"]; ok {
			if flags, ok := flagsVar.Value().([]string); ok {
				for _, f := range flags {
					if f == "notify" || f == "indicate" {
						info.notifiable = true
						break
					}
				}
			}
		}
		chars = append(chars, info)
	}

	log.Printf("BLE: found %d characteristics under %s", len(chars), devPath)
	return chars, nil
}

// selectSubscriptions picks the characteristics to subscribe to: the three
// standard fitness measurements when present, otherwise every notifiable
// characteristic as Generic so unknown vendor payloads stay visible.
func selectSubscriptions(chars []charInfo) []charInfo {
	var known []charInfo
	for _, ch := range chars {
		if !ch.notifiable {
			continue
		}
		switch ch.uuid {
		case IndoorBikeDataUUID, CSCMeasurementUUID, CyclingPowerMeasurementUUID:
			known = append(known, ch)
		}
	}
	if len(known) > 0 {
		return known
	}

	log.Println("BLE: no standard fitness characteristics found, subscribing to all notifiable ones")
	var fallback []charInfo
	for _, ch := range chars {
		if ch.notifiable {
			fallback = append(fallback, ch)
		}
	}
	return fallback
}

// connectToDevice establishes a connection and subscribes to the sensor's
// measurement characteristics.
func (c *Central) connectToDevice(result bluetooth.ScanResult) error {
	log.Printf("BLE: Connecting to %s (%s)...", result.LocalName(), result.Address.String())

	device, err := c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	log.Printf("BLE: Connected to %s, waiting for GATT profile...", result.LocalName())

	if err := waitForServicesResolved(result.Address, 15*time.Second); err != nil {
		device.Disconnect()
		return fmt.Errorf("GATT not resolved on %s: %w", result.LocalName(), err)
	}

	chars, err := discoverCharacteristics(result.Address)
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("GATT discovery failed on %s: %w", result.LocalName(), err)
	}

	selected := selectSubscriptions(chars)
	if len(selected) == 0 {
		device.Disconnect()
		return fmt.Errorf("no notifiable characteristics on %s", result.LocalName())
	}

	link := &sensorLink{
		device:    device,
		address:   result.Address,
		name:      result.LocalName(),
		connected: true,
	}

	for _, info := range selected {
		// NewGattCharacteristic1 uses the go-bluetooth client which lazily
		// connects via the singleton D-Bus connection — fine for StartNotify
		// and WatchProperties; only GetManagedObjects was unreliable.
		char, err := gatt.NewGattCharacteristic1(dbus.ObjectPath(info.path))
		if err != nil {
			log.Printf("BLE: characteristic %s unavailable: %v", info.uuid, err)
			continue
		}

		propCh, err := char.WatchProperties()
		if err != nil {
			log.Printf("BLE: WatchProperties failed for %s: %v", info.uuid, err)
			continue
		}
		if err := char.StartNotify(); err != nil {
			_ = char.UnwatchProperties(propCh)
			log.Printf("BLE: StartNotify failed for %s: %v", info.uuid, err)
			continue
		}

		sub := &subscription{
			kind:   KindForUUID(info.uuid),
			uuid:   info.uuid,
			char:   char,
			propCh: propCh,
		}
		link.subs = append(link.subs, sub)
		log.Printf("BLE: subscribed to %s (%s)", sub.kind, info.uuid)
	}

	if len(link.subs) == 0 {
		device.Disconnect()
		return fmt.Errorf("could not subscribe to any characteristic on %s", result.LocalName())
	}

	// Store before launching dispatchers so handlers can see the link.
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()

	for _, sub := range link.subs {
		go c.dispatch(link, sub)
	}

	log.Printf("BLE: %s connected, %d characteristic(s) streaming", link.name, len(link.subs))
	return nil
}

// dispatch forwards GATT value notifications for one characteristic to the
// packet handler. It returns when BlueZ closes the property channel, which
// doubles as disconnect detection.
func (c *Central) dispatch(link *sensorLink, sub *subscription) {
	for update := range sub.propCh {
		if update == nil {
			continue
		}
		if update.Interface != "org.bluez.GattCharacteristic1" || update.Name != "Value" {
			continue
		}
		data, ok := update.Value.([]byte)
		if !ok {
			continue
		}

		c.mu.RLock()
		handler := c.onPacket
		c.mu.RUnlock()
		if handler != nil {
			handler(sub.kind, data)
		}
	}

	c.handleLinkDown(link)
}

// handleLinkDown marks the link disconnected exactly once and notifies the
// disconnect handler.
func (c *Central) handleLinkDown(link *sensorLink) {
	c.mu.Lock()
	wasConnected := link.connected
	link.connected = false
	name := link.name
	handler := c.onDisconnect
	c.mu.Unlock()

	if wasConnected {
		log.Printf("BLE: %s disconnected", name)
		if handler != nil {
			handler(name)
		}
	}
}

// matches reports whether a scan result looks like our sensor: the
// configured name (substring match, vendor firmware appends unit numbers
// like "iConsole+0462"), or any advertiser of a fitness service.
func (c *Central) matches(result bluetooth.ScanResult) bool {
	name := result.LocalName()
	if c.deviceName != "" {
		return name != "" && strings.Contains(name, c.deviceName)
	}
	return result.HasServiceUUID(bluetooth.ServiceUUIDFitnessMachine) ||
		result.HasServiceUUID(bluetooth.ServiceUUIDCyclingSpeedAndCadence) ||
		result.HasServiceUUID(bluetooth.ServiceUUIDCyclingPower)
}

// StartScanning begins scanning for the sensor and connects to the first
// match. Returns immediately; the scan runs on its own goroutine.
func (c *Central) StartScanning() error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.scanning = true
	c.mu.Unlock()

	log.Println("BLE: Starting scan for cycling sensors...")

	go func() {
		err := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !c.matches(result) || c.IsConnected() {
				return
			}

			log.Printf("BLE: Found %s at %s", result.LocalName(), result.Address.String())

			// Stop scanning while connecting; the scanner loop restarts the
			// scan if the connection attempt fails.
			adapter.StopScan()
			c.mu.Lock()
			c.scanning = false
			c.mu.Unlock()

			if err := c.connectToDevice(result); err != nil {
				log.Printf("BLE: Failed to connect to %s: %v", result.LocalName(), err)
			}
		})
		if err != nil {
			log.Printf("BLE: Scan error: %v", err)
			c.mu.Lock()
			c.scanning = false
			c.mu.Unlock()
		}
	}()

	return nil
}

// StopScanning stops the BLE scan.
func (c *Central) StopScanning() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanning {
		c.scanning = false
		c.adapter.StopScan()
		log.Println("BLE: Scan stopped")
	}
}

// Disconnect tears down the sensor link and its subscriptions.
func (c *Central) Disconnect() error {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link == nil || !link.connected {
		return nil
	}
	link.connected = false

	for _, sub := range link.subs {
		_ = sub.char.StopNotify()
		if sub.propCh != nil {
			_ = sub.char.UnwatchProperties(sub.propCh)
		}
	}
	if err := link.device.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", link.name, err)
	}
	log.Printf("BLE: %s disconnected", link.name)
	return nil
}
