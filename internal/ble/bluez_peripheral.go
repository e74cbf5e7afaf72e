package ble

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/catshare/engine/internal/wire"
)

// BlueZ D-Bus object/interface names. The Legacy advertiser needs
// org.bluez.LEAdvertisement1's Experimental ScanResponseServiceData
// property, which tinygo.org/x/bluetooth does not expose, so the
// peripheral role talks to BlueZ directly over D-Bus rather than
// through the central-role library used by bluez_central.go.
const (
	bluezBusName            = "org.bluez"
	bluezRootPath           = "/org/bluez"
	bluezAdapterPath        = bluezRootPath + "/hci0"
	leAdvertisingManagerIfc = "org.bluez.LEAdvertisingManager1"
	leAdvertisementIfc      = "org.bluez.LEAdvertisement1"
	gattManagerIfc          = "org.bluez.GattManager1"
	gattServiceIfc          = "org.bluez.GattService1"
	gattCharacteristicIfc   = "org.bluez.GattCharacteristic1"
	dbusPropertiesIfc       = "org.freedesktop.DBus.Properties"
	dbusObjectManagerIfc    = "org.freedesktop.DBus.ObjectManager"

	appObjectPath  = dbus.ObjectPath("/catshare/engine")
	advObjectPath  = dbus.ObjectPath("/catshare/engine/advertisement0")
	svcObjectPath  = dbus.ObjectPath("/catshare/engine/service0")
	charStatusPath = svcObjectPath + "/char_status"
	charP2PPath    = svcObjectPath + "/char_p2p"
)

// BlueZPeripheralAdapter implements GattServer by exporting a
// LEAdvertisement1 object and a minimal GATT application directly on
// the session's D-Bus connection to org.bluez.
type BlueZPeripheralAdapter struct {
	conn *dbus.Conn

	svc        *gattServiceObject
	statusChar *gattCharObject
	p2pChar    *gattCharObject

	mu          sync.Mutex
	statusValue []byte
	p2pValue    []byte
	onP2pWrite  func(P2pWrite)
	notifySubs  []func([]byte)
	registered  bool
}

// NewBlueZPeripheralAdapter dials the system bus; callers must call
// Enable before StartAdvertising.
func NewBlueZPeripheralAdapter() (*BlueZPeripheralAdapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connecting to system D-Bus: %w", err)
	}
	return &BlueZPeripheralAdapter{conn: conn}, nil
}

func (p *BlueZPeripheralAdapter) Enable() error {
	adapter := p.conn.Object(bluezBusName, bluezAdapterPath)
	call := adapter.Call("org.freedesktop.DBus.Properties.Set", 0, "org.bluez.Adapter1", "Powered", dbus.MakeVariant(true))
	if call.Err != nil {
		return fmt.Errorf("ble: powering on adapter: %w", call.Err)
	}
	return nil
}

// StartAdvertising exports the GATT application objects and the
// LEAdvertisement1 object, then registers both with BlueZ.
func (p *BlueZPeripheralAdapter) StartAdvertising(identity wire.IdentityFrame, deviceName string) (AdvertisementHandle, error) {
	if err := p.exportGattApplication(); err != nil {
		return nil, err
	}
	if err := p.exportAdvertisement(identity, deviceName); err != nil {
		return nil, err
	}

	gattMgr := p.conn.Object(bluezBusName, bluezAdapterPath)
	if call := gattMgr.Call(gattManagerIfc+".RegisterApplication", 0, appObjectPath, map[string]dbus.Variant{}); call.Err != nil {
		return nil, fmt.Errorf("ble: registering GATT application: %w", call.Err)
	}

	advMgr := p.conn.Object(bluezBusName, bluezAdapterPath)
	if call := advMgr.Call(leAdvertisingManagerIfc+".RegisterAdvertisement", 0, advObjectPath, map[string]dbus.Variant{}); call.Err != nil {
		_ = p.unregisterApplication()
		return nil, fmt.Errorf("ble: registering advertisement: %w", call.Err)
	}

	p.mu.Lock()
	p.registered = true
	p.mu.Unlock()

	return &bluezAdvertisementHandle{peripheral: p}, nil
}

// exportGattApplication exports the service/characteristic method
// interfaces, a Properties interface on each of them (BlueZ reads
// UUID/Primary/Service/Flags this way when it introspects the
// application), and an ObjectManager at appObjectPath so
// GattManager1.RegisterApplication can discover the objects at all.
func (p *BlueZPeripheralAdapter) exportGattApplication() error {
	p.svc = &gattServiceObject{}
	p.statusChar = &gattCharObject{peripheral: p, path: charStatusPath, uuid: CharStatusUUID}
	p.p2pChar = &gattCharObject{peripheral: p, path: charP2PPath, uuid: CharP2PUUID}

	if err := p.conn.Export(p.svc, svcObjectPath, gattServiceIfc); err != nil {
		return fmt.Errorf("ble: exporting GATT service object: %w", err)
	}
	if err := p.conn.Export(p.svc, svcObjectPath, dbusPropertiesIfc); err != nil {
		return fmt.Errorf("ble: exporting GATT service properties: %w", err)
	}
	if err := p.conn.Export(p.statusChar, charStatusPath, gattCharacteristicIfc); err != nil {
		return fmt.Errorf("ble: exporting CHAR_STATUS: %w", err)
	}
	if err := p.conn.Export(p.statusChar, charStatusPath, dbusPropertiesIfc); err != nil {
		return fmt.Errorf("ble: exporting CHAR_STATUS properties: %w", err)
	}
	if err := p.conn.Export(p.p2pChar, charP2PPath, gattCharacteristicIfc); err != nil {
		return fmt.Errorf("ble: exporting CHAR_P2P: %w", err)
	}
	if err := p.conn.Export(p.p2pChar, charP2PPath, dbusPropertiesIfc); err != nil {
		return fmt.Errorf("ble: exporting CHAR_P2P properties: %w", err)
	}
	if err := p.conn.Export(&gattApplicationObject{peripheral: p}, appObjectPath, dbusObjectManagerIfc); err != nil {
		return fmt.Errorf("ble: exporting GATT application object manager: %w", err)
	}
	return nil
}

func (p *BlueZPeripheralAdapter) exportAdvertisement(identity wire.IdentityFrame, deviceName string) error {
	serviceUUID := fmt.Sprintf("%04x", identity.ServiceUUID())
	nameFrame := wire.NameFrame{SenderID: identity.SenderID, DeviceName: deviceName}.Pack()

	adv := &leAdvertisementObject{
		primaryUUID:   serviceUUID,
		primaryData:   identity.Pack(),
		scanRespUUID:  fmt.Sprintf("%04x", wire.NameServiceUUID),
		scanRespData:  nameFrame,
	}
	if err := p.conn.Export(adv, advObjectPath, leAdvertisementIfc); err != nil {
		return fmt.Errorf("ble: exporting LEAdvertisement1 object: %w", err)
	}
	if err := p.conn.Export(adv, advObjectPath, dbusPropertiesIfc); err != nil {
		return fmt.Errorf("ble: exporting LEAdvertisement1 properties: %w", err)
	}
	return nil
}

func (p *BlueZPeripheralAdapter) unregisterApplication() error {
	gattMgr := p.conn.Object(bluezBusName, bluezAdapterPath)
	call := gattMgr.Call(gattManagerIfc+".UnregisterApplication", 0, appObjectPath)
	return call.Err
}

func (p *BlueZPeripheralAdapter) PublishStatus(data []byte) error {
	p.mu.Lock()
	p.statusValue = data
	subs := append([]func([]byte){}, p.notifySubs...)
	p.mu.Unlock()

	for _, sub := range subs {
		sub(data)
	}
	return nil
}

func (p *BlueZPeripheralAdapter) OnP2pWrite(callback func(P2pWrite)) {
	p.mu.Lock()
	p.onP2pWrite = callback
	p.mu.Unlock()
}

func (p *BlueZPeripheralAdapter) SetP2pResponse(data []byte) error {
	p.mu.Lock()
	p.p2pValue = data
	p.mu.Unlock()
	return nil
}

var _ GattServer = (*BlueZPeripheralAdapter)(nil)

type bluezAdvertisementHandle struct {
	peripheral *BlueZPeripheralAdapter
}

func (h *bluezAdvertisementHandle) Stop() error {
	h.peripheral.mu.Lock()
	if !h.peripheral.registered {
		h.peripheral.mu.Unlock()
		return nil
	}
	h.peripheral.registered = false
	h.peripheral.mu.Unlock()

	advMgr := h.peripheral.conn.Object(bluezBusName, bluezAdapterPath)
	advMgr.Call(leAdvertisingManagerIfc+".UnregisterAdvertisement", 0, advObjectPath)
	return h.peripheral.unregisterApplication()
}

// gattApplicationObject implements org.freedesktop.DBus.ObjectManager at
// appObjectPath, the interface GattManager1.RegisterApplication uses to
// enumerate the service/characteristic objects and their properties.
type gattApplicationObject struct {
	peripheral *BlueZPeripheralAdapter
}

func (o *gattApplicationObject) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	p := o.peripheral
	return map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		svcObjectPath:  {gattServiceIfc: p.svc.properties()},
		charStatusPath: {gattCharacteristicIfc: p.statusChar.properties()},
		charP2PPath:    {gattCharacteristicIfc: p.p2pChar.properties()},
	}, nil
}

// gattServiceObject is the minimal exported org.bluez.GattService1 object.
type gattServiceObject struct{}

func (s *gattServiceObject) UUID() (string, *dbus.Error)  { return "00009955-0000-1000-8000-008123456789", nil }
func (s *gattServiceObject) Primary() (bool, *dbus.Error) { return true, nil }

func (s *gattServiceObject) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant("00009955-0000-1000-8000-008123456789"),
		"Primary": dbus.MakeVariant(true),
	}
}

func (s *gattServiceObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return s.properties(), nil
}

func (s *gattServiceObject) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if v, ok := s.properties()[prop]; ok {
		return v, nil
	}
	return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
}

// gattCharObject implements org.bluez.GattCharacteristic1 for one of
// CHAR_STATUS / CHAR_P2P, dispatching reads/writes back to the owning
// BlueZPeripheralAdapter.
type gattCharObject struct {
	peripheral *BlueZPeripheralAdapter
	path       dbus.ObjectPath
	uuid       string
}

func (c *gattCharObject) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.peripheral.mu.Lock()
	defer c.peripheral.mu.Unlock()
	if c.uuid == CharStatusUUID {
		return c.peripheral.statusValue, nil
	}
	return c.peripheral.p2pValue, nil
}

func (c *gattCharObject) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if c.uuid != CharP2PUUID {
		return dbus.NewError("org.bluez.Error.NotPermitted", nil)
	}
	c.peripheral.mu.Lock()
	cb := c.peripheral.onP2pWrite
	c.peripheral.mu.Unlock()
	if cb == nil {
		return dbus.NewError("org.bluez.Error.Failed", nil)
	}
	peerMAC := ""
	if addr, ok := options["device"]; ok {
		peerMAC = fmt.Sprintf("%v", addr.Value())
	}
	cb(P2pWrite{PeerMAC: peerMAC, Payload: value})
	return nil
}

func (c *gattCharObject) StartNotify() *dbus.Error {
	c.peripheral.mu.Lock()
	c.peripheral.notifySubs = append(c.peripheral.notifySubs, func(value []byte) {
		_ = c.peripheral.conn.Emit(c.path, dbusPropertiesIfc+".PropertiesChanged",
			gattCharacteristicIfc, map[string]dbus.Variant{"Value": dbus.MakeVariant(value)}, []string{})
	})
	c.peripheral.mu.Unlock()
	return nil
}

func (c *gattCharObject) StopNotify() *dbus.Error { return nil }

// flags reports CHAR_STATUS as read+notify and CHAR_P2P as read+write,
// per the service layout in spec §4.2.
func (c *gattCharObject) flags() []string {
	if c.uuid == CharStatusUUID {
		return []string{"read", "notify"}
	}
	return []string{"read", "write"}
}

func (c *gattCharObject) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(c.uuid),
		"Service": dbus.MakeVariant(svcObjectPath),
		"Flags":   dbus.MakeVariant(c.flags()),
	}
}

func (c *gattCharObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return c.properties(), nil
}

func (c *gattCharObject) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if v, ok := c.properties()[prop]; ok {
		return v, nil
	}
	return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
}

// leAdvertisementObject implements org.bluez.LEAdvertisement1, carrying
// the two Legacy frames packed per spec §4.2. ScanResponseServiceData
// is the Experimental property BlueZ >= 5.65 requires for the name
// frame; service data for the primary frame is the ordinary property.
type leAdvertisementObject struct {
	primaryUUID  string
	primaryData  []byte
	scanRespUUID string
	scanRespData []byte
}

func (a *leAdvertisementObject) Release() *dbus.Error { return nil }

func (a *leAdvertisementObject) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type": dbus.MakeVariant("peripheral"),
		"ServiceData": dbus.MakeVariant(map[string]dbus.Variant{
			a.primaryUUID: dbus.MakeVariant(a.primaryData),
		}),
		"ScanResponseServiceData": dbus.MakeVariant(map[string]dbus.Variant{
			a.scanRespUUID: dbus.MakeVariant(a.scanRespData),
		}),
		"Includes": dbus.MakeVariant([]string{"tx-power"}),
	}
}

func (a *leAdvertisementObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return a.properties(), nil
}

func (a *leAdvertisementObject) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if v, ok := a.properties()[prop]; ok {
		return v, nil
	}
	return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
}
