package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService         = "org.bluez"
	bluezAdapterPath     = "/org/bluez/hci0"
	deviceInterface      = "org.bluez.Device1"
	charInterface        = "org.bluez.GattCharacteristic1"
	propertiesInterface  = "org.freedesktop.DBus.Properties"
	objectManagerMethod  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	connectPollInterval  = 200 * time.Millisecond
	servicesResolvedWait = 2 * time.Second
)

// BluezDialer creates sessions backed by the system D-Bus BlueZ daemon.
// Each Dial opens its own bus connection so that sessions from different
// generations never share signal channels.
type BluezDialer struct{}

func (BluezDialer) Dial(target Target, timeouts Timeouts) (Session, error) {
	if !target.Complete() {
		return nil, ErrMissingTarget
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: system bus: %w", err)
	}
	return &BluezSession{
		conn:     conn,
		target:   target,
		timeouts: timeouts.WithDefaults(),
	}, nil
}

// BluezSession drives one BlueZ device through its GATT characteristics.
type BluezSession struct {
	conn     *dbus.Conn
	target   Target
	timeouts Timeouts

	mu         sync.Mutex
	devicePath dbus.ObjectPath
	notifyPath dbus.ObjectPath
	writePath  dbus.ObjectPath
	notifying  bool
	stopped    bool
	signals    chan *dbus.Signal
	done       chan struct{}
}

// formatDevicePath maps a MAC address onto the BlueZ object path, e.g.
// AA:BB:CC:DD:EE:FF -> /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func formatDevicePath(address string) dbus.ObjectPath {
	sanitized := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(bluezAdapterPath + "/dev_" + sanitized)
}

func (s *BluezSession) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Connect)
	defer cancel()

	devicePath := formatDevicePath(s.target.Address)
	device := s.conn.Object(bluezService, devicePath)

	call := device.CallWithContext(ctx, deviceInterface+".Connect", 0)
	if call.Err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrConnectTimeout, s.target.Address)
		}
		return fmt.Errorf("ble: connect %s: %w", s.target.Address, call.Err)
	}

	// BlueZ resolves GATT services asynchronously after Connect returns.
	// Poll ServicesResolved so that characteristic discovery below does not
	// race an incomplete object tree.
	if err := s.waitServicesResolved(ctx, device); err != nil {
		return err
	}

	notifyPath, writePath, err := s.resolveCharacteristics(ctx, devicePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.devicePath = devicePath
	s.notifyPath = notifyPath
	s.writePath = writePath
	s.mu.Unlock()

	log.Debug().
		Str("address", s.target.Address).
		Str("notify_path", string(notifyPath)).
		Msg("ble session connected")
	return nil
}

func (s *BluezSession) waitServicesResolved(ctx context.Context, device dbus.BusObject) error {
	deadline := time.Now().Add(servicesResolvedWait)
	for {
		resolved, err := device.GetProperty(deviceInterface + ".ServicesResolved")
		if err == nil {
			if v, ok := resolved.Value().(bool); ok && v {
				return nil
			}
		}
		if time.Now().After(deadline) {
			// Some firmwares never flip the flag; proceed and let
			// characteristic resolution be the arbiter.
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for services", ErrConnectTimeout)
		case <-time.After(connectPollInterval):
		}
	}
}

// resolveCharacteristics walks the managed object tree under the device path
// and matches the notify and write characteristics by UUID.
func (s *BluezSession) resolveCharacteristics(ctx context.Context, devicePath dbus.ObjectPath) (notify, write dbus.ObjectPath, err error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := s.conn.Object(bluezService, "/")
	if err := root.CallWithContext(ctx, objectManagerMethod, 0).Store(&objects); err != nil {
		return "", "", fmt.Errorf("ble: managed objects: %w", err)
	}

	wantNotify := strings.ToLower(s.target.NotifyUUID)
	wantWrite := strings.ToLower(s.target.WriteUUID)
	prefix := string(devicePath) + "/"

	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := interfaces[charInterface]
		if !ok {
			continue
		}
		uuid, ok := props["UUID"].Value().(string)
		if !ok {
			continue
		}
		switch strings.ToLower(uuid) {
		case wantNotify:
			notify = path
		case wantWrite:
			write = path
		}
	}
	if notify == "" || write == "" {
		return "", "", fmt.Errorf("%w: notify=%q write=%q", ErrCharsNotFound, s.target.NotifyUUID, s.target.WriteUUID)
	}
	return notify, write, nil
}

func (s *BluezSession) StartNotifications(ctx context.Context, onData func([]byte)) error {
	s.mu.Lock()
	notifyPath := s.notifyPath
	if notifyPath == "" {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.notifying {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Subscribe)
	defer cancel()

	matchOptions := []dbus.MatchOption{
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(notifyPath),
	}
	if err := s.conn.AddMatchSignalContext(ctx, matchOptions...); err != nil {
		return fmt.Errorf("ble: add match: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	done := make(chan struct{})
	s.conn.Signal(signals)

	char := s.conn.Object(bluezService, notifyPath)
	if call := char.CallWithContext(ctx, charInterface+".StartNotify", 0); call.Err != nil {
		s.conn.RemoveSignal(signals)
		return fmt.Errorf("ble: start notify: %w", call.Err)
	}

	s.mu.Lock()
	s.signals = signals
	s.done = done
	s.notifying = true
	s.mu.Unlock()

	go s.pumpNotifications(signals, done, notifyPath, onData)
	return nil
}

// pumpNotifications translates PropertiesChanged signals carrying a Value
// property into raw byte chunks for the caller. It exits when the signal
// channel closes or Stop fires done.
func (s *BluezSession) pumpNotifications(signals chan *dbus.Signal, done chan struct{}, notifyPath dbus.ObjectPath, onData func([]byte)) {
	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil || sig.Path != notifyPath || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			if iface != charInterface {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			variant, ok := changed["Value"]
			if !ok {
				continue
			}
			if value, ok := variant.Value().([]byte); ok && len(value) > 0 {
				onData(value)
			}
		}
	}
}

func (s *BluezSession) Write(ctx context.Context, payload []byte, expectAck bool) error {
	s.mu.Lock()
	writePath := s.writePath
	s.mu.Unlock()
	if writePath == "" {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Write)
	defer cancel()

	writeType := "command"
	if expectAck {
		writeType = "request"
	}
	options := map[string]dbus.Variant{
		"type": dbus.MakeVariant(writeType),
	}
	char := s.conn.Object(bluezService, writePath)
	if call := char.CallWithContext(ctx, charInterface+".WriteValue", 0, payload, options); call.Err != nil {
		return fmt.Errorf("ble: write value: %w", call.Err)
	}
	return nil
}

// Connected reads the live Connected property so that a link dropped by the
// peer is noticed without waiting for a failed write.
func (s *BluezSession) Connected() bool {
	s.mu.Lock()
	devicePath := s.devicePath
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || devicePath == "" {
		return false
	}
	device := s.conn.Object(bluezService, devicePath)
	connected, err := device.GetProperty(deviceInterface + ".Connected")
	if err != nil {
		return false
	}
	v, ok := connected.Value().(bool)
	return ok && v
}

func (s *BluezSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	devicePath := s.devicePath
	notifyPath := s.notifyPath
	notifying := s.notifying
	signals := s.signals
	done := s.done
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if notifying && notifyPath != "" {
		char := s.conn.Object(bluezService, notifyPath)
		if call := char.Call(charInterface+".StopNotify", 0); call.Err != nil {
			log.Debug().Err(call.Err).Msg("ble stop notify failed")
		}
	}
	if signals != nil {
		s.conn.RemoveSignal(signals)
	}
	if devicePath != "" {
		device := s.conn.Object(bluezService, devicePath)
		if call := device.Call(deviceInterface+".Disconnect", 0); call.Err != nil {
			log.Debug().Err(call.Err).Str("address", s.target.Address).Msg("ble disconnect failed")
		}
	}
	if err := s.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("ble bus close failed")
	}
}
