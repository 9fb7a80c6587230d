// Package ipc exposes the controller's manual overrides on D-Bus.
package ipc

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/logging"
)

const (
	// BusName is both the well-known name and the interface name.
	BusName = "io.github.kiosk_control"
	// ObjectPath is where the service is exported.
	ObjectPath dbus.ObjectPath = "/io/github/kiosk_control"
)

// Handler receives decoded requests. The controller implements it.
type Handler interface {
	SetView(name string) bool
	SetAuto()
	Next()
	Prev()
	Wake(reason string)
	Sleep(reason string) error
	PowerOff(reason string) bool
}

// Service is the exported D-Bus object. Every method returns true except
// PowerOff, which reports whether the power-off command was dispatched.
type Service struct {
	h   Handler
	log zerolog.Logger
}

// NewService wraps h for export.
func NewService(h Handler, log zerolog.Logger) *Service {
	return &Service{h: h, log: log}
}

func (s *Service) SetView(view string) (bool, *dbus.Error) {
	if !s.h.SetView(view) {
		s.log.Warn().Str("view", view).Msg("SetView: unknown view ignored")
	}
	return true, nil
}

func (s *Service) SetAuto() (bool, *dbus.Error) {
	s.h.SetAuto()
	return true, nil
}

func (s *Service) Next() (bool, *dbus.Error) {
	s.h.Next()
	return true, nil
}

func (s *Service) Prev() (bool, *dbus.Error) {
	s.h.Prev()
	return true, nil
}

func (s *Service) Wake(reason string) (bool, *dbus.Error) {
	s.h.Wake(reason)
	return true, nil
}

func (s *Service) Sleep(reason string) (bool, *dbus.Error) {
	if err := s.h.Sleep(reason); err != nil {
		s.log.Info().Err(err).Str("reason", reason).Msg("Sleep ignored")
	}
	return true, nil
}

func (s *Service) PowerOff(reason string) (bool, *dbus.Error) {
	return s.h.PowerOff(reason), nil
}

// IntrospectXML describes the exported object.
func IntrospectXML() string {
	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: BusName, Methods: introspect.Methods(&Service{})},
		},
	}
	return string(introspect.NewIntrospectable(node))
}

// Bus selects which message bus to connect to.
type Bus string

const (
	SessionBus Bus = "session"
	SystemBus  Bus = "system"
)

func connect(bus Bus) (*dbus.Conn, error) {
	switch bus {
	case "", SessionBus:
		return dbus.ConnectSessionBus()
	case SystemBus:
		return dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("ipc: unknown bus %q", bus)
	}
}

// ErrNameTaken is returned when another process owns BusName.
var ErrNameTaken = errors.New("ipc: bus name already owned")

// Server owns the bus connection for an exported Service.
type Server struct {
	conn *dbus.Conn
	log  zerolog.Logger
}

// Listen connects to bus, exports h and claims BusName.
func Listen(bus Bus, h Handler, log zerolog.Logger) (*Server, error) {
	log = logging.Component(log, "ipc")
	conn, err := connect(bus)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect %s bus: %w", bus, err)
	}
	if err := export(conn, NewService(h, log)); err != nil {
		conn.Close()
		return nil, err
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrNameTaken
	}
	log.Info().Str("name", BusName).Str("bus", string(bus)).Msg("listening")
	return &Server{conn: conn, log: log}, nil
}

func export(conn *dbus.Conn, svc *Service) error {
	if err := conn.Export(svc, ObjectPath, BusName); err != nil {
		return fmt.Errorf("ipc: export: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(IntrospectXML()), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("ipc: export introspection: %w", err)
	}
	return nil
}

// Close releases BusName and closes the connection.
func (s *Server) Close() error {
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.log.Debug().Err(err).Msg("release name")
	}
	return s.conn.Close()
}
