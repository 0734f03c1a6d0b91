package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a recoverable failure surfaced to the user.
type Kind string

const (
	KindPermissionDenied           Kind = "permission_denied"
	KindAdapterDisabled            Kind = "adapter_disabled"
	KindServiceNotSupported        Kind = "service_not_supported"
	KindCharacteristicNotSupported Kind = "characteristic_not_supported"
	KindConnectionLost             Kind = "connection_lost"
	KindNotConnected               Kind = "not_connected"
	KindPersistenceFailure         Kind = "persistence_failure"
	KindBusy                       Kind = "busy"
	KindUnsupportedPlatform        Kind = "unsupported_platform"
)

// Error is a classified BLE or recording failure.
type Error struct {
	Kind Kind
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(string(e.Kind), "_", " "), e.Msg)
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per Kind
var (
	ErrPermissionDenied           = &Error{Kind: KindPermissionDenied}
	ErrAdapterDisabled            = &Error{Kind: KindAdapterDisabled}
	ErrServiceNotSupported        = &Error{Kind: KindServiceNotSupported}
	ErrCharacteristicNotSupported = &Error{Kind: KindCharacteristicNotSupported}
	ErrConnectionLost             = &Error{Kind: KindConnectionLost}
	ErrNotConnected               = &Error{Kind: KindNotConnected}
	ErrPersistenceFailure         = &Error{Kind: KindPersistenceFailure}
	ErrBusy                       = &Error{Kind: KindBusy}
	ErrUnsupportedPlatform        = &Error{Kind: KindUnsupportedPlatform}
)

// NewError returns an Error of the given kind with a descriptive message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err. Errors that carry no classification are
// treated as a lost connection, the catch-all for transport failures.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.kind()
	}
	return KindConnectionLost
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Unwrap maps the missing resource to its sentinel so errors.Is works.
func (e *NotFoundError) Unwrap() error {
	if e.kind() == KindServiceNotSupported {
		return ErrServiceNotSupported
	}
	return ErrCharacteristicNotSupported
}

func (e *NotFoundError) kind() Kind {
	if e.Resource == "service" {
		return KindServiceNotSupported
	}
	return KindCharacteristicNotSupported
}

// Advertisement is one advertising report received while scanning.
type Advertisement struct {
	Address  string
	Name     string
	RSSI     int
	Services []string // normalized UUIDs
}

// Peripheral is a discovered BLE device. Address is its identity; Name is
// best-effort and may be empty when the OS redacts it.
type Peripheral struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// DisplayName returns Name, falling back to Address.
func (p Peripheral) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

// Central is the local radio acting in the GATT client role.
type Central interface {
	// Ready reports whether the radio can be used: ErrPermissionDenied when
	// runtime permissions are missing, ErrAdapterDisabled when it is off.
	Ready() error
	// Scan reports advertisements that carry serviceUUID until ctx is done.
	// It returns nil when stopped through ctx.
	Scan(ctx context.Context, serviceUUID string, handler func(Advertisement)) error
	// Connect opens a link to address. It blocks until the link is up, fails,
	// or ctx is done.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is an established connection to a peripheral.
type Link interface {
	Address() string
	// Discover enumerates the GATT services and characteristics.
	Discover(ctx context.Context) (*Profile, error)
	// Subscribe enables notifications on a characteristic by writing its
	// client characteristic configuration descriptor. handler runs on a
	// transport goroutine and must not retain data.
	Subscribe(ctx context.Context, serviceUUID, charUUID string, handler func(data []byte)) error
	// Disconnected is closed when the peripheral drops the link.
	Disconnected() <-chan struct{}
	// Close cancels subscriptions and tears the link down. Safe to call twice.
	Close() error
}

// Profile is the discovered GATT layout of a peripheral.
type Profile struct {
	Services []ServiceInfo
}

// ServiceInfo describes a discovered service.
type ServiceInfo struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo describes a discovered characteristic.
type CharacteristicInfo struct {
	UUID     string
	Notify   bool
	Indicate bool
}

// Find locates a characteristic within a service. It returns a NotFoundError
// naming whichever level is missing.
func (p *Profile) Find(serviceUUID, charUUID string) (CharacteristicInfo, error) {
	if p != nil {
		for _, svc := range p.Services {
			if !SameUUID(svc.UUID, serviceUUID) {
				continue
			}
			for _, c := range svc.Characteristics {
				if SameUUID(c.UUID, charUUID) {
					return c, nil
				}
			}
			return CharacteristicInfo{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
		}
	}
	return CharacteristicInfo{}, &NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}
