package group

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/opd-ai/langroup/limits"
	"github.com/opd-ai/langroup/sequence"
	"github.com/opd-ai/langroup/transport"
)

// Default option values.
const (
	DefaultAddress            = "239.255.42.99"
	DefaultPort               = 45588
	DefaultProtocolID         = 0x4c47_0001
	DefaultHeartbeatInterval  = time.Second
	DefaultMemberTimeout      = 5 * time.Second
	DefaultReassemblyTimeout  = 30 * time.Second
	DefaultGapWait            = 500 * time.Millisecond
	DefaultMulticastTTL       = 1
	DefaultRetransmitHistory  = 1024
	DefaultMaxPendingMessages = 1024
)

// ErrInvalidOptions is wrapped by every error returned from Options.Validate.
var ErrInvalidOptions = errors.New("invalid group options")

// Options configures a Group. Obtain defaults from NewOptions and override
// what you need; the zero value is not valid.
type Options struct {
	// Group names the group. Groups with different names never see each
	// other's traffic even on a shared address and port.
	Group string `yaml:"group"`
	// ProtocolID multiplexes independent protocols over one channel.
	ProtocolID int32 `yaml:"protocol_id"`
	// Address is the IPv4 multicast group address.
	Address string `yaml:"address"`
	// Port is the UDP port of the channel.
	Port uint16 `yaml:"port"`
	// Interface optionally names the interface to join on.
	Interface string `yaml:"interface"`

	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	MemberTimeout     time.Duration   `yaml:"member_timeout"`
	ReassemblyTimeout time.Duration   `yaml:"reassembly_timeout"`
	GapWait           time.Duration   `yaml:"gap_wait"`
	MaxPacketPayload  int             `yaml:"max_packet_payload"`
	GapPolicy         sequence.Policy `yaml:"gap_policy"`

	MulticastTTL       int  `yaml:"multicast_ttl"`
	Loopback           bool `yaml:"loopback"`
	RetransmitHistory  int  `yaml:"retransmit_history"`
	MaxPendingMessages int  `yaml:"max_pending_messages"`

	// Logger receives every log entry of the group. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger `yaml:"-"`
	// Transport replaces the multicast socket, e.g. with a simnet transport.
	// The group takes ownership and closes it on Leave.
	Transport transport.Transport `yaml:"-"`
	// TimeProvider replaces the system clock.
	TimeProvider TimeProvider `yaml:"-"`
}

// NewOptions returns Options populated with defaults.
func NewOptions() *Options {
	return &Options{
		Group:              "default",
		ProtocolID:         DefaultProtocolID,
		Address:            DefaultAddress,
		Port:               DefaultPort,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		MemberTimeout:      DefaultMemberTimeout,
		ReassemblyTimeout:  DefaultReassemblyTimeout,
		GapWait:            DefaultGapWait,
		MaxPacketPayload:   limits.DefaultPacketPayload,
		GapPolicy:          sequence.Tolerate,
		MulticastTTL:       DefaultMulticastTTL,
		Loopback:           true,
		RetransmitHistory:  DefaultRetransmitHistory,
		MaxPendingMessages: DefaultMaxPendingMessages,
	}
}

// LoadOptions reads YAML from r on top of the defaults.
func LoadOptions(r io.Reader) (*Options, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}

	opts := NewOptions()
	if err := yaml.UnmarshalStrict(data, opts); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate checks that the options describe a usable group.
func (o *Options) Validate() error {
	if o.Group == "" {
		return fmt.Errorf("%w: group name cannot be empty", ErrInvalidOptions)
	}

	// the socket settings are irrelevant when a transport is supplied
	if o.Transport == nil {
		ip := net.ParseIP(o.Address)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("%w: %q is not an IPv4 multicast address", ErrInvalidOptions, o.Address)
		}
		if o.Port == 0 {
			return fmt.Errorf("%w: port cannot be 0", ErrInvalidOptions)
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"heartbeat_interval", o.HeartbeatInterval},
		{"member_timeout", o.MemberTimeout},
		{"reassembly_timeout", o.ReassemblyTimeout},
		{"gap_wait", o.GapWait},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidOptions, d.name, d.d)
		}
	}

	if err := limits.ValidatePacketPayload(o.MaxPacketPayload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.GapPolicy != sequence.Tolerate && o.GapPolicy != sequence.Retransmit {
		return fmt.Errorf("%w: unknown gap policy %s", ErrInvalidOptions, o.GapPolicy)
	}
	if o.RetransmitHistory <= 0 {
		return fmt.Errorf("%w: retransmit_history must be positive", ErrInvalidOptions)
	}
	if o.MaxPendingMessages <= 0 {
		return fmt.Errorf("%w: max_pending_messages must be positive", ErrInvalidOptions)
	}
	return nil
}

// sweepInterval is how often membership, reassembly and gap expiry run.
func (o *Options) sweepInterval() time.Duration {
	d := o.MemberTimeout / 3
	if d < minSweepInterval {
		d = minSweepInterval
	}
	return d
}

const minSweepInterval = 10 * time.Millisecond
