package rnat

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is fixed for the lifetime of a NAT instance.
type Config struct {
	// ICMPQueryTimeout bounds the idle time of an echo mapping.
	ICMPQueryTimeout time.Duration `yaml:"icmp_query_timeout"`

	// TCPEstablishedTimeout applies to connections where either half is
	// established, TCPTransitoryTimeout to all others.
	TCPEstablishedTimeout time.Duration `yaml:"tcp_established_timeout"`
	TCPTransitoryTimeout  time.Duration `yaml:"tcp_transitory_timeout"`

	// UnsolicitedTimeout is how long an inbound segment without a mapping is
	// held before a port unreachable is sent back.
	UnsolicitedTimeout time.Duration `yaml:"unsolicited_timeout"`

	// First external TCP port and ICMP id handed out.
	PortMin   uint16 `yaml:"port_min"`
	ICMPIDMin uint16 `yaml:"icmp_id_min"`

	InsideInterface  string `yaml:"inside_interface"`
	OutsideInterface string `yaml:"outside_interface"`
}

func DefaultConfig() Config {
	return Config{
		ICMPQueryTimeout:      60 * time.Second,
		TCPEstablishedTimeout: 7440 * time.Second,
		TCPTransitoryTimeout:  300 * time.Second,
		UnsolicitedTimeout:    6 * time.Second,
		PortMin:               1024,
		ICMPIDMin:             1,
		InsideInterface:       "eth1",
		OutsideInterface:      "eth2",
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.ICMPQueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("icmp_query_timeout must be positive, got %s", c.ICMPQueryTimeout))
	}
	if c.TCPEstablishedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tcp_established_timeout must be positive, got %s", c.TCPEstablishedTimeout))
	}
	if c.TCPTransitoryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tcp_transitory_timeout must be positive, got %s", c.TCPTransitoryTimeout))
	}
	if c.UnsolicitedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("unsolicited_timeout must be positive, got %s", c.UnsolicitedTimeout))
	}
	if c.PortMin == 0 {
		errs = append(errs, errors.New("port_min must be at least 1"))
	}
	if c.InsideInterface == "" || c.OutsideInterface == "" {
		errs = append(errs, errors.New("inside_interface and outside_interface are required"))
	} else if c.InsideInterface == c.OutsideInterface {
		errs = append(errs, fmt.Errorf("inside and outside interface are both %q", c.InsideInterface))
	}
	return errors.Join(errs...)
}

// timeoutFor returns the idle timeout applying to c.
func (c Config) timeoutFor(conn Connection) time.Duration {
	if conn.Established() {
		return c.TCPEstablishedTimeout
	}
	return c.TCPTransitoryTimeout
}

// ParseConfig overlays the YAML document data on DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
