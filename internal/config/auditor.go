package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Name parameters accepted in COMPLIANCE_XMLNAME_PARAMS_ORDERED.
const (
	ParamHostname = "router_hostname"
	ParamIP       = "router_ip"
	ParamMgmtIP   = "router_mgmt_ip" // alias of router_ip
)

// Server connection types.
const (
	ConnectionIP         = "IP"
	ConnectionDomainName = "DOMAIN_NAME"
)

// Config is the auditor configuration shared by all binaries.
type Config struct {
	XR               DomainConfig `yaml:"XR"`
	Admin            DomainConfig `yaml:"ADMIN"`
	Host             DomainConfig `yaml:"HOST"`
	Collector        DomainConfig `yaml:"COLLECTOR"`
	StandbyInstaller DomainConfig `yaml:"STANDBY_INSTALLER"`
	RootLRUser       string       `yaml:"ROOT_LR_USER"`
	Server           ServerConfig `yaml:"SERVER_CONFIG"`
	Syslog           SyslogConfig `yaml:"SYSLOG"`
	Log              LogConfig    `yaml:"LOG"`
	Wait             WaitConfig   `yaml:"WAIT"`
	LedgerPath       string       `yaml:"LEDGER_PATH" validate:"required"`
}

// DomainConfig locates one binary and its outputs.
type DomainConfig struct {
	SrcDir         string `yaml:"srcDir" validate:"required"`
	AppDir         string `yaml:"appDir" validate:"required"`
	AppName        string `yaml:"appName" validate:"required"`
	CronName       string `yaml:"cronName"`
	CronPrefix     string `yaml:"cronPrefix"`
	OutputXMLDir   string `yaml:"output_xml_dir"`
	OutputXMLDirXR string `yaml:"output_xml_dir_xr"` // XR-visible directory the admin dump is published to
}

// ServerConfig describes where merged bundles are shipped.
type ServerConfig struct {
	IDRSAFile       string     `yaml:"ID_RSA_FILE_PATH"`
	IDRSAXRFile     string     `yaml:"ID_RSA_XR_LXC_FILE_PATH"`
	User            string     `yaml:"USER"`
	RemoteDirectory string     `yaml:"REMOTE_DIRECTORY"`
	Host            ServerHost `yaml:"SERVER_HOST"`
	SSHPort         int        `yaml:"SERVER_SSH_PORT" validate:"gte=1,lte=65535"`
	NameParams      []string   `yaml:"COMPLIANCE_XMLNAME_PARAMS_ORDERED" validate:"dive,oneof=router_hostname router_ip router_mgmt_ip"`
	VRF             string     `yaml:"VRF" validate:"required"`
	TimeoutSeconds  int        `yaml:"TIMEOUT_SECONDS" validate:"gte=1"`
}

// ServerHost is the remote server address.
type ServerHost struct {
	Connection       string `yaml:"CONNECTION"`
	ConnectionType   string `yaml:"CONNECTION_TYPE" validate:"omitempty,oneof=IP DOMAIN_NAME"`
	DomainNameServer string `yaml:"DOMAIN_NAME_SERVER" validate:"required_if=ConnectionType DOMAIN_NAME"`
}

// SyslogConfig points at the central syslog sink. An empty server disables it.
type SyslogConfig struct {
	Server string `yaml:"SERVER"`
	Port   int    `yaml:"PORT" validate:"omitempty,gte=1,lte=65535"`
}

// LogConfig controls the rotating local log.
type LogConfig struct {
	Dir        string `yaml:"DIR" validate:"required"`
	MaxSizeMB  int    `yaml:"MAX_SIZE_MB" validate:"gte=1"`
	MaxBackups int    `yaml:"MAX_BACKUPS" validate:"gte=0"`
}

// WaitConfig bounds the two polling loops.
type WaitConfig struct {
	OpenFileCount       int `yaml:"OPEN_FILE_WAIT_COUNT" validate:"gte=1"`
	OpenFileInterval    int `yaml:"OPEN_FILE_WAIT_INTERVAL" validate:"gte=0"`
	XMLCreationCount    int `yaml:"DOMAIN_XML_CREATION_WAIT_COUNT" validate:"gte=1"`
	XMLCreationInterval int `yaml:"DOMAIN_XML_CREATION_WAIT_INTERVAL" validate:"gte=0"`
}

// OpenFileWait returns the spacing between process-release checks.
func (w WaitConfig) OpenFileWait() time.Duration {
	return time.Duration(w.OpenFileInterval) * time.Second
}

// XMLCreationWait returns the spacing between file-existence checks.
func (w WaitConfig) XMLCreationWait() time.Duration {
	return time.Duration(w.XMLCreationInterval) * time.Second
}

// Enabled reports whether a remote server is configured.
func (s ServerConfig) Enabled() bool {
	return s.Host.Connection != ""
}

// Timeout returns the transfer timeout.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		XR: DomainConfig{
			SrcDir: "/misc/scratch", AppDir: "/misc/scratch", AppName: "audit_xr.bin",
			CronName: "audit_xr.cron", CronPrefix: "audit_cron_xr_",
			OutputXMLDir: "/misc/app_host",
		},
		Admin: DomainConfig{
			SrcDir: "/misc/scratch", AppDir: "/misc/scratch", AppName: "audit_admin.bin",
			CronName: "audit_admin.cron", CronPrefix: "audit_cron_admin_",
			OutputXMLDir: "/misc/scratch", OutputXMLDirXR: "/misc/app_host",
		},
		Host: DomainConfig{
			SrcDir: "/misc/scratch", AppDir: "/misc/scratch", AppName: "audit_host.bin",
			CronName: "audit_host.cron", CronPrefix: "audit_cron_host_",
			OutputXMLDir: "/misc/app_host",
		},
		Collector: DomainConfig{
			SrcDir: "/misc/scratch", AppDir: "/misc/scratch", AppName: "collector.bin",
			CronName: "audit_collector.cron", CronPrefix: "audit_cron_collector_",
			OutputXMLDir: "/misc/app_host",
		},
		StandbyInstaller: DomainConfig{
			SrcDir: "/misc/scratch", AppDir: "/misc/scratch", AppName: "auditor",
		},
		Server: ServerConfig{
			SSHPort:        22,
			NameParams:     []string{ParamHostname, ParamIP},
			VRF:            "global-vrf",
			TimeoutSeconds: 10,
		},
		Log: LogConfig{
			Dir:        "/tmp",
			MaxSizeMB:  5,
			MaxBackups: 3,
		},
		Wait: WaitConfig{
			OpenFileCount:       10,
			OpenFileInterval:    5,
			XMLCreationCount:    5,
			XMLCreationInterval: 5,
		},
		LedgerPath: "/misc/app_host/auditor/ledger.db",
	}
}

// Domain returns the configuration section for an audit domain name.
func (c *Config) Domain(name string) (DomainConfig, error) {
	switch name {
	case "XR-LXC":
		return c.XR, nil
	case "ADMIN-LXC":
		return c.Admin, nil
	case "HOST":
		return c.Host, nil
	default:
		return DomainConfig{}, fmt.Errorf("unknown domain %q", name)
	}
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid auditor configuration: %w", err)
	}
	if c.Server.Enabled() && (c.Server.User == "" || c.Server.RemoteDirectory == "") {
		return errors.New("invalid auditor configuration: SERVER_CONFIG needs USER and REMOTE_DIRECTORY")
	}
	return nil
}

// Parse overlays YAML data on the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse auditor configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the auditor configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auditor configuration: %w", err)
	}
	return Parse(data)
}
