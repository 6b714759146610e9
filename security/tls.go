package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds the server side TLS settings.
type TLSConfig struct {
	// CertFile and KeyFile hold the PEM certificate chain and key presented
	// to clients. Both or neither must be set.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`

	// ClientCAFile enables client certificate verification against the CAs
	// it contains.
	ClientCAFile string `yaml:"client_ca_file" mapstructure:"client_ca_file"`
	// RequireClientCert rejects clients without a verified certificate.
	// Without it a certificate is verified only when presented.
	RequireClientCert bool `yaml:"require_client_cert" mapstructure:"require_client_cert"`

	// MinVersion is "1.2" or "1.3". Defaults to 1.2.
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`
}

var versions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// Enabled reports whether a certificate is configured.
func (c *TLSConfig) Enabled() bool {
	return c != nil && c.CertFile != ""
}

// Validate checks that the settings are consistent.
func (c *TLSConfig) Validate() error {
	if c == nil {
		return nil
	}
	if (c.CertFile != "") != (c.KeyFile != "") {
		return fmt.Errorf("security/tls: cert_file and key_file must be provided together")
	}
	if c.CertFile == "" && (c.ClientCAFile != "" || c.RequireClientCert) {
		return fmt.Errorf("security/tls: client verification needs cert_file")
	}
	if c.RequireClientCert && c.ClientCAFile == "" {
		return fmt.Errorf("security/tls: require_client_cert needs client_ca_file")
	}
	if _, ok := versions[c.MinVersion]; !ok {
		return fmt.Errorf("security/tls: unsupported min_version %q", c.MinVersion)
	}
	return nil
}

// Build loads the certificate and client CAs. It returns nil when TLS is
// not enabled.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("security/tls: failed to load certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   versions[c.MinVersion],
	}
	if err := c.loadClientCAs(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *TLSConfig) loadClientCAs(cfg *tls.Config) error {
	if c.ClientCAFile == "" {
		return nil
	}
	ca, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return fmt.Errorf("security/tls: failed to read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return fmt.Errorf("security/tls: failed to parse client CA certificate")
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	if c.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return nil
}
