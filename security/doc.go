// Package security builds the TLS settings of the camera API listener.
//
//	cfg := security.TLSConfig{
//	    CertFile:     "/etc/picam/cert.pem",
//	    KeyFile:      "/etc/picam/key.pem",
//	    ClientCAFile: "/etc/picam/clients.pem",
//	}
//	tlsConfig, err := cfg.Build()
//
// A config without a certificate builds to nil and the listener stays in
// cleartext.
package security
