package cmd

import "testing"

func TestRegisterFlagsSetsDefaults(t *testing.T) {
	RegisterFlags()

	pf := rootCmd.PersistentFlags()
	port, err := pf.GetInt("port")
	if err != nil {
		t.Fatalf("expected port flag to be registered: %v", err)
	}
	if port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, port)
	}
}

func TestCreateEnvReplacer(t *testing.T) {
	r := createEnvReplacer()
	if got := r.Replace("TLS-CERT.FILE"); got != "TLS_CERT_FILE" {
		t.Errorf("unexpected replacement: %s", got)
	}
}
