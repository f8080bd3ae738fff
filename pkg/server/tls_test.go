package server

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadTLSConfig(t *testing.T) {
	t.Run("missing files", func(t *testing.T) {
		if _, err := LoadTLSConfig("/missing/server.crt", "/missing/server.key", ""); err == nil {
			t.Fatal("expected error for missing certificate files")
		}
	})

	t.Run("key file required", func(t *testing.T) {
		if _, err := LoadTLSConfig("server.crt", "", ""); err == nil {
			t.Fatal("expected error without key file")
		}
	})

	t.Run("invalid client CA", func(t *testing.T) {
		dir := t.TempDir()
		certs := writeTestCertificates(t, dir)
		caPath := filepath.Join(dir, "invalid-ca.crt")
		if err := os.WriteFile(caPath, []byte("not-a-pem"), 0o600); err != nil {
			t.Fatalf("failed to write invalid CA file: %v", err)
		}
		if _, err := LoadTLSConfig(certs.certFile, certs.keyFile, caPath); err == nil {
			t.Fatal("expected error for invalid CA file")
		}
	})

	t.Run("server only", func(t *testing.T) {
		certs := writeTestCertificates(t, t.TempDir())
		cfg, err := LoadTLSConfig(certs.certFile, certs.keyFile, "")
		if err != nil {
			t.Fatalf("expected valid TLS config, got error: %v", err)
		}
		if cfg.MinVersion != tls.VersionTLS12 {
			t.Fatalf("expected TLS min version 1.2, got %d", cfg.MinVersion)
		}
		if cfg.ClientAuth != tls.NoClientCert || cfg.ClientCAs != nil {
			t.Fatalf("expected no client authentication, got %v", cfg.ClientAuth)
		}
	})

	t.Run("mutual TLS", func(t *testing.T) {
		certs := writeTestCertificates(t, t.TempDir())
		cfg, err := LoadTLSConfig(certs.certFile, certs.keyFile, certs.caFile)
		if err != nil {
			t.Fatalf("expected valid TLS config, got error: %v", err)
		}
		if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
			t.Fatalf("expected verified client certificates, got %v", cfg.ClientAuth)
		}
	})
}

func TestServerServesMutualTLS(t *testing.T) {
	certs := writeTestCertificates(t, t.TempDir())
	serverTLS, err := LoadTLSConfig(certs.certFile, certs.keyFile, certs.caFile)
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv, _, cancel, errChan := startServer(t, Config{TLS: serverTLS}, mux)
	_, port, _ := net.SplitHostPort(srv.Addr())
	url := "https://127.0.0.1:" + port + "/healthz"

	caBytes, err := os.ReadFile(certs.caFile)
	if err != nil {
		t.Fatalf("read CA: %v", err)
	}
	roots := x509.NewCertPool()
	roots.AppendCertsFromPEM(caBytes)

	anonymous := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: roots}},
	}
	if resp, err := anonymous.Get(url); err == nil {
		resp.Body.Close()
		t.Fatal("expected handshake failure without a client certificate")
	}

	clientCert, err := tls.LoadX509KeyPair(certs.clientCert, certs.clientKey)
	if err != nil {
		t.Fatalf("load client cert: %v", err)
	}
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:      roots,
			Certificates: []tls.Certificate{clientCert},
		}},
	}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("mTLS request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	if err := <-errChan; err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
