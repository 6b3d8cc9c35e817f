package tlsroots

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Keypair serves a certificate that is reloaded when its files change.
// A failed reload keeps the previous certificate.
type Keypair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate
}

// KeypairOption configures a Keypair.
type KeypairOption func(*Keypair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) KeypairOption {
	return func(k *Keypair) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithDebounce sets how long to wait for a burst of file events to settle.
func WithDebounce(d time.Duration) KeypairOption {
	return func(k *Keypair) {
		k.debounce = d
	}
}

// NewKeypair loads the key pair.
func NewKeypair(certFile, keyFile string, opts ...KeypairOption) (*Keypair, error) {
	k := &Keypair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return k, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

// NotAfter returns the expiry of the current certificate.
func (k *Keypair) NotAfter() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.cert == nil || k.cert.Leaf == nil {
		return time.Time{}
	}
	return k.cert.Leaf.NotAfter
}

// ServerConfig returns a server TLS configuration using the key pair.
func (k *Keypair) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: k.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Watch reloads the key pair on file changes until ctx is done. The
// directories are watched so that replacement by rename is noticed.
func (k *Keypair) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]struct{}{
		filepath.Dir(k.certFile): {},
		filepath.Dir(k.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	k.logger.Info("certificate watcher started", "cert_file", k.certFile, "key_file", k.keyFile)

	names := map[string]struct{}{
		filepath.Base(k.certFile): {},
		filepath.Base(k.keyFile):  {},
	}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ours := names[filepath.Base(event.Name)]; !ours {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			k.logger.Debug("certificate file changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(k.debounce)
		case <-timer.C:
			if err := k.reload(); err != nil {
				k.logger.Error("certificate reload failed, keeping the previous one",
					"error", err, "cert_file", k.certFile)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			k.logger.Error("certificate watcher error", "error", err)
		}
	}
}

func (k *Keypair) reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}

	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()

	attrs := []any{"cert_file", k.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "not_after", cert.Leaf.NotAfter)
		if time.Until(cert.Leaf.NotAfter) < 14*24*time.Hour {
			k.logger.Warn("certificate expires soon", attrs...)
		}
	}
	k.logger.Info("certificate loaded", attrs...)
	return nil
}
