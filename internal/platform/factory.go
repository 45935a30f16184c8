package platform

import (
	"context"
	"fmt"

	"crossbench/internal/config"
)

// New builds the platform described by cfg. Remote platforms hold a
// connection; callers should Close them through io.Closer when done.
func New(ctx context.Context, cfg config.PlatformConfig) (Platform, error) {
	switch cfg.Type {
	case "", config.PlatformLocal:
		return NewLocal(), nil
	case config.PlatformADB:
		return NewADB(cfg.Serial, cfg.ADBPath), nil
	case config.PlatformSSH:
		return DialSSH(ctx, SSHConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			User:       cfg.User,
			KeyFile:    cfg.KeyFile,
			KnownHosts: cfg.KnownHosts,
		})
	case config.PlatformDocker:
		return NewDocker(ctx, DockerConfig{
			Container: cfg.Container,
			Host:      cfg.DockerHost,
			TLSCA:     cfg.TLSCA,
			TLSCert:   cfg.TLSCert,
			TLSKey:    cfg.TLSKey,
		})
	default:
		return nil, fmt.Errorf("unknown platform type %q", cfg.Type)
	}
}
