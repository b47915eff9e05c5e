package rpc

import (
	"time"

	"github.com/alexflint/go-arg"
)

// Config holds the RPC-relevant subset of startup configuration (§6);
// loading the surrounding torrent client/CLI config is out of scope here
// per §1.
type Config struct {
	Port            uint16        `arg:"--rpc-port,env:TORMENTA_RPC_PORT" default:"7077" help:"TCP port the RPC station listens on"`
	UploadSizeCap   int64         `arg:"--upload-cap,env:TORMENTA_UPLOAD_CAP" default:"10485760" help:"upload body size cap in bytes (the Reactor does not check Content-Length against it)"`
	TokenLifetime   time.Duration `arg:"--token-ttl,env:TORMENTA_TOKEN_TTL" default:"1m" help:"how long an issued upload token stays valid"`
	IdleTimeout     time.Duration `arg:"--idle-timeout,env:TORMENTA_IDLE_TIMEOUT" default:"2m" help:"idle deadline for upgraded WebSocket clients"`
	PollInterval    time.Duration `arg:"--poll-interval,env:TORMENTA_POLL_INTERVAL" default:"1s" help:"maximum epoll wait per reactor tick"`
	CleanupInterval time.Duration `arg:"--cleanup-interval,env:TORMENTA_CLEANUP_INTERVAL" default:"2s" help:"interval between cleanup ticks"`
}

// LoadConfig parses Config from flags and environment variables, the way
// the teacher's CLI layer would declare its own arg-tagged struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := arg.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
