package config

import (
	"fmt"
	"net"
	"time"
)

type Config struct {
	ServerAddr string
	// PublicHost and PublicPort are written into invite links.
	PublicHost      string
	PublicPort      string
	AllowedOrigins  []string
	RoomIdleTimeout time.Duration
	StaticDir       string
}

func NewConfig(serverAddr, publicHost string, allowedOrigins []string, roomIdleTimeout time.Duration, staticDir string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	_, port, err := net.SplitHostPort(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	if port == "" {
		return nil, fmt.Errorf("server address must include a port")
	}

	if roomIdleTimeout < 0 {
		return nil, fmt.Errorf("room idle timeout cannot be negative")
	}

	return &Config{
		ServerAddr:      serverAddr,
		PublicHost:      publicHost,
		PublicPort:      port,
		AllowedOrigins:  allowedOrigins,
		RoomIdleTimeout: roomIdleTimeout,
		StaticDir:       staticDir,
	}, nil
}
